// Package retention implements store-and-forward delivery for outbound
// messages on intermittently connected devices.
//
// Messages submitted while offline are written to a durable SQLite log
// together with a snapshot of the interface mapping they were validated
// against. When the transport reconnects, the backlog is replayed
// oldest-first before new traffic, each record re-validated against the
// live interface set, and confirmed records are garbage-collected.
//
// Ordering is anchored by a composite key of enqueue wall-clock time
// and a strictly increasing counter. The counter is persisted
// write-ahead so a crash can never reuse a key, and the timestamp
// component is pinned against backward clock adjustments.
//
// Under storage pressure the store evicts in a fixed order: expired
// records, then the oldest unreliable, then the oldest guaranteed.
// Unique-reliability records are never evicted; when only those remain
// the submit fails with ErrStorageFull.
package retention
