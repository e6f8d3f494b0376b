// Package client is the application-facing facade: validated sends on
// datastream interfaces, both individual values and object aggregates,
// and persisted property writes.
//
// Every send resolves its path against the interface registry,
// type-checks the value against the mapping, encodes it, and hands it
// to the store-and-forward queue. The caller never talks to the
// transport directly and never observes connectivity: an offline device
// accepts sends exactly like an online one.
//
// The facade also terminates realm-to-device traffic: values pushed on
// server-owned interfaces and the session-start property snapshot that
// prunes the local cache.
package client
