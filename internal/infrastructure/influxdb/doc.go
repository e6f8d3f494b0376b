// Package influxdb implements the optional local telemetry mirror.
//
// When enabled, datastream samples and the retention backlog size are
// written to a local InfluxDB bucket alongside normal transmission, so
// an installation can be inspected on-site without access to the realm.
// The mirror is strictly best-effort: writes are non-blocking, batched,
// and dropped while the mirror is unreachable.
package influxdb
