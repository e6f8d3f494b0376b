package retention

import (
	"fmt"

	"github.com/tidemark-io/tidemark-edge/internal/interfaces"
)

// Key is the composite ordering key of a retention record. It is
// strictly monotonically increasing per device session: Timestamp is
// wall-clock for ordering against future records, Counter is the
// tie-break and the strict-increase guarantee across clock adjustments.
type Key struct {
	// TimestampMillis is the enqueue wall-clock time in Unix milliseconds.
	TimestampMillis int64

	// Counter disambiguates same-millisecond bursts and never goes
	// backward within or across sessions.
	Counter uint32
}

// Less reports whether k orders before other in replay order.
func (k Key) Less(other Key) bool {
	if k.TimestampMillis != other.TimestampMillis {
		return k.TimestampMillis < other.TimestampMillis
	}
	return k.Counter < other.Counter
}

// String formats the key for logging.
func (k Key) String() string {
	return fmt.Sprintf("%d/%d", k.TimestampMillis, k.Counter)
}

// Mapping is the snapshot of an interface mapping persisted alongside
// its records. Stored records are re-validated against the live
// registry at drain time using the major version captured here.
type Mapping struct {
	InterfaceName string
	Path          string
	Reliability   interfaces.Reliability
	MajorVersion  int

	// ExpirySec is the retention deadline in seconds from enqueue.
	// 0 means stored messages for this mapping never expire.
	ExpirySec int
}

// Record is one outbound message awaiting or pending confirmation.
type Record struct {
	Key           Key
	InterfaceName string
	Path          string

	// Payload is the codec output. Opaque to the store.
	Payload []byte

	// Sent is false while the record awaits first transmission or
	// confirmation, true once transmitted and acknowledged.
	Sent bool

	// ExpiryUnixSec is the absolute expiry deadline in Unix seconds.
	// nil means the record never expires.
	ExpiryUnixSec *int64

	// Reliability and MajorVersion are joined in from the mapping
	// snapshot on fetch; they are not stored per record.
	Reliability  interfaces.Reliability
	MajorVersion int
}
