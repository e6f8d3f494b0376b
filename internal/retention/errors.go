package retention

import "errors"

// Domain errors for the retention package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, retention.ErrStorageFull) {
//	    // eviction could not free space, surface a capacity error
//	}
var (
	// ErrStorageFull is returned when the store is at capacity and the
	// eviction policy could not free space without touching a
	// unique-reliability record.
	ErrStorageFull = errors.New("retention: storage full")

	// ErrMappingMissing is returned when appending a record whose
	// (interface, path) has no mapping snapshot in the store.
	ErrMappingMissing = errors.New("retention: mapping not in store")

	// ErrClosed is returned when submitting to a queue manager that has
	// been shut down.
	ErrClosed = errors.New("retention: queue manager closed")

	// ErrCounterExhausted is returned if the session ordering counter
	// would wrap around.
	ErrCounterExhausted = errors.New("retention: ordering counter exhausted")
)
