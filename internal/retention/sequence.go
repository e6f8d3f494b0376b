package retention

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Sequence allocates strictly increasing ordering keys. The counter is
// persisted write-ahead: it is saved before the key is handed out, so a
// crash between allocation and use can never lead to a reused key after
// restart. The timestamp component never moves backward even if the
// wall clock does.
type Sequence struct {
	mu         sync.Mutex
	store      Store
	lastMillis int64
	counter    uint32

	// now is swappable for tests.
	now func() time.Time
}

// NewSequence creates a key allocator seeded from the store's persisted
// counter, so keys issued after a restart continue the previous
// session's ordering.
func NewSequence(ctx context.Context, store Store) (*Sequence, error) {
	last, err := store.LastCounter(ctx)
	if err != nil {
		return nil, fmt.Errorf("seeding ordering sequence: %w", err)
	}
	return &Sequence{
		store:   store,
		counter: last,
		now:     time.Now,
	}, nil
}

// Next allocates the next ordering key. The counter is durably saved
// before the key is returned.
func (s *Sequence) Next(ctx context.Context) (Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counter == math.MaxUint32 {
		return Key{}, ErrCounterExhausted
	}
	next := s.counter + 1
	if err := s.store.SaveLastCounter(ctx, next); err != nil {
		return Key{}, fmt.Errorf("persisting ordering counter: %w", err)
	}
	s.counter = next

	millis := s.now().UnixMilli()
	if millis < s.lastMillis {
		// Clock went backward; pin the timestamp so keys stay ordered.
		millis = s.lastMillis
	}
	s.lastMillis = millis

	return Key{TimestampMillis: millis, Counter: next}, nil
}
