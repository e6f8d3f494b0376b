package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tidemark-io/tidemark-edge/internal/infrastructure/metrics"
	"github.com/tidemark-io/tidemark-edge/internal/interfaces"
)

// Logger interface for queue manager logging.
// Allows integration with the application's logging infrastructure.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log messages (used when no logger provided).
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// State is the queue manager connectivity state.
type State int

const (
	// StateDisconnected: no transport. Everything submitted is stored.
	StateDisconnected State = iota

	// StateConnected: transport is up and the backlog is drained. New
	// submissions may be sent immediately.
	StateConnected

	// StateDraining: transport just came up and stored records are
	// being replayed in order. New submissions are stored behind the
	// backlog so ordering holds.
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Publisher is the transport boundary the queue manager sends through.
// Implementations map reliability to the transport's delivery guarantee
// and must not return until the guarantee is met (or failed).
type Publisher interface {
	// IsConnected reports whether the transport currently has a live
	// connection.
	IsConnected() bool

	// Publish transmits one message. For guaranteed and unique
	// reliability it returns only after broker acknowledgement.
	Publish(ctx context.Context, interfaceName, path string, payload []byte, reliability interfaces.Reliability) error
}

// Resolver re-validates stored records against the live interface set
// at replay time.
type Resolver interface {
	Resolve(interfaceName, path string) (interfaces.ResolvedMapping, error)
}

// QueueManagerConfig holds queue manager tuning parameters.
type QueueManagerConfig struct {
	// BatchLimit bounds how many records one drain iteration fetches.
	BatchLimit int

	// PublishTimeout bounds each transport send. Zero means no bound
	// beyond the caller's context.
	PublishTimeout time.Duration
}

// QueueManager coordinates the retention store, the ordering sequence
// and the transport. It guarantees that stored records are replayed in
// enqueue order before newer traffic, and that a transport failure
// mid-drain aborts the drain rather than skipping records.
type QueueManager struct {
	store     Store
	seq       *Sequence
	publisher Publisher
	resolver  Resolver
	logger    Logger
	metrics   *metrics.Retention

	batchLimit     int
	publishTimeout time.Duration

	mu     sync.Mutex
	state  State
	closed bool

	drainWG sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewQueueManager creates a queue manager in the disconnected state.
// metrics may be nil, in which case no metrics are recorded.
func NewQueueManager(store Store, seq *Sequence, publisher Publisher, resolver Resolver, cfg QueueManagerConfig, logger Logger, m *metrics.Retention) *QueueManager {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &QueueManager{
		store:          store,
		seq:            seq,
		publisher:      publisher,
		resolver:       resolver,
		logger:         logger,
		metrics:        m,
		batchLimit:     cfg.BatchLimit,
		publishTimeout: cfg.PublishTimeout,
		state:          StateDisconnected,
		baseCtx:        ctx,
		cancel:         cancel,
	}
}

// State returns the current connectivity state.
func (q *QueueManager) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Submit accepts one outbound message. Unreliable messages are sent
// directly when the transport is up and drained; everything else is
// durably stored first, then sent immediately if possible. Returns
// ErrStorageFull when the store is at capacity and eviction could not
// free space.
func (q *QueueManager) Submit(ctx context.Context, m interfaces.ResolvedMapping, payload []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	state := q.state
	q.mu.Unlock()

	key, err := q.seq.Next(ctx)
	if err != nil {
		return err
	}

	// Fire-and-forget traffic skips the store entirely while the
	// connection is healthy; a failed attempt falls through to storage.
	if state == StateConnected && m.Reliability == interfaces.ReliabilityUnreliable {
		if err := q.publish(ctx, m.InterfaceName, m.Path, payload, m.Reliability); err == nil {
			q.metrics.IncSent()
			return nil
		}
		q.logger.Debug("direct send failed, storing for retry",
			"interface", m.InterfaceName, "path", m.Path)
	}

	if err := q.store.EnsureMapping(ctx, Mapping{
		InterfaceName: m.InterfaceName,
		Path:          m.Path,
		Reliability:   m.Reliability,
		MajorVersion:  m.MajorVersion,
		ExpirySec:     m.Expiry,
	}); err != nil {
		return err
	}

	nowSec := key.TimestampMillis / 1000
	rec := Record{
		Key:           key,
		InterfaceName: m.InterfaceName,
		Path:          m.Path,
		Payload:       payload,
		Reliability:   m.Reliability,
		MajorVersion:  m.MajorVersion,
	}
	if m.Expiry > 0 {
		deadline := nowSec + int64(m.Expiry)
		rec.ExpiryUnixSec = &deadline
	}

	evicted, err := q.store.Append(ctx, rec, nowSec)
	if evicted > 0 {
		q.metrics.AddEvicted(evicted)
		q.logger.Warn("evicted stored records under storage pressure", "count", evicted)
	}
	if err != nil {
		return fmt.Errorf("storing outbound message: %w", err)
	}
	q.updateBacklog(ctx)

	// While connected with an empty backlog, send straight away so the
	// record does not wait for the next reconnect.
	if state == StateConnected {
		if err := q.publish(ctx, m.InterfaceName, m.Path, payload, m.Reliability); err != nil {
			q.logger.Warn("immediate send failed, record retained",
				"interface", m.InterfaceName, "path", m.Path, "key", key.String(), "error", err)
			return nil
		}
		if err := q.store.MarkSent(ctx, m.InterfaceName, m.Path, key); err != nil {
			return fmt.Errorf("confirming sent record: %w", err)
		}
		q.metrics.IncSent()
		q.updateBacklog(ctx)
	}
	return nil
}

// HandleConnected transitions to draining and replays the stored
// backlog in the background. Called by the transport on connect.
func (q *QueueManager) HandleConnected() {
	q.mu.Lock()
	if q.closed || q.state == StateDraining {
		q.mu.Unlock()
		return
	}
	q.state = StateDraining
	q.mu.Unlock()

	q.metrics.SetConnected(true)
	q.logger.Info("transport connected, draining stored messages")

	q.drainWG.Add(1)
	go q.drain()
}

// HandleDisconnected transitions to disconnected. A drain in flight
// observes the transition and aborts. Called by the transport on
// connection loss.
func (q *QueueManager) HandleDisconnected() {
	q.setState(StateDisconnected)
	q.metrics.SetConnected(false)
	q.logger.Info("transport disconnected, storing outbound messages")
}

// Close shuts the queue manager down and waits for a drain in flight
// to finish aborting. Stored records stay in the store for the next
// session.
func (q *QueueManager) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.drainWG.Wait()
	return nil
}

// drain replays stored records oldest-first until the backlog is empty
// or the transport fails. It never skips a record: a send failure
// aborts the whole drain and the next connect starts over from the
// oldest unsent record.
func (q *QueueManager) drain() {
	defer q.drainWG.Done()
	ctx := q.baseCtx

	purged, err := q.store.PurgeExpired(ctx, time.Now().Unix())
	if err != nil {
		q.logger.Error("purging expired records", "error", err)
	} else if purged > 0 {
		q.metrics.AddExpired(purged)
		q.logger.Info("purged expired stored messages", "count", purged)
	}

	for {
		if ctx.Err() != nil || q.State() != StateDraining {
			return
		}

		records, err := q.store.FetchUnsent(ctx, time.Now().Unix(), q.batchLimit)
		if err != nil {
			q.logger.Error("fetching stored messages", "error", err)
			q.setState(StateDisconnected)
			return
		}
		if len(records) == 0 {
			if _, err := q.store.DeleteSent(ctx); err != nil {
				q.logger.Error("collecting sent records", "error", err)
			}
			q.finishDrain()
			q.updateBacklog(ctx)
			return
		}

		for _, rec := range records {
			if ctx.Err() != nil || q.State() != StateDraining {
				return
			}
			if !q.replayRecord(ctx, rec) {
				return
			}
		}
		q.updateBacklog(ctx)
	}
}

// replayRecord re-validates and sends one stored record. Returns false
// when the drain must abort.
func (q *QueueManager) replayRecord(ctx context.Context, rec Record) bool {
	resolved, err := q.resolver.Resolve(rec.InterfaceName, rec.Path)
	if err != nil || resolved.MajorVersion != rec.MajorVersion {
		// The interface changed under the stored record. The payload
		// was validated against a schema that no longer exists, so it
		// cannot be sent; dropping with a log beats sending data the
		// receiving side will reject.
		q.logger.Warn("dropping stored message for changed interface",
			"interface", rec.InterfaceName, "path", rec.Path,
			"stored_major", rec.MajorVersion, "key", rec.Key.String())
		if err := q.store.Delete(ctx, rec.InterfaceName, rec.Path, rec.Key); err != nil {
			q.logger.Error("deleting invalidated record", "error", err)
			q.setState(StateDisconnected)
			return false
		}
		q.metrics.IncDropped()
		return true
	}

	if err := q.publish(ctx, rec.InterfaceName, rec.Path, rec.Payload, rec.Reliability); err != nil {
		if !errors.Is(err, context.Canceled) {
			q.logger.Warn("drain aborted on send failure",
				"interface", rec.InterfaceName, "path", rec.Path,
				"key", rec.Key.String(), "error", err)
		}
		q.setState(StateDisconnected)
		return false
	}
	if err := q.store.MarkSent(ctx, rec.InterfaceName, rec.Path, rec.Key); err != nil {
		q.logger.Error("confirming replayed record", "error", err)
		q.setState(StateDisconnected)
		return false
	}
	q.metrics.IncSent()
	return true
}

// finishDrain promotes draining to connected. A disconnect that raced
// the final batch wins.
func (q *QueueManager) finishDrain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == StateDraining {
		q.state = StateConnected
		q.logger.Info("stored message backlog drained")
	}
}

// publish sends through the transport, bounded by the configured
// per-send timeout.
func (q *QueueManager) publish(ctx context.Context, interfaceName, path string, payload []byte, reliability interfaces.Reliability) error {
	if q.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.publishTimeout)
		defer cancel()
	}
	return q.publisher.Publish(ctx, interfaceName, path, payload, reliability)
}

func (q *QueueManager) setState(s State) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != s {
		q.logger.Debug("queue state transition", "from", q.state.String(), "to", s.String())
		q.state = s
	}
}

func (q *QueueManager) updateBacklog(ctx context.Context) {
	count, err := q.store.CountUnsent(ctx)
	if err != nil {
		return
	}
	q.metrics.SetBacklog(count)
}
