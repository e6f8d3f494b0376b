package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tidemark-io/tidemark-edge/internal/infrastructure/influxdb"
	"github.com/tidemark-io/tidemark-edge/internal/interfaces"
	"github.com/tidemark-io/tidemark-edge/internal/payload"
	"github.com/tidemark-io/tidemark-edge/internal/property"
	"github.com/tidemark-io/tidemark-edge/internal/retention"
)

// Submitter is the outbound queue boundary the facade hands encoded
// messages to.
type Submitter interface {
	Submit(ctx context.Context, m interfaces.ResolvedMapping, payload []byte) error
	Close() error
}

// PropertyStore persists property values across restarts.
type PropertyStore interface {
	Upsert(ctx context.Context, p property.Property) error
	Unset(ctx context.Context, interfaceName, path string) error
	Delete(ctx context.Context, interfaceName, path string) error
	ListByOwnership(ctx context.Context, ownership interfaces.Ownership) ([]property.Property, error)
}

// Logger interface for client logging.
// Allows integration with the application's logging infrastructure.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Options configures the client facade.
type Options struct {
	Registry   *interfaces.Registry
	Codec      payload.Codec
	Queue      Submitter
	Properties PropertyStore

	// Mirror is the optional local telemetry mirror. nil disables it.
	Mirror *influxdb.Client

	// MirrorInterval is how often Run samples the backlog for the
	// mirror. Zero disables backlog sampling.
	MirrorInterval time.Duration

	// Backlog reports the current unsent backlog size for mirroring.
	Backlog func(ctx context.Context) (int, error)

	// OnServerData receives decoded datastream values pushed by the
	// realm on server-owned interfaces. nil drops them after logging.
	OnServerData func(m interfaces.ResolvedMapping, env payload.Envelope)

	DeviceID string
	Logger   Logger
}

// Client is the device-facing API: validated sends on datastream
// interfaces and persisted property writes, all flowing through the
// store-and-forward queue.
type Client struct {
	registry *interfaces.Registry
	codec    payload.Codec
	queue    Submitter
	props    PropertyStore
	mirror   *influxdb.Client

	mirrorInterval time.Duration
	backlog        func(ctx context.Context) (int, error)
	onServerData   func(m interfaces.ResolvedMapping, env payload.Envelope)

	deviceID  string
	sessionID string
	logger    Logger
}

// New creates a client facade. A fresh session id is allocated; it tags
// every log line so interleaved sessions in aggregated logs stay
// distinguishable.
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Client{
		registry:       opts.Registry,
		codec:          opts.Codec,
		queue:          opts.Queue,
		props:          opts.Properties,
		mirror:         opts.Mirror,
		mirrorInterval: opts.MirrorInterval,
		backlog:        opts.Backlog,
		onServerData:   opts.OnServerData,
		deviceID:       opts.DeviceID,
		sessionID:      uuid.NewString(),
		logger:         logger,
	}
}

// SessionID returns the id allocated for this client session.
func (c *Client) SessionID() string {
	return c.sessionID
}

// SendIndividual sends one value on an individually-aggregated
// datastream interface, using the enqueue time as the sample timestamp.
func (c *Client) SendIndividual(ctx context.Context, interfaceName, path string, value any) error {
	return c.sendDatastream(ctx, interfaceName, path, value, nil)
}

// SendIndividualWithTimestamp sends one value with an explicit sample
// timestamp. The mapping must declare explicit_timestamp.
func (c *Client) SendIndividualWithTimestamp(ctx context.Context, interfaceName, path string, value any, timestamp time.Time) error {
	return c.sendDatastream(ctx, interfaceName, path, value, &timestamp)
}

func (c *Client) sendDatastream(ctx context.Context, interfaceName, path string, value any, timestamp *time.Time) error {
	resolved, err := c.registry.Resolve(interfaceName, path)
	if err != nil {
		return err
	}
	if resolved.InterfaceType != interfaces.TypeDatastream {
		return fmt.Errorf("%w: %s is not a datastream interface", interfaces.ErrTypeMismatch, interfaceName)
	}
	if resolved.Aggregation == interfaces.AggregationObject {
		return fmt.Errorf("%w: %s is object-aggregated, use SendObject", interfaces.ErrTypeMismatch, interfaceName)
	}
	if resolved.Ownership != interfaces.OwnershipDevice {
		return fmt.Errorf("%w: %s is not device-owned", interfaces.ErrTypeMismatch, interfaceName)
	}
	if timestamp != nil && !resolved.ExplicitTimestamp {
		return fmt.Errorf("%w: %s%s does not accept explicit timestamps",
			interfaces.ErrTypeMismatch, interfaceName, path)
	}
	if err := interfaces.ValidateValue(resolved.Type, value); err != nil {
		return err
	}

	encoded, err := c.codec.Encode(value, timestamp)
	if err != nil {
		return err
	}
	if err := c.submit(ctx, resolved, encoded); err != nil {
		return err
	}

	if c.mirror != nil {
		ts := time.Now()
		if timestamp != nil {
			ts = *timestamp
		}
		c.mirror.WriteDatastream(interfaceName, path, value, ts)
	}
	c.logger.Debug("datastream value submitted",
		"interface", interfaceName, "path", path, "session", c.sessionID)
	return nil
}

// SendObject sends one aggregate on an object-aggregated datastream
// interface, using the enqueue time as the sample timestamp. basePath
// is the endpoint prefix the mappings share; each map key is the final
// endpoint segment.
func (c *Client) SendObject(ctx context.Context, interfaceName, basePath string, values map[string]any) error {
	return c.sendObject(ctx, interfaceName, basePath, values, nil)
}

// SendObjectWithTimestamp sends one aggregate with an explicit sample
// timestamp. The mappings must declare explicit_timestamp.
func (c *Client) SendObjectWithTimestamp(ctx context.Context, interfaceName, basePath string, values map[string]any, timestamp time.Time) error {
	return c.sendObject(ctx, interfaceName, basePath, values, &timestamp)
}

func (c *Client) sendObject(ctx context.Context, interfaceName, basePath string, values map[string]any, timestamp *time.Time) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: empty object aggregate for %s", interfaces.ErrTypeMismatch, interfaceName)
	}

	// Every aggregate entry resolves and validates on its own mapping;
	// interface-level metadata is identical across them, so any
	// resolved mapping can carry the submission.
	var resolved interfaces.ResolvedMapping
	first := true
	for key, value := range values {
		m, err := c.registry.Resolve(interfaceName, basePath+"/"+key)
		if err != nil {
			return err
		}
		if m.InterfaceType != interfaces.TypeDatastream || m.Aggregation != interfaces.AggregationObject {
			return fmt.Errorf("%w: %s is not an object-aggregated datastream", interfaces.ErrTypeMismatch, interfaceName)
		}
		if m.Ownership != interfaces.OwnershipDevice {
			return fmt.Errorf("%w: %s is not device-owned", interfaces.ErrTypeMismatch, interfaceName)
		}
		if err := interfaces.ValidateValue(m.Type, value); err != nil {
			return err
		}
		if first {
			resolved = m
			first = false
		}
	}
	if timestamp != nil && !resolved.ExplicitTimestamp {
		return fmt.Errorf("%w: %s does not accept explicit timestamps",
			interfaces.ErrTypeMismatch, interfaceName)
	}
	// The aggregate travels as one message addressed at the shared prefix.
	resolved.Path = basePath

	encoded, err := c.codec.Encode(values, timestamp)
	if err != nil {
		return err
	}
	if err := c.submit(ctx, resolved, encoded); err != nil {
		return err
	}

	if c.mirror != nil {
		ts := time.Now()
		if timestamp != nil {
			ts = *timestamp
		}
		for key, value := range values {
			c.mirror.WriteDatastream(interfaceName, basePath+"/"+key, value, ts)
		}
	}
	c.logger.Debug("object aggregate submitted",
		"interface", interfaceName, "path", basePath, "fields", len(values), "session", c.sessionID)
	return nil
}

// submit hands an encoded message to the queue, translating a full
// retention store into a capacity error the caller can act on.
func (c *Client) submit(ctx context.Context, m interfaces.ResolvedMapping, encoded []byte) error {
	err := c.queue.Submit(ctx, m, encoded)
	if errors.Is(err, retention.ErrStorageFull) {
		return fmt.Errorf("retention capacity exhausted, %s%s rejected: %w", m.InterfaceName, m.Path, err)
	}
	return err
}

// SetProperty persists and sends a device-owned property value.
// Properties always travel with unique reliability: the realm must see
// each state change exactly once.
func (c *Client) SetProperty(ctx context.Context, interfaceName, path string, value any) error {
	resolved, err := c.resolveProperty(interfaceName, path)
	if err != nil {
		return err
	}
	if err := interfaces.ValidateValue(resolved.Type, value); err != nil {
		return err
	}

	encoded, err := c.codec.Encode(value, nil)
	if err != nil {
		return err
	}
	if err := c.props.Upsert(ctx, property.Property{
		InterfaceName:  interfaceName,
		Path:           path,
		Payload:        encoded,
		InterfaceMajor: resolved.MajorVersion,
		Ownership:      interfaces.OwnershipDevice,
	}); err != nil {
		return err
	}
	return c.submit(ctx, resolved, encoded)
}

// UnsetProperty clears a device-owned property. The unset is persisted
// locally and announced to the realm as a zero-length payload, which
// travels through the retention store like any other unique message.
func (c *Client) UnsetProperty(ctx context.Context, interfaceName, path string) error {
	resolved, err := c.resolveProperty(interfaceName, path)
	if err != nil {
		return err
	}
	if err := c.props.Unset(ctx, interfaceName, path); err != nil {
		return err
	}
	return c.submit(ctx, resolved, []byte{})
}

func (c *Client) resolveProperty(interfaceName, path string) (interfaces.ResolvedMapping, error) {
	resolved, err := c.registry.Resolve(interfaceName, path)
	if err != nil {
		return interfaces.ResolvedMapping{}, err
	}
	if resolved.InterfaceType != interfaces.TypeProperties {
		return interfaces.ResolvedMapping{}, fmt.Errorf("%w: %s is not a properties interface",
			interfaces.ErrTypeMismatch, interfaceName)
	}
	if resolved.Ownership != interfaces.OwnershipDevice {
		return interfaces.ResolvedMapping{}, fmt.Errorf("%w: %s is not device-owned",
			interfaces.ErrTypeMismatch, interfaceName)
	}
	return resolved, nil
}

// Run blocks until ctx is cancelled, keeping the client's background
// work alive: periodic backlog sampling for the local mirror. The
// queue is closed on the way out.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if c.mirror != nil && c.mirrorInterval > 0 && c.backlog != nil {
		g.Go(func() error {
			ticker := time.NewTicker(c.mirrorInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					count, err := c.backlog(ctx)
					if err != nil {
						c.logger.Warn("sampling backlog for mirror", "error", err)
						continue
					}
					c.mirror.WriteBacklog(c.deviceID, count)
				}
			}
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := g.Wait()
	if closeErr := c.queue.Close(); closeErr != nil {
		c.logger.Error("closing queue", "error", closeErr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
