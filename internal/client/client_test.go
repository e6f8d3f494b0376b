package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tidemark-io/tidemark-edge/internal/interfaces"
	"github.com/tidemark-io/tidemark-edge/internal/payload"
	"github.com/tidemark-io/tidemark-edge/internal/property"
	"github.com/tidemark-io/tidemark-edge/internal/retention"
)

// fakeSubmitter records submissions.
type fakeSubmitter struct {
	submitted []submission
	err       error
	closed    bool
}

type submission struct {
	mapping interfaces.ResolvedMapping
	payload []byte
}

func (f *fakeSubmitter) Submit(ctx context.Context, m interfaces.ResolvedMapping, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, submission{mapping: m, payload: payload})
	return nil
}

func (f *fakeSubmitter) Close() error {
	f.closed = true
	return nil
}

// fakeProps records property writes.
type fakeProps struct {
	upserted []property.Property
	unset    []string
	deleted  []string
	stored   []property.Property
}

func (f *fakeProps) Upsert(ctx context.Context, p property.Property) error {
	f.upserted = append(f.upserted, p)
	return nil
}

func (f *fakeProps) Unset(ctx context.Context, interfaceName, path string) error {
	f.unset = append(f.unset, interfaceName+path)
	return nil
}

func (f *fakeProps) Delete(ctx context.Context, interfaceName, path string) error {
	f.deleted = append(f.deleted, interfaceName+path)
	return nil
}

func (f *fakeProps) ListByOwnership(ctx context.Context, ownership interfaces.Ownership) ([]property.Property, error) {
	var out []property.Property
	for _, p := range f.stored {
		if p.Ownership == ownership {
			out = append(out, p)
		}
	}
	return out, nil
}

func testRegistry(t *testing.T) *interfaces.Registry {
	t.Helper()
	reg := interfaces.NewRegistry()

	sensor := &interfaces.Interface{
		Name:         "org.example.Sensor",
		MajorVersion: 1,
		MinorVersion: 0,
		Type:         interfaces.TypeDatastream,
		Ownership:    interfaces.OwnershipDevice,
		Aggregation:  interfaces.AggregationIndividual,
		Mappings: []interfaces.Mapping{
			{Endpoint: "/temperature", Type: interfaces.TypeDouble, Reliability: interfaces.ReliabilityGuaranteed},
			{Endpoint: "/events", Type: interfaces.TypeString, Reliability: interfaces.ReliabilityGuaranteed, ExplicitTimestamp: true},
		},
	}
	settings := &interfaces.Interface{
		Name:         "org.example.Settings",
		MajorVersion: 1,
		MinorVersion: 0,
		Type:         interfaces.TypeProperties,
		Ownership:    interfaces.OwnershipDevice,
		Mappings: []interfaces.Mapping{
			{Endpoint: "/threshold", Type: interfaces.TypeInteger},
		},
	}
	motion := &interfaces.Interface{
		Name:         "org.example.Motion",
		MajorVersion: 1,
		MinorVersion: 0,
		Type:         interfaces.TypeDatastream,
		Ownership:    interfaces.OwnershipDevice,
		Aggregation:  interfaces.AggregationObject,
		Mappings: []interfaces.Mapping{
			{Endpoint: "/sample/x", Type: interfaces.TypeDouble, Reliability: interfaces.ReliabilityGuaranteed},
			{Endpoint: "/sample/y", Type: interfaces.TypeDouble, Reliability: interfaces.ReliabilityGuaranteed},
		},
	}
	remote := &interfaces.Interface{
		Name:         "org.example.RemoteConfig",
		MajorVersion: 1,
		MinorVersion: 0,
		Type:         interfaces.TypeProperties,
		Ownership:    interfaces.OwnershipServer,
		Mappings: []interfaces.Mapping{
			{Endpoint: "/mode", Type: interfaces.TypeString},
		},
	}
	for _, iface := range []*interfaces.Interface{sensor, settings, motion, remote} {
		if err := reg.Register(iface); err != nil {
			t.Fatalf("Register(%s) error = %v", iface.Name, err)
		}
	}
	return reg
}

func newTestClient(t *testing.T) (*Client, *fakeSubmitter, *fakeProps) {
	t.Helper()
	queue := &fakeSubmitter{}
	props := &fakeProps{}
	c := New(Options{
		Registry:   testRegistry(t),
		Codec:      payload.NewJSONCodec(),
		Queue:      queue,
		Properties: props,
		DeviceID:   "2TBn-jNESuuHamE2Zo1anA",
	})
	return c, queue, props
}

func TestClientSendIndividual(t *testing.T) {
	ctx := context.Background()

	t.Run("submits encoded value", func(t *testing.T) {
		c, queue, _ := newTestClient(t)
		if err := c.SendIndividual(ctx, "org.example.Sensor", "/temperature", 22.5); err != nil {
			t.Fatalf("SendIndividual() error = %v", err)
		}
		if len(queue.submitted) != 1 {
			t.Fatalf("submitted %d messages, want 1", len(queue.submitted))
		}
		sub := queue.submitted[0]
		if sub.mapping.InterfaceName != "org.example.Sensor" || sub.mapping.Path != "/temperature" {
			t.Errorf("submitted mapping = %+v", sub.mapping)
		}
		if len(sub.payload) == 0 {
			t.Error("submitted empty payload")
		}
	})

	t.Run("rejects unknown interface", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		err := c.SendIndividual(ctx, "org.example.Nope", "/temperature", 1.0)
		if !errors.Is(err, interfaces.ErrInterfaceNotFound) {
			t.Errorf("SendIndividual() error = %v, want ErrInterfaceNotFound", err)
		}
	})

	t.Run("rejects unknown path", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		err := c.SendIndividual(ctx, "org.example.Sensor", "/humidity", 1.0)
		if !errors.Is(err, interfaces.ErrMappingNotFound) {
			t.Errorf("SendIndividual() error = %v, want ErrMappingNotFound", err)
		}
	})

	t.Run("rejects wrong value type", func(t *testing.T) {
		c, queue, _ := newTestClient(t)
		err := c.SendIndividual(ctx, "org.example.Sensor", "/temperature", "warm")
		if !errors.Is(err, interfaces.ErrTypeMismatch) {
			t.Errorf("SendIndividual() error = %v, want ErrTypeMismatch", err)
		}
		if len(queue.submitted) != 0 {
			t.Error("invalid value reached the queue")
		}
	})

	t.Run("rejects property interface", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		err := c.SendIndividual(ctx, "org.example.Settings", "/threshold", 5)
		if !errors.Is(err, interfaces.ErrTypeMismatch) {
			t.Errorf("SendIndividual() error = %v, want ErrTypeMismatch", err)
		}
	})

	t.Run("rejects timestamp without explicit_timestamp", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		err := c.SendIndividualWithTimestamp(ctx, "org.example.Sensor", "/temperature", 1.0, time.Now())
		if !errors.Is(err, interfaces.ErrTypeMismatch) {
			t.Errorf("SendIndividualWithTimestamp() error = %v, want ErrTypeMismatch", err)
		}
	})

	t.Run("accepts explicit timestamp where declared", func(t *testing.T) {
		c, queue, _ := newTestClient(t)
		if err := c.SendIndividualWithTimestamp(ctx, "org.example.Sensor", "/events", "boot", time.Now()); err != nil {
			t.Fatalf("SendIndividualWithTimestamp() error = %v", err)
		}
		if len(queue.submitted) != 1 {
			t.Errorf("submitted %d messages, want 1", len(queue.submitted))
		}
	})

	t.Run("rejects object-aggregated interface", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		err := c.SendIndividual(ctx, "org.example.Motion", "/sample/x", 1.0)
		if !errors.Is(err, interfaces.ErrTypeMismatch) {
			t.Errorf("SendIndividual() error = %v, want ErrTypeMismatch", err)
		}
	})

	t.Run("surfaces full store as capacity error", func(t *testing.T) {
		c, queue, _ := newTestClient(t)
		queue.err = retention.ErrStorageFull
		err := c.SendIndividual(ctx, "org.example.Sensor", "/temperature", 22.5)
		if !errors.Is(err, retention.ErrStorageFull) {
			t.Errorf("SendIndividual() error = %v, want ErrStorageFull", err)
		}
	})
}

func TestClientSendObject(t *testing.T) {
	ctx := context.Background()

	t.Run("submits one aggregate on the shared prefix", func(t *testing.T) {
		c, queue, _ := newTestClient(t)
		err := c.SendObject(ctx, "org.example.Motion", "/sample", map[string]any{"x": 1.5, "y": -0.5})
		if err != nil {
			t.Fatalf("SendObject() error = %v", err)
		}
		if len(queue.submitted) != 1 {
			t.Fatalf("submitted %d messages, want 1", len(queue.submitted))
		}
		sub := queue.submitted[0]
		if sub.mapping.InterfaceName != "org.example.Motion" || sub.mapping.Path != "/sample" {
			t.Errorf("submitted mapping = %+v, want aggregate on /sample", sub.mapping)
		}
		if len(sub.payload) == 0 {
			t.Error("submitted empty payload")
		}
	})

	t.Run("rejects unknown field", func(t *testing.T) {
		c, queue, _ := newTestClient(t)
		err := c.SendObject(ctx, "org.example.Motion", "/sample", map[string]any{"x": 1.5, "z": 2.0})
		if !errors.Is(err, interfaces.ErrMappingNotFound) {
			t.Errorf("SendObject() error = %v, want ErrMappingNotFound", err)
		}
		if len(queue.submitted) != 0 {
			t.Error("invalid aggregate reached the queue")
		}
	})

	t.Run("rejects wrong field type", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		err := c.SendObject(ctx, "org.example.Motion", "/sample", map[string]any{"x": "fast"})
		if !errors.Is(err, interfaces.ErrTypeMismatch) {
			t.Errorf("SendObject() error = %v, want ErrTypeMismatch", err)
		}
	})

	t.Run("rejects empty aggregate", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		err := c.SendObject(ctx, "org.example.Motion", "/sample", nil)
		if !errors.Is(err, interfaces.ErrTypeMismatch) {
			t.Errorf("SendObject() error = %v, want ErrTypeMismatch", err)
		}
	})

	t.Run("rejects individually-aggregated interface", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		err := c.SendObject(ctx, "org.example.Sensor", "", map[string]any{"temperature": 22.5})
		if !errors.Is(err, interfaces.ErrTypeMismatch) {
			t.Errorf("SendObject() error = %v, want ErrTypeMismatch", err)
		}
	})

	t.Run("rejects timestamp without explicit_timestamp", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		err := c.SendObjectWithTimestamp(ctx, "org.example.Motion", "/sample", map[string]any{"x": 1.0}, time.Now())
		if !errors.Is(err, interfaces.ErrTypeMismatch) {
			t.Errorf("SendObjectWithTimestamp() error = %v, want ErrTypeMismatch", err)
		}
	})
}

func TestClientProperties(t *testing.T) {
	ctx := context.Background()

	t.Run("set persists then submits with unique reliability", func(t *testing.T) {
		c, queue, props := newTestClient(t)
		if err := c.SetProperty(ctx, "org.example.Settings", "/threshold", 7); err != nil {
			t.Fatalf("SetProperty() error = %v", err)
		}
		if len(props.upserted) != 1 {
			t.Fatalf("upserted %d properties, want 1", len(props.upserted))
		}
		if len(queue.submitted) != 1 {
			t.Fatalf("submitted %d messages, want 1", len(queue.submitted))
		}
		if queue.submitted[0].mapping.Reliability != interfaces.ReliabilityUnique {
			t.Errorf("property reliability = %v, want unique", queue.submitted[0].mapping.Reliability)
		}
	})

	t.Run("unset submits zero-length payload", func(t *testing.T) {
		c, queue, props := newTestClient(t)
		if err := c.UnsetProperty(ctx, "org.example.Settings", "/threshold"); err != nil {
			t.Fatalf("UnsetProperty() error = %v", err)
		}
		if len(props.unset) != 1 {
			t.Errorf("unset %d properties, want 1", len(props.unset))
		}
		if len(queue.submitted) != 1 {
			t.Fatalf("submitted %d messages, want 1", len(queue.submitted))
		}
		// The store rejects a missing payload outright, so the unset
		// announcement must travel as present-but-empty bytes.
		if queue.submitted[0].payload == nil || len(queue.submitted[0].payload) != 0 {
			t.Errorf("unset payload = %v, want zero-length", queue.submitted[0].payload)
		}
	})

	t.Run("set rejects server-owned interface", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		err := c.SetProperty(ctx, "org.example.RemoteConfig", "/mode", "eco")
		if !errors.Is(err, interfaces.ErrTypeMismatch) {
			t.Errorf("SetProperty() error = %v, want ErrTypeMismatch", err)
		}
	})

	t.Run("set rejects datastream interface", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		err := c.SetProperty(ctx, "org.example.Sensor", "/temperature", 1.0)
		if !errors.Is(err, interfaces.ErrTypeMismatch) {
			t.Errorf("SetProperty() error = %v, want ErrTypeMismatch", err)
		}
	})
}

func TestClientRun(t *testing.T) {
	c, queue, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if !queue.closed {
		t.Error("Run() did not close the queue")
	}
}
