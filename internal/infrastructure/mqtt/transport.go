package mqtt

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tidemark-io/tidemark-edge/internal/interfaces"
)

// QoSForReliability maps a mapping's reliability to the MQTT QoS level
// that provides the matching delivery guarantee.
func QoSForReliability(r interfaces.Reliability) byte {
	switch r {
	case interfaces.ReliabilityGuaranteed:
		return 1
	case interfaces.ReliabilityUnique:
		return 2
	default:
		return 0
	}
}

// BuildIntrospection renders the device's interface set in the wire
// form announced at session start: semicolon-separated
// name:major:minor triples, sorted by name.
func BuildIntrospection(ifaces []*interfaces.Interface) string {
	parts := make([]string, 0, len(ifaces))
	for _, i := range ifaces {
		parts = append(parts, fmt.Sprintf("%s:%d:%d", i.Name, i.MajorVersion, i.MinorVersion))
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

// Transport adapts the MQTT client to the outbound-message boundary
// the retention queue sends through.
type Transport struct {
	client *Client
	topics Topics
}

// NewTransport creates a transport over a connected client.
func NewTransport(client *Client, topics Topics) *Transport {
	return &Transport{client: client, topics: topics}
}

// IsConnected reports whether the underlying session is up.
func (t *Transport) IsConnected() bool {
	return t.client.IsConnected()
}

// Publish transmits one value to its interface data topic. For
// guaranteed and unique reliability it returns only after the broker
// acknowledges at the corresponding QoS level.
func (t *Transport) Publish(ctx context.Context, interfaceName, path string, payload []byte, reliability interfaces.Reliability) error {
	topic := t.topics.Data(interfaceName, path)
	return t.client.Publish(ctx, topic, payload, QoSForReliability(reliability), false)
}

// AnnounceSession publishes the session-start announcements: the
// retained introspection string on the base topic and the online
// status on the control status topic.
func (t *Transport) AnnounceSession(ctx context.Context, introspection string) error {
	if err := t.client.Publish(ctx, t.topics.Base(), []byte(introspection), 2, false); err != nil {
		return err
	}
	return t.client.PublishRetained(ctx, t.topics.Control("status"), []byte(onlinePayload(t.topics.DeviceID)))
}

// SubscribeControl registers the handler for session control messages.
func (t *Transport) SubscribeControl(handler MessageHandler) error {
	return t.client.Subscribe(t.topics.AllControl(), 2, handler)
}

// SubscribeServerInterface registers the handler for values pushed to
// a server-owned interface.
func (t *Transport) SubscribeServerInterface(interfaceName string, handler MessageHandler) error {
	return t.client.Subscribe(t.topics.ServerData(interfaceName), 2, handler)
}
