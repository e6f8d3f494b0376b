package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tidemark-io/tidemark-edge/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho MQTT options from device config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID derived from realm and device id
//   - Authentication credentials (if provided)
//   - Auto-reconnect with exponential backoff
//   - TLS configuration (if enabled)
//   - Clean session mode
func buildClientOptions(cfg config.MQTTConfig, topics Topics, creds CredentialsProvider) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	brokerURL := fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
	opts.AddBroker(brokerURL)

	clientID := cfg.Broker.ClientID
	if clientID == "" {
		clientID = topics.Realm + "_" + topics.DeviceID
	}
	opts.SetClientID(clientID)

	// A credential source wins over static auth: paho asks it on every
	// reconnect, so expiring tokens stay fresh across sessions.
	switch {
	case creds != nil:
		opts.SetCredentialsProvider(func() (string, string) {
			return creds.BrokerCredentials()
		})
	case cfg.Auth.Username != "":
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Clean session: stored messages live in the retention store, not
	// in a persistent broker session.
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)

	// Keepalive - broker PINGs detect dead connections on flaky links.
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// configureLWT sets up Last Will and Testament so the realm can detect
// a crashed or unreachable device.
//
// Topic: <base>/control/status
// QoS: 1 (guaranteed delivery)
// Retained: true (new subscribers see last status)
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics) {
	opts.SetWill(topics.Control("status"),
		offlinePayload(topics.DeviceID, "unexpected_disconnect"), 1, true)
}

// onlinePayload creates the JSON payload for online status messages.
func onlinePayload(deviceID string) string {
	return fmt.Sprintf(
		`{"status":"online","device_id":"%s","timestamp":"%s"}`,
		deviceID,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// offlinePayload creates the JSON payload for offline status messages.
func offlinePayload(deviceID, reason string) string {
	return fmt.Sprintf(
		`{"status":"offline","device_id":"%s","reason":"%s","timestamp":"%s"}`,
		deviceID,
		reason,
		time.Now().UTC().Format(time.RFC3339),
	)
}
