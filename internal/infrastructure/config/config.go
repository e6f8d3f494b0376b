package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Tidemark Edge agent.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	Retention RetentionConfig `yaml:"retention"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig identifies this device within a Tidemark realm.
type DeviceConfig struct {
	// Realm is the Tidemark realm the device belongs to.
	Realm string `yaml:"realm"`

	// DeviceID is the unique device identifier within the realm.
	DeviceID string `yaml:"device_id"`

	// InterfacesDir is the directory containing interface description
	// JSON files loaded into the registry at startup.
	InterfacesDir string `yaml:"interfaces_dir"`

	// CredentialsSecret is the cluster-issued credentials token (JWT).
	// Prefer setting it via TIDEMARK_CREDENTIALS_SECRET rather than the
	// config file so it stays out of version control.
	CredentialsSecret string `yaml:"credentials_secret"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// RetentionConfig contains store-and-forward retention settings.
type RetentionConfig struct {
	// Capacity is the maximum number of records the retention store may
	// hold before the eviction policy runs. 0 means unbounded.
	Capacity int `yaml:"capacity"`

	// BatchLimit bounds how many records a single drain pass loads into
	// memory. Keeps memory use flat on constrained devices.
	BatchLimit int `yaml:"batch_limit"`

	// PublishTimeout is the maximum time in seconds to wait for transport
	// confirmation of a single publish before treating it as failed.
	PublishTimeout int `yaml:"publish_timeout"`
}

// InfluxDBConfig contains settings for the optional local telemetry mirror.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Listen is the address the /metrics endpoint binds to.
	Listen string `yaml:"listen"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TIDEMARK_SECTION_KEY
// For example: TIDEMARK_DATABASE_PATH, TIDEMARK_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			InterfacesDir: "./interfaces",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 8883,
				TLS:  true,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/tidemark-edge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Retention: RetentionConfig{
			Capacity:       10000,
			BatchLimit:     100,
			PublishTimeout: 10,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9465",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TIDEMARK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("TIDEMARK_DEVICE_REALM"); v != "" {
		cfg.Device.Realm = v
	}
	if v := os.Getenv("TIDEMARK_DEVICE_ID"); v != "" {
		cfg.Device.DeviceID = v
	}
	if v := os.Getenv("TIDEMARK_CREDENTIALS_SECRET"); v != "" {
		cfg.Device.CredentialsSecret = v
	}

	// Database
	if v := os.Getenv("TIDEMARK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("TIDEMARK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TIDEMARK_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("TIDEMARK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TIDEMARK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("TIDEMARK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device validation
	if c.Device.Realm == "" {
		errs = append(errs, "device.realm is required")
	}
	if c.Device.DeviceID == "" {
		errs = append(errs, "device.device_id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	// Retention validation
	if c.Retention.Capacity < 0 {
		errs = append(errs, "retention.capacity must not be negative")
	}
	if c.Retention.BatchLimit < 1 {
		errs = append(errs, "retention.batch_limit must be at least 1")
	}
	if c.Retention.PublishTimeout < 1 {
		errs = append(errs, "retention.publish_timeout must be at least 1 second")
	}

	// Metrics validation
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetPublishTimeout returns the transport confirmation timeout as a Duration.
func (c *Config) GetPublishTimeout() time.Duration {
	return time.Duration(c.Retention.PublishTimeout) * time.Second
}
