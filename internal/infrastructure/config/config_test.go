package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeConfig writes a temporary config file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

const validConfig = `
device:
  realm: test-realm
  device_id: edge-001
  interfaces_dir: ./interfaces
mqtt:
  broker:
    host: broker.local
    port: 8883
    tls: true
  qos: 1
database:
  path: ./data/test.db
  wal_mode: true
  busy_timeout: 5
retention:
  capacity: 500
  batch_limit: 50
  publish_timeout: 5
`

func TestLoad(t *testing.T) {
	t.Run("loads valid config", func(t *testing.T) {
		path := writeConfig(t, validConfig)

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Device.Realm != "test-realm" {
			t.Errorf("Device.Realm = %q, want %q", cfg.Device.Realm, "test-realm")
		}
		if cfg.Device.DeviceID != "edge-001" {
			t.Errorf("Device.DeviceID = %q, want %q", cfg.Device.DeviceID, "edge-001")
		}
		if cfg.MQTT.Broker.Host != "broker.local" {
			t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
		}
		if cfg.Retention.Capacity != 500 {
			t.Errorf("Retention.Capacity = %d, want 500", cfg.Retention.Capacity)
		}
	})

	t.Run("applies defaults", func(t *testing.T) {
		path := writeConfig(t, `
device:
  realm: test-realm
  device_id: edge-001
`)

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Retention.BatchLimit != 100 {
			t.Errorf("Retention.BatchLimit = %d, want default 100", cfg.Retention.BatchLimit)
		}
		if !cfg.Database.WALMode {
			t.Error("Database.WALMode = false, want default true")
		}
		if cfg.Logging.Level != "info" {
			t.Errorf("Logging.Level = %q, want default %q", cfg.Logging.Level, "info")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		if err == nil {
			t.Fatal("Load() error = nil, want error")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeConfig(t, "device: [not a map")
		_, err := Load(path)
		if err == nil {
			t.Fatal("Load() error = nil, want error")
		}
	})

	t.Run("env overrides file", func(t *testing.T) {
		path := writeConfig(t, validConfig)

		t.Setenv("TIDEMARK_MQTT_HOST", "override.local")
		t.Setenv("TIDEMARK_DEVICE_ID", "edge-override")

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.MQTT.Broker.Host != "override.local" {
			t.Errorf("MQTT.Broker.Host = %q, want env override", cfg.MQTT.Broker.Host)
		}
		if cfg.Device.DeviceID != "edge-override" {
			t.Errorf("Device.DeviceID = %q, want env override", cfg.Device.DeviceID)
		}
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Device.Realm = "test-realm"
		cfg.Device.DeviceID = "edge-001"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "missing realm",
			mutate:  func(c *Config) { c.Device.Realm = "" },
			wantErr: "device.realm",
		},
		{
			name:    "missing device id",
			mutate:  func(c *Config) { c.Device.DeviceID = "" },
			wantErr: "device.device_id",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "negative capacity",
			mutate:  func(c *Config) { c.Retention.Capacity = -1 },
			wantErr: "retention.capacity",
		},
		{
			name:    "zero batch limit",
			mutate:  func(c *Config) { c.Retention.BatchLimit = 0 },
			wantErr: "retention.batch_limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
