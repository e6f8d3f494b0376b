// Tidemark Edge - device agent
//
// This is the main entry point for the Tidemark Edge agent: the
// device-side process that validates outbound data against its
// interface set, stores it while the uplink is down, and forwards it
// in order once the session is back.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	_ "github.com/tidemark-io/tidemark-edge/migrations"

	"github.com/tidemark-io/tidemark-edge/internal/client"
	"github.com/tidemark-io/tidemark-edge/internal/infrastructure/config"
	"github.com/tidemark-io/tidemark-edge/internal/infrastructure/database"
	"github.com/tidemark-io/tidemark-edge/internal/infrastructure/influxdb"
	"github.com/tidemark-io/tidemark-edge/internal/infrastructure/logging"
	"github.com/tidemark-io/tidemark-edge/internal/infrastructure/metrics"
	"github.com/tidemark-io/tidemark-edge/internal/infrastructure/mqtt"
	"github.com/tidemark-io/tidemark-edge/internal/interfaces"
	"github.com/tidemark-io/tidemark-edge/internal/pairing"
	"github.com/tidemark-io/tidemark-edge/internal/payload"
	"github.com/tidemark-io/tidemark-edge/internal/property"
	"github.com/tidemark-io/tidemark-edge/internal/retention"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// mirrorSampleInterval is how often the backlog size is sampled for
// the local telemetry mirror.
const mirrorSampleInterval = 30 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Tidemark Edge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Load the interface set
	registry := interfaces.NewRegistry()
	registry.SetLogger(log)
	count, err := registry.LoadDirectory(cfg.Device.InterfacesDir)
	if err != nil {
		return fmt.Errorf("loading interfaces: %w", err)
	}
	log.Info("interface registry initialised", "interfaces", count)

	// Prune property values written under interface versions that no
	// longer exist.
	props := property.NewStore(db.DB)
	pruned, err := props.PruneStale(ctx, registryMajors(registry))
	if err != nil {
		return fmt.Errorf("pruning stale properties: %w", err)
	}
	if pruned > 0 {
		log.Info("pruned stale properties", "count", pruned)
	}

	// Metrics
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	retentionMetrics := metrics.NewRetention(promReg)

	// Derive broker credentials from the device's credentials secret
	// unless explicit auth is configured. The source re-signs the
	// pairing token on every reconnect attempt once the old one lapses.
	var brokerCreds mqtt.CredentialsProvider
	if cfg.Device.CredentialsSecret != "" && cfg.MQTT.Auth.Username == "" {
		tokens, tokenErr := pairing.NewTokenSource(pairing.Credentials{
			Realm:    cfg.Device.Realm,
			DeviceID: cfg.Device.DeviceID,
			Secret:   cfg.Device.CredentialsSecret,
		}, time.Hour)
		if tokenErr != nil {
			return fmt.Errorf("initialising pairing credentials: %w", tokenErr)
		}
		brokerCreds = tokens
	}

	// Connect to MQTT broker
	topics := mqtt.Topics{Realm: cfg.Device.Realm, DeviceID: cfg.Device.DeviceID}
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics, brokerCreds)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"realm", cfg.Device.Realm,
		"device_id", cfg.Device.DeviceID,
	)

	// Retention: store, ordering sequence, queue manager
	store := retention.NewSQLiteStore(db.DB, cfg.Retention.Capacity)
	seq, err := retention.NewSequence(ctx, store)
	if err != nil {
		return fmt.Errorf("initialising ordering sequence: %w", err)
	}
	transport := mqtt.NewTransport(mqttClient, topics)
	queue := retention.NewQueueManager(store, seq, transport, registry, retention.QueueManagerConfig{
		BatchLimit:     cfg.Retention.BatchLimit,
		PublishTimeout: cfg.GetPublishTimeout(),
	}, log, retentionMetrics)

	// Connect to InfluxDB mirror (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("local telemetry mirror connected",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("local telemetry mirror disabled")
	}

	edge := client.New(client.Options{
		Registry:       registry,
		Codec:          payload.NewJSONCodec(),
		Queue:          queue,
		Properties:     props,
		Mirror:         influxClient,
		MirrorInterval: mirrorSampleInterval,
		Backlog:        store.CountUnsent,
		DeviceID:       cfg.Device.DeviceID,
		Logger:         log,
	})
	log.Info("client ready", "session", edge.SessionID())

	// Wire session events: announce the interface set, then drain.
	mqttClient.SetOnConnect(func() {
		announceCtx, cancel := context.WithTimeout(context.Background(), cfg.GetPublishTimeout())
		defer cancel()
		introspection := buildIntrospection(registry)
		if err := transport.AnnounceSession(announceCtx, introspection); err != nil {
			log.Warn("session announcement failed", "error", err)
		}
		queue.HandleConnected()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
		queue.HandleDisconnected()
	})

	// The initial connect fires before the callback is registered.
	if mqttClient.IsConnected() {
		queue.HandleConnected()
	}

	// Inbound: control messages and server-owned interfaces. The
	// client re-subscribes on every reconnect, so one registration
	// covers the whole process lifetime.
	if err := subscribeInbound(ctx, transport, topics, registry, edge, log); err != nil {
		return fmt.Errorf("subscribing inbound topics: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return edge.Run(ctx)
	})

	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("metrics endpoint listening", "addr", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("Tidemark Edge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TIDEMARK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TIDEMARK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// subscribeInbound registers the handlers for realm-to-device traffic:
// session control messages and values pushed on server-owned
// interfaces.
func subscribeInbound(ctx context.Context, transport *mqtt.Transport, topics mqtt.Topics, registry *interfaces.Registry, edge *client.Client, log *logging.Logger) error {
	purgeTopic := topics.Control("consumer/properties")
	if err := transport.SubscribeControl(func(topic string, data []byte) error {
		if topic != purgeTopic {
			log.Debug("unhandled control message", "topic", topic)
			return nil
		}
		return edge.HandlePurgeProperties(ctx, data)
	}); err != nil {
		return err
	}

	for _, name := range registry.List() {
		iface, err := registry.Get(name)
		if err != nil || iface.Ownership != interfaces.OwnershipServer {
			continue
		}
		if err := transport.SubscribeServerInterface(name, func(topic string, data []byte) error {
			interfaceName, path, ok := topics.ParseData(topic)
			if !ok {
				log.Warn("malformed data topic", "topic", topic)
				return nil
			}
			return edge.HandleServerMessage(ctx, interfaceName, path, data)
		}); err != nil {
			return err
		}
		log.Info("subscribed to server interface", "interface", name)
	}
	return nil
}

// registryMajors maps each registered interface to its major version.
func registryMajors(registry *interfaces.Registry) map[string]int {
	majors := make(map[string]int)
	for _, name := range registry.List() {
		iface, err := registry.Get(name)
		if err != nil {
			continue
		}
		majors[name] = iface.MajorVersion
	}
	return majors
}

// buildIntrospection renders the registered interface set for the
// session announcement.
func buildIntrospection(registry *interfaces.Registry) string {
	ifaces := make([]*interfaces.Interface, 0, registry.Count())
	for _, name := range registry.List() {
		iface, err := registry.Get(name)
		if err != nil {
			continue
		}
		ifaces = append(ifaces, iface)
	}
	return mqtt.BuildIntrospection(ifaces)
}
