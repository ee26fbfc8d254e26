// Gree Bridge - Gree air conditioner to MQTT gateway
//
// This is the main entry point for the Gree bridge. It discovers Gree
// units on the local network over their proprietary UDP protocol,
// negotiates per-device session keys, and exposes each unit over MQTT:
// retained state on {prefix}/{device}, commands on {prefix}/{device}/set.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/gree-bridge/migrations"

	"github.com/nerrad567/gree-bridge/internal/bridges/gree"
	"github.com/nerrad567/gree-bridge/internal/device"
	"github.com/nerrad567/gree-bridge/internal/infrastructure/config"
	"github.com/nerrad567/gree-bridge/internal/infrastructure/database"
	"github.com/nerrad567/gree-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/gree-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/gree-bridge/internal/infrastructure/mqtt"
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

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
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
	log.Info("starting Gree bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise device registry
	deviceRepo := device.NewSQLiteRepository(db.DB)
	deviceRegistry := device.NewRegistry(deviceRepo)
	deviceRegistry.SetLogger(log)

	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", deviceRegistry.Count())

	// Connect to MQTT broker
	topics := mqtt.Topics{Prefix: cfg.Bridge.TopicPrefix}
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the Gree bridge
	bridge, err := startGreeBridge(cfg, deviceRegistry, mqttClient, influxClient, topics, log)
	if err != nil {
		return fmt.Errorf("starting Gree bridge: %w", err)
	}
	defer func() {
		log.Info("stopping Gree bridge")
		bridge.Stop()
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Gree bridge
	// 2. InfluxDB (if enabled)
	// 3. MQTT
	// 4. Database

	log.Info("Gree bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GREEBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GREEBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	// InfluxDB is optional
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// startGreeBridge wires the device transport, communicator and bridge
// together and starts them.
func startGreeBridge(cfg *config.Config, registry *device.Registry, mqttClient *mqtt.Client, influxClient *influxdb.Client, topics mqtt.Topics, log *logging.Logger) (*gree.Bridge, error) {
	transport := gree.NewUDPTransport(gree.UDPTransportOptions{
		Port:            cfg.Gree.UDPPort,
		ExchangeTimeout: cfg.Gree.ExchangeTimeout,
		MaxRetries:      cfg.Gree.MaxRetries,
		Logger:          log,
	})

	comm, err := gree.NewCommunicator(gree.CommunicatorOptions{
		Transport:      transport,
		Store:          registry,
		Network:        cfg.Gree.Network,
		Broadcast:      cfg.Gree.Broadcast,
		SyncTime:       cfg.Gree.SyncTime,
		TrackingParams: cfg.TrackingParams(),
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating communicator: %w", err)
	}

	p := cfg.Gree.Polling
	schedule := gree.PollingSchedule{
		Normal:    gree.TierSettings{Interval: p.NormalInterval},
		Fast:      gree.TierSettings{Interval: p.FastInterval, Hold: p.FastHold},
		UltraFast: gree.TierSettings{Interval: p.UltraFastInterval, Hold: p.UltraFastHold},
		Immediate: gree.TierSettings{Interval: p.ImmediateInterval, Hold: p.ImmediateHold},
	}

	opts := gree.Options{
		BridgeID:          cfg.Bridge.ID,
		Version:           version,
		Topics:            topics,
		QoS:               byte(cfg.MQTT.QoS),
		Retain:            true,
		MQTT:              mqttClient,
		Communicator:      comm,
		Store:             registry,
		PollingSchedule:   schedule,
		Workers:           cfg.Gree.Dispatcher.Workers,
		QueueSize:         cfg.Gree.Dispatcher.QueueSize,
		CommandTimeout:    cfg.Gree.Dispatcher.CommandTimeout,
		DiscoveryInterval: cfg.Gree.RetryInterval,
		HealthInterval:    cfg.Health.Interval,
		Logger:            log,
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}

	bridge, err := gree.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Start(); err != nil {
		return nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("Gree bridge started",
		"devices_targeted", len(cfg.Gree.Network),
		"broadcast", cfg.Gree.Broadcast,
	)

	return bridge, nil
}
