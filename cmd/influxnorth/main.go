// influxnorth forwards buffered sensor readings to an InfluxDB database.
//
// Readings arrive on MQTT and are buffered in SQLite. A north task drains
// the buffer in blocks, converting each reading into a point and writing it
// to the configured destination. Delivery progress is kept per stream so
// a restart resumes where the last successful block ended.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/influx-north/internal/api"
	"github.com/nerrad567/influx-north/internal/forwarder"
	"github.com/nerrad567/influx-north/internal/infrastructure/config"
	"github.com/nerrad567/influx-north/internal/infrastructure/database"
	"github.com/nerrad567/influx-north/internal/infrastructure/influxdb"
	"github.com/nerrad567/influx-north/internal/infrastructure/logging"
	"github.com/nerrad567/influx-north/internal/infrastructure/mqtt"
	"github.com/nerrad567/influx-north/internal/ingest"
	"github.com/nerrad567/influx-north/internal/north"
	"github.com/nerrad567/influx-north/internal/readingstore"
	"github.com/nerrad567/influx-north/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// closeTimeout bounds the final flush of the forwarder on shutdown.
const closeTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the components together and blocks until ctx is cancelled.
// Returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting influxnorth",
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

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", db.Path())

	if migrateErr := db.Migrate(ctx, migrations.FS, migrations.Dir); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store := readingstore.NewSQLiteStore(db)

	fwd := forwarder.New(cfg.InfluxDB, &influxdb.Dialer{
		Token:           cfg.InfluxDB.Token,
		Org:             cfg.InfluxDB.Org,
		RetentionPolicy: cfg.InfluxDB.RetentionPolicy,
		Timeout:         cfg.GetInfluxTimeout(),
		Logger:          log,
	}, log)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		log.Info("closing forwarder")
		if closeErr := fwd.Close(closeCtx); closeErr != nil {
			log.Error("error closing forwarder", "error", closeErr)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	task := north.New(cfg.North, store, fwd, north.NewMetrics(registry), log)

	checks := map[string]api.HealthChecker{"database": db}

	var ingestSvc *ingest.Service
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", mqtt.BrokerURL(cfg.MQTT),
			"client_id", mqttClient.ClientID(),
		)
		checks["mqtt"] = mqttClient

		ingestSvc = ingest.New(cfg.MQTT.Topic, byte(cfg.MQTT.QoS), mqttClient, store, log) //nolint:gosec // QoS validated to 0..2
		if startErr := ingestSvc.Start(ctx); startErr != nil {
			return fmt.Errorf("starting ingest: %w", startErr)
		}
		defer func() {
			if stopErr := ingestSvc.Stop(); stopErr != nil {
				log.Error("error stopping ingest", "error", stopErr)
			}
		}()
	} else {
		log.Info("MQTT ingest disabled")
	}

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:    cfg.API,
			Logger:    log,
			Version:   version,
			Forwarder: fwd,
			North:     task,
			Checks:    checks,
			Gatherer:  registry,
		}
		if ingestSvc != nil {
			deps.Ingest = ingestSvc
		}

		server, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if runErr := task.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			log.Error("north task exited", "error", runErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// The north task must stop before the forwarder and database close.
	wg.Wait()

	log.Info("influxnorth stopped")
	return nil
}

// getConfigPath returns INFLUXNORTH_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("INFLUXNORTH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck returns the first failing check, in a fixed order.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for _, name := range []string{"database", "mqtt"} {
		check, ok := checks[name]
		if !ok {
			continue
		}
		if err := check.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
