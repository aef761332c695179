// Stagehand - control plane for the game automation engine.
//
// Stagehand sits between concurrent HTTP callers and a single
// automation-engine session that must only ever be driven from one
// goroutine. Callers submit operations; a single worker executes them
// in priority order and publishes lifecycle events that observers
// follow over WebSocket or MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/veldt-labs/stagehand/migrations"

	"github.com/veldt-labs/stagehand/internal/api"
	"github.com/veldt-labs/stagehand/internal/engine"
	"github.com/veldt-labs/stagehand/internal/history"
	"github.com/veldt-labs/stagehand/internal/infrastructure/config"
	"github.com/veldt-labs/stagehand/internal/infrastructure/database"
	"github.com/veldt-labs/stagehand/internal/infrastructure/influxdb"
	"github.com/veldt-labs/stagehand/internal/infrastructure/logging"
	"github.com/veldt-labs/stagehand/internal/infrastructure/mqtt"
	"github.com/veldt-labs/stagehand/internal/progress"
	"github.com/veldt-labs/stagehand/internal/sidecar"
	"github.com/veldt-labs/stagehand/internal/taskqueue"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Stagehand",
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

	historyRepo := history.NewSQLiteRepository(db.DB)

	// Launch the engine sidecar (if managed)
	if cfg.Engine.Sidecar.Managed {
		sup, sidecarErr := startSidecar(ctx, cfg, log)
		if sidecarErr != nil {
			return fmt.Errorf("starting engine sidecar: %w", sidecarErr)
		}
		defer func() {
			log.Info("stopping engine sidecar")
			if stopErr := sup.Stop(); stopErr != nil {
				log.Error("error stopping engine sidecar", "error", stopErr)
			}
		}()
	} else {
		log.Info("engine sidecar not managed, expecting external daemon",
			"connection", cfg.Engine.Connection)
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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
	} else {
		log.Info("MQTT mirror disabled")
	}

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

	// Progress event bus
	bus := progress.NewBus(progress.Config{})
	defer bus.Close()

	// MQTT event mirror
	if mqttClient != nil {
		events, cancelSub := bus.SubscribeAll()
		mirror := mqtt.StartMirror(mqttClient, events, cancelSub, byte(cfg.MQTT.QoS), log)
		defer func() {
			log.Info("stopping MQTT mirror")
			mirror.Stop()
		}()
		log.Info("MQTT mirror started")
	}

	// Task queue and the worker that owns the engine session
	queue := taskqueue.NewQueue()
	worker := taskqueue.NewWorker(taskqueue.WorkerConfig{
		Queue:  queue,
		Bus:    bus,
		Logger: log.With("component", "worker"),
		Connect: func(ctx context.Context) (engine.Connector, error) {
			return connectEngine(ctx, cfg, log)
		},
		OnCompletion: completionHook(log, historyRepo, influxClient),
	})
	worker.Start()
	defer func() {
		log.Info("draining task queue")
		worker.Stop()
	}()
	log.Info("task worker started")

	// Periodic queue depth telemetry
	if influxClient != nil {
		go sampleQueueDepth(ctx, queue, influxClient)
	}

	// HTTP API server
	server, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Queue:   queue,
		Worker:  worker,
		Bus:     bus,
		History: historyRepo,
		DB:      db,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (stop accepting requests)
	// 2. Worker (drain queue, close engine session)
	// 3. MQTT mirror, bus, InfluxDB, MQTT, sidecar, database

	log.Info("Stagehand stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses STAGEHAND_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("STAGEHAND_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectEngine dials the engine daemon. Called lazily by the worker on
// the first envelope that needs the session.
func connectEngine(ctx context.Context, cfg *config.Config, log *logging.Logger) (engine.Connector, error) {
	session, err := engine.Connect(ctx, engine.Config{
		Connection:     cfg.Engine.Connection,
		ConnectTimeout: time.Duration(cfg.Engine.ConnectTimeoutSeconds) * time.Second,
		ReadTimeout:    time.Duration(cfg.Engine.ReadTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	session.SetLogger(log.With("component", "engine"))
	return session, nil
}

// completionHook records terminal tasks to history and telemetry.
func completionHook(log *logging.Logger, repo history.Repository, influx *influxdb.Client) taskqueue.CompletionHook {
	return func(env *taskqueue.Envelope, res taskqueue.Result) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := repo.Create(ctx, history.NewRecord(env, res)); err != nil {
			log.Error("failed to record task history",
				"task_id", env.ID, "error", err)
		}

		if influx != nil {
			influx.WriteTaskDuration(env.Operation, env.Mode.String(), res.DurationSeconds)
			status := "completed"
			if !res.Success {
				status = "failed"
			}
			influx.WriteTaskStatus(env.Operation, status)
		}
	}
}

// sampleQueueDepth writes queue depth to InfluxDB every 30 seconds until
// the context is cancelled.
func sampleQueueDepth(ctx context.Context, queue *taskqueue.Queue, influx *influxdb.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			high, normal := queue.Depth()
			influx.WriteQueueDepth(high, normal)
		}
	}
}

// startSidecar launches and supervises the engine daemon.
func startSidecar(ctx context.Context, cfg *config.Config, log *logging.Logger) (*sidecar.Supervisor, error) {
	sidecarCfg := sidecar.Config{
		Binary:              cfg.Engine.Sidecar.Binary,
		Args:                cfg.Engine.Sidecar.Args,
		RestartOnFailure:    cfg.Engine.Sidecar.RestartOnFailure,
		RestartDelay:        time.Duration(cfg.Engine.Sidecar.RestartDelaySeconds) * time.Second,
		MaxRestartAttempts:  cfg.Engine.Sidecar.MaxRestartAttempts,
		HealthCheckInterval: cfg.Engine.Sidecar.HealthCheckInterval,
		OnExit: func(err error) {
			if err != nil {
				log.Warn("engine sidecar exited", "error", err)
			}
		},
		OnRestart: func(attempt int) {
			log.Info("restarting engine sidecar", "attempt", attempt)
		},
	}

	sup := sidecar.NewSupervisor(sidecarCfg)
	sup.SetLogger(log.With("component", "sidecar"))

	log.Info("starting engine sidecar", "binary", sidecarCfg.Binary)
	if err := sup.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("engine sidecar started", "pid", sup.PID())

	return sup, nil
}
