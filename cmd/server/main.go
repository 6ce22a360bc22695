/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the SACCO payout engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Open the store (SQLite or PostgreSQL)
  3. Connect optional infrastructure (Redis cycle lock, RabbitMQ events)
  4. Create API handler with dependencies
  5. Start the cycle scheduler if CYCLE_SCHEDULE is set
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides SERVER_PORT)
  -db      SQLite database path (overrides DATABASE_PATH)
           Use ":memory:" for in-memory database

OPTIONAL INFRASTRUCTURE:
  REDIS_ADDR unset:   cycles are not locked across instances
  RABBITMQ_URL unset: events are logged at debug level instead of published
  A configured but unreachable Redis or RabbitMQ is logged and skipped.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler and wait for a running cycle
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close broker, Redis and database connections

EXAMPLES:
  ./server -db=":memory:"
  DATABASE_DRIVER=postgres DATABASE_URL=postgres://... ./server
  CYCLE_SCHEDULE="0 2 1 * *" CYCLE_TENANTS=sacco-001 ./server

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/sacco-engine/api"
	"github.com/warp/sacco-engine/config"
	"github.com/warp/sacco-engine/cyclelock"
	"github.com/warp/sacco-engine/events/rabbitmq"
	"github.com/warp/sacco-engine/payout"
	"github.com/warp/sacco-engine/store/postgres"
	"github.com/warp/sacco-engine/store/sqlite"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Flags
	port := flag.String("port", cfg.ServerPort, "HTTP server port")
	dbPath := flag.String("db", cfg.DatabasePath, "SQLite database path")
	flag.Parse()
	cfg.ServerPort = *port
	cfg.DatabasePath = *dbPath

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()
	logger.Info("database ready", "driver", cfg.DatabaseDriver)

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	opts := api.Options{
		Policy:         policy,
		LedgerAccounts: cfg.LedgerAccounts(),
		Logger:         logger,
	}

	if cfg.RedisAddr != "" {
		rdb, err := cyclelock.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("continuing without cycle lock", "error", err)
		} else {
			defer rdb.Close()
			opts.CycleLock = cyclelock.New(rdb, cfg.CycleLockTTL)
			logger.Info("cycle lock enabled", "redis_addr", cfg.RedisAddr, "ttl", cfg.CycleLockTTL)
		}
	}

	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			logger.Warn("continuing without event broker", "error", err)
		} else {
			publisher = producer
			logger.Info("publishing events", "exchange", payout.EventsExchange)
		}
	}
	defer publisher.Close()
	opts.Events = publisher

	handler := api.NewHandler(store, opts)

	var scheduler *api.CycleScheduler
	if cfg.CycleSchedule != "" {
		scheduler = api.NewCycleScheduler(handler.Cycles, logger, api.CycleSchedule{
			Spec:    cfg.CycleSchedule,
			Tenants: cfg.Tenants(),
			Period:  cfg.Period(),
			Actor:   cfg.CycleActor,
		})
		if err := scheduler.Start(); err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // cycles run synchronously
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")
	if scheduler != nil {
		<-scheduler.Stop().Done()
		logger.Info("scheduler stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (payout.Backend, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		return postgres.Open(ctx, cfg.DatabaseURL)
	default:
		return sqlite.New(cfg.DatabasePath)
	}
}
