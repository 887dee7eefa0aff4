/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll calculation server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Initialize logger
  3. Open the store (SQLite or PostgreSQL)
  4. Load jurisdiction profiles, applying the YAML overlay if configured
  5. Create service, handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides APP_PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database
  -env     Path of the .env file (default: .env)

ENVIRONMENT:
  APP_PORT, APP_STAGE, LOG_LEVEL, DB_DRIVER, DB_PATH, DATABASE_URL,
  JURISDICTIONS_FILE, CORS_ALLOWED_ORIGINS, RATE_LIMIT_RPS, RATE_LIMIT_BURST

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go, store/postgres/postgres.go: Stores
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/logger"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/postgres"
	"github.com/warp/payroll-engine/store/sqlite"
	"go.uber.org/zap"
)

// backend is what the server needs from a store.
type backend interface {
	generic.Store
	factory.RecordStore
	api.Store
	Close() error
}

func main() {
	// Flags
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	envFile := flag.String("env", ".env", "Path of the .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.App.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log, err := logger.InitLogger(cfg.App.Stage, cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info("store ready", zap.String("driver", cfg.Database.Driver))

	profiles, err := factory.ProfileTable(cfg.Payroll.JurisdictionsFile)
	if err != nil {
		return errors.Wrap(err, "load jurisdiction profiles")
	}
	if cfg.Payroll.JurisdictionsFile != "" {
		log.Info("jurisdiction overlay applied", zap.String("file", cfg.Payroll.JurisdictionsFile))
	}

	plans := factory.NewPlanRepository(store)
	svc := payroll.NewService(payroll.NewEngine(profiles), generic.NewLedger(store), plans, payroll.WithLogger(log))
	handler := api.NewHandler(svc, plans, store, log)
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RateLimitRPS:   cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst: cfg.RateLimit.Burst,
		Logger:         log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.Int("port", cfg.App.Port), zap.String("stage", cfg.App.Stage))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return errors.Wrap(err, "listen")
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server forced to shutdown")
	}

	log.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (backend, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite store")
		}
		return s, nil
	case "postgres":
		if cfg.URL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres driver")
		}
		s, err := postgres.New(ctx, cfg.URL)
		if err != nil {
			return nil, errors.Wrap(err, "open postgres store")
		}
		return s, nil
	}
	return nil, errors.Errorf("unknown DB_DRIVER %q", cfg.Driver)
}
