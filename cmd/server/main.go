/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the skill engine HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (defaults, optional YAML file, SKILLS_* env)
  2. Apply command-line flag overrides
  3. Initialize logger, SQLite store and user directory
  4. Build the engine, handler, router and reconciler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: ./config.yaml if present)
  -port    HTTP server port (overrides server.port)
  -db      SQLite database path (overrides storage.db_path)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reconciler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  ./server -db="./data/skills.db"
  ./server -db=":memory:" -port=3000
  SKILLS_EVENTS_MAX_PER_WINDOW=3 SKILLS_EVENTS_WINDOW=day ./server

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/skill-engine/api"
	"github.com/warp/skill-engine/config"
	"github.com/warp/skill-engine/logger"
	"github.com/warp/skill-engine/skills"
	"github.com/warp/skill-engine/store/sqlite"
	"github.com/warp/skill-engine/users"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "Path to YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Storage.DBPath = *dbPath
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal("failed to initialize database", "path", cfg.Storage.DBPath, "error", err)
	}
	defer store.Close()

	dir := newDirectory(cfg)
	engine := skills.New(store, dir,
		skills.WithRepeatPolicy(cfg.RepeatPolicy()),
		skills.WithBatchConcurrency(cfg.Events.BatchConcurrency),
	)

	reconciler := api.NewReconciler(engine, log.With("component", "reconciler"), cfg.Reconcile.Interval)
	handler := api.NewHandler(api.Deps{
		Engine:      engine,
		Directory:   dir,
		Store:       store,
		Log:         log,
		Reconciler:  reconciler,
		FormTimeout: cfg.Directory.Timeout,
	})
	router := api.NewRouter(handler, api.RouterOptions{CORSOrigins: cfg.Server.CORSOrigins})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	reconciler.Start()

	go func() {
		log.Info("server starting",
			"addr", server.Addr,
			"db", cfg.Storage.DBPath,
			"directory", cfg.Directory.Mode,
			"repeat_policy", engine.Policy().String(),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	reconciler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		return
	}

	log.Info("server stopped")
}

func newDirectory(cfg *config.Config) users.Directory {
	if cfg.Directory.Mode == "http" {
		return users.NewHTTP(cfg.Directory.BaseURL,
			users.WithRateLimit(cfg.Directory.RatePerSec),
			users.WithTimeout(cfg.Directory.Timeout),
		)
	}
	return users.NewMemory(cfg.Directory.Open)
}
