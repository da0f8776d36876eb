/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the hours engine server. Handles configuration,
  dependency injection, hot config reload, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Build zap logger
  3. Load and compile the pricing config
  4. Initialize SQLite store, ledger, catalog, checkout
  5. Watch the config file for changes (fsnotify)
  6. Start HTTP server and expiration sweeper with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: hours.db)
           Use ":memory:" for in-memory database
  -config  Pricing config YAML path (default: config/pricing.yaml)

HOT RELOAD:
  Editing the config file recompiles the calculator and rebuilds the
  catalog without restarting. An invalid config is logged and ignored;
  the previous snapshot stays live. Quotes carry the config version so
  checkout can reject prices from a superseded snapshot.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper and config watcher
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/hours.db"

  # Run with in-memory database and custom config
  ./server -db=":memory:" -config="./pricing.yaml"

SEE ALSO:
  - api/server.go: Router configuration
  - pricing/config.go: Config schema and validation
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/limpahora/hours-engine/api"
	"github.com/limpahora/hours-engine/catalog"
	"github.com/limpahora/hours-engine/checkout"
	"github.com/limpahora/hours-engine/credit"
	"github.com/limpahora/hours-engine/pricing"
	"github.com/limpahora/hours-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "hours.db", "SQLite database path")
	configPath := flag.String("config", "config/pricing.yaml", "pricing config YAML path")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load pricing config
	cfg, err := pricing.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load pricing config", zap.Error(err))
	}

	calc := pricing.Compile(cfg, configVersion(1))
	source := pricing.NewSource(calc)

	cat, err := catalog.New(calc)
	if err != nil {
		logger.Fatal("failed to build catalog", zap.Error(err))
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	ledger := credit.NewLedger(store,
		credit.WithExpiryDays(calc.CreditExpiryDays()),
		credit.WithLogger(logger))

	orchestrator := checkout.NewOrchestrator(source, &checkout.Sandbox{}, store, ledger, logger)

	// Watch the config file for hot reload
	watcher, err := watchConfig(*configPath, source, cat, logger)
	if err != nil {
		logger.Warn("config hot reload disabled", zap.Error(err))
	} else {
		defer watcher.Close()
	}

	// Expiration sweeper
	sweeper := api.NewExpirationSweeper(ledger, logger)
	sweeper.Start()
	defer sweeper.Stop()

	// Create router and server
	handler := api.NewHandler(source, cat, ledger, orchestrator, logger)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			zap.Int("port", *port),
			zap.String("config_version", calc.Version()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func configVersion(n int) string {
	return fmt.Sprintf("v%d", n)
}

// watchConfig recompiles the pricing snapshot whenever the config file
// changes. Editors often replace the file (rename+create), so the watch
// is on the directory and filtered by name.
func watchConfig(path string, source *pricing.Source, cat *catalog.Catalog, logger *zap.Logger) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		version := 1
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				cfg, err := pricing.Load(path)
				if err != nil {
					logger.Error("config reload rejected, keeping previous snapshot",
						zap.Error(err))
					continue
				}

				version++
				calc := pricing.Compile(cfg, configVersion(version))
				source.Swap(calc)
				if err := cat.Reload(calc); err != nil {
					logger.Error("catalog rebuild failed, catalog keeps previous snapshot",
						zap.Error(err))
					continue
				}

				logger.Info("pricing config reloaded",
					zap.String("config_version", calc.Version()))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("config watcher error", zap.Error(err))
			}
		}
	}()

	return watcher, nil
}
