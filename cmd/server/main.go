/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the membership engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and environment configuration, then parse flags
  2. Open the SQLite store and the accounting ledger
  3. Load the association settings document
  4. Build notification sinks (log, plus email when SMTP is configured)
  5. Create API handler, scheduler and router
  6. Serve until SIGINT/SIGTERM

COMMAND-LINE FLAGS (override environment):
  -port           HTTP server port (PORT, default: 8080)
  -db             SQLite database path (DB_PATH, default: membership.db)
  -accounting-db  Ledger database path (ACCOUNTING_DB_PATH, default: accounting.db)
                  Use ":memory:" for in-memory databases

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests (SHUTDOWN_TIMEOUT)
  4. Close database connections

EXAMPLES:
  ./server -db="./data/membership.db" -accounting-db="./data/accounting.db"
  SETTINGS_FILE=settings.json LOG_PRETTY=true ./server -port=3000

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - api/scheduler.go: Recurring jobs
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/shifa/membership-engine/api"
	"github.com/shifa/membership-engine/config"
	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/factory"
	"github.com/shifa/membership-engine/logging"
	"github.com/shifa/membership-engine/metrics"
	"github.com/shifa/membership-engine/notify"
	"github.com/shifa/membership-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Flags
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.AccountingDBPath, "accounting-db", cfg.AccountingDBPath, "Accounting ledger database path")
	flag.Parse()

	logger := logging.New(cfg.LogLevel, cfg.LogPretty)

	// Initialize stores
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	ledger, err := sqlite.NewAccounting(cfg.AccountingDBPath)
	if err != nil {
		return fmt.Errorf("initialize accounting ledger: %w", err)
	}
	defer ledger.Close()

	settings, err := factory.NewSettingsFactory().LoadFile(cfg.SettingsFile)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if settings.Fund == nil {
		logger.Warn().Msg("medical fund not configured; claim approvals will fail")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	handler := api.NewHandler(api.Config{
		Store:      store,
		Accounting: ledger,
		Contacts:   ledger,
		Settings:   settings,
		Sink:       buildSink(cfg, settings, logger),
		Clock:      core.SystemClock{},
		Logger:     logger,
		Metrics:    metrics.New(reg),
	})
	handler.Scheduler.CheckInterval = cfg.SchedulerInterval
	handler.Scheduler.Enabled = cfg.SchedulerEnabled

	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
		Gatherer:    reg,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Int("port", cfg.Port).Str("db", cfg.DBPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		handler.Scheduler.Start()
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		handler.Scheduler.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// buildSink logs every notification and mails it when SMTP is configured.
func buildSink(cfg *config.Config, settings *factory.Settings, logger zerolog.Logger) core.NotificationSink {
	logSink := notify.NewLogSink(logger)
	if !cfg.HasSMTP() {
		return logSink
	}
	email := notify.NewEmailSink(notify.EmailConfig{
		Host:       cfg.SMTPHost,
		Port:       cfg.SMTPPort,
		User:       cfg.SMTPUsername,
		Password:   cfg.SMTPPassword,
		From:       cfg.SMTPFrom,
		Governance: settings.Governance,
	})
	return notify.Fanout{logSink, email}
}
