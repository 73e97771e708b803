package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/italolelis/multifetch/internal/cleanup"
	"github.com/italolelis/multifetch/internal/config"
	"github.com/italolelis/multifetch/internal/downloader"
	"github.com/italolelis/multifetch/internal/engine"
	"github.com/italolelis/multifetch/internal/http/rest"
	"github.com/italolelis/multifetch/internal/logctx"
	"github.com/italolelis/multifetch/internal/notifier"
	"github.com/italolelis/multifetch/internal/storage/sqlite"
	"github.com/italolelis/multifetch/internal/targets"
	"github.com/italolelis/multifetch/internal/telemetry"
	"github.com/italolelis/multifetch/internal/transfer"
	"github.com/italolelis/multifetch/internal/transport"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("multifetch starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	repo := sqlite.NewInstrumentedOutcomeRepository(database, tel)

	// =========================================================================
	// Start Downloader
	d := downloader.NewDownloader(
		transfer.NewFileSinks(cfg.TargetDir),
		engineFactory(cfg, tel),
		repo,
		downloader.Options{
			MaxConcurrent:    cfg.MaxConcurrentTransfers,
			MaxWait:          cfg.MaxWait,
			ProgressInterval: cfg.ProgressInterval,
			Telemetry:        tel,
		},
	)

	// =========================================================================
	// Start Notification
	setupNotificationForDownloader(d, cfg)

	// =========================================================================
	// Start API Service
	batches := rest.NewBatchHandler(ctx, cfg.API.Username, cfg.API.Password, d, repo)
	server := setupServer(ctx, batches, tel, cfg)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		// Running batches observe the cancellation and finalize their
		// transfers as cancelled.
		batches.Wait()

		return ctx.Err()
	})

	// =========================================================================
	// Start Cleanup
	g.Go(func() error {
		runCleanup(ctx, repo, cfg)

		return nil
	})

	// =========================================================================
	// Start Targets File Batch
	if cfg.TargetsFile != "" {
		g.Go(func() error {
			return runTargetsFile(ctx, d, cfg.TargetsFile)
		})
	}

	logger.Info("waiting for batches...",
		"target_dir", cfg.TargetDir,
		"max_concurrent_transfers", cfg.MaxConcurrentTransfers,
		"retention", cfg.KeepDownloadedFor.String(),
	)

	return g.Wait()
}

// engineFactory builds a fresh multiplexer and engine for every batch.
func engineFactory(cfg *config.Config, tel *telemetry.Telemetry) downloader.EngineFactory {
	return func() *engine.Engine {
		mux := transport.NewHTTPMultiplexer(transport.Options{UserAgent: cfg.UserAgent})

		return engine.New(mux, engine.Options{
			ConnectTimeout: cfg.ConnectTimeout,
			TotalTimeout:   cfg.TotalTimeout,
			Telemetry:      tel,
		})
	}
}

func runTargetsFile(ctx context.Context, d *downloader.Downloader, path string) error {
	logger := logctx.LoggerFromContext(ctx)

	list, err := targets.LoadFromFile(path)
	if err != nil {
		return fmt.Errorf("failed to load targets: %w", err)
	}

	logger.Info("running targets file", "file", path, "targets", len(list))

	if _, err := d.RunBatch(ctx, uuid.NewString(), list); err != nil && !errors.Is(err, context.Canceled) {
		// A broken batch is reported but does not take the API down.
		logger.Error("targets file batch failed", "file", path, "err", err)
	}

	return nil
}

func setupNotificationForDownloader(d *downloader.Downloader, cfg *config.Config) {
	if cfg.DiscordWebhookURL == "" {
		return
	}

	notif := &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL, Client: &http.Client{Timeout: 10 * time.Second}}

	d.OnBatchFinished = func(ctx context.Context, b downloader.Batch) {
		// The batch context may already be cancelled at shutdown.
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		if err := notif.Notify(notifyCtx, notifier.BatchMessage(b)); err != nil {
			logctx.LoggerFromContext(ctx).Error("failed to send notification", "batch_id", b.ID, "err", err)
		}
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, batches *rest.BatchHandler, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Use(telemetry.HTTPLogging)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", tel.Handler())
	r.Mount("/", batches.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func runCleanup(ctx context.Context, repo *sqlite.InstrumentedOutcomeRepository, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	cleanupTicker := time.NewTicker(cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-cleanupTicker.C:
			tracked, err := repo.GetSucceeded()
			if err != nil {
				logger.Error("failed to get downloaded files for cleanup", "err", err)

				continue
			}

			if err := cleanup.DeleteExpiredFiles(ctx, tracked, cfg.TargetDir, cfg.KeepDownloadedFor); err != nil {
				logger.Error("failed to delete expired files", "err", err)
			}
		}
	}
}
