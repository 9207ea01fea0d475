package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/semflow/config"
)

// sweepInterval is how often the server retries failed steps and cleans up
// old completed workflows.
const sweepInterval = time.Minute

func serveCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration server",
		Long: `Starts the engine against the configured backend and keeps it running:
failed steps with retry budget left are retried periodically, completed
workflows past the retention window are cleaned up, and execution events
are published to NATS.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configPath, *logLevel)
		},
	}
}

func serve(configPath, logLevel string) error {
	logger := newLogger(logLevel)

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info("Metrics endpoint listening", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics endpoint failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	if configPath != "" {
		watcher, err := config.NewWatcher(config.WatcherConfig{Path: configPath, Logger: logger})
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
		go applyConfigUpdates(ctx, a, watcher)
	}

	go sweepLoop(ctx, a)

	logger.Info("Semflow ready",
		"version", Version,
		"backend", cfg.Store.Backend)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("Shutting down", "signal", s.String())
	return nil
}

// applyConfigUpdates consumes hot-reloaded configs. Only the model catalog
// takes effect live; connection and backend changes need a restart.
func applyConfigUpdates(ctx context.Context, a *app, watcher *config.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-watcher.Updates():
			if !ok {
				return
			}
			for i := range cfg.Models.Catalog {
				m := cfg.Models.Catalog[i]
				if err := a.backend.PutModel(ctx, &m); err != nil {
					a.logger.Warn("Model reload failed", "model", m.ID, "error", err)
				}
			}
			a.registry.Invalidate()
			a.logger.Info("Model catalog reloaded", "models", len(cfg.Models.Catalog))
		}
	}
}

// sweepLoop periodically retries failed steps and removes workflows past the
// retention window.
func sweepLoop(ctx context.Context, a *app) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := a.engine.AutoRetryFailedSteps(ctx); err != nil {
				a.logger.Warn("Auto-retry sweep failed", "error", err)
			} else if n > 0 {
				a.logger.Info("Auto-retried failed steps", "count", n)
			}

			if retain := a.cfg.Store.RetainCompleted; retain > 0 {
				if n, err := a.engine.Cleanup(ctx, retain); err != nil {
					a.logger.Warn("Cleanup sweep failed", "error", err)
				} else if n > 0 {
					a.logger.Info("Cleaned up completed workflows", "count", n)
				}
			}
		}
	}
}
