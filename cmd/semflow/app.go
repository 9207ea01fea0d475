package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/semflow/budget"
	"github.com/c360studio/semflow/config"
	"github.com/c360studio/semflow/llm"
	"github.com/c360studio/semflow/model"
	"github.com/c360studio/semflow/observe"
	"github.com/c360studio/semflow/quality"
	"github.com/c360studio/semflow/store"
	"github.com/c360studio/semflow/workflow"
)

// combinedStore is the full persistence surface the app needs from a backend.
type combinedStore interface {
	workflow.Store
	workflow.BackupStore
	budget.LedgerStore
	model.Store
	quality.ReviewStore

	// PutModel seeds or updates a catalog entry.
	PutModel(ctx context.Context, m *model.Info) error
}

// app holds the wired engine and everything that needs closing on shutdown.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	engine    *workflow.Engine
	backend   combinedStore
	templates *workflow.TemplateRegistry
	monitor   *budget.Monitor
	registry  *model.Registry
	metrics   *observe.Metrics
	stream    *workflow.StreamEmitter
	natsConn  *nats.Conn
	closers   []func() error
}

func newLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func loadConfig(configPath string, logger *slog.Logger) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}
	return config.NewLoader(logger).Load()
}

// buildApp wires stores, registry, selector, monitor, gate, and engine from
// configuration. eventSink receives execution event frames; nil disables
// stream output (NATS events are still published when connected).
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, eventSink io.Writer) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	backend, err := a.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	a.backend = backend

	// Seed the model catalog so selection sees configured pricing even on a
	// fresh backend.
	for i := range cfg.Models.Catalog {
		m := cfg.Models.Catalog[i]
		if err := backend.PutModel(ctx, &m); err != nil {
			a.close()
			return nil, fmt.Errorf("seed model %s: %w", m.ID, err)
		}
	}

	a.registry = model.NewRegistry(backend)
	selector, err := model.NewSelectorWithPresets(a.registry, cfg.WeightPresets())
	if err != nil {
		a.close()
		return nil, err
	}

	a.monitor = budget.NewMonitor(backend,
		budget.WithLogger(logger),
		budget.WithDefaultLimits(budget.Limits{
			DailyLimit:       cfg.Budget.DailyLimit,
			MonthlyLimit:     cfg.Budget.MonthlyLimit,
			WarningThreshold: cfg.Budget.WarningThreshold,
			HardStop:         cfg.Budget.HardStop,
			AutoPause:        cfg.Budget.AutoPause,
		}),
	)

	gate := quality.NewGate(quality.WithGateLogger(logger))
	client := llm.NewClient(llm.WithLogger(logger))
	a.metrics = observe.NewMetrics()
	a.templates = workflow.NewTemplateRegistry()

	var wfStore workflow.Store = backend
	if cfg.Store.CacheTTL > 0 {
		wfStore = store.NewCachedWorkflowStore(backend, store.WithCacheTTL(cfg.Store.CacheTTL))
	}

	var emitters []workflow.Emitter
	if eventSink != nil {
		a.stream = workflow.NewStreamEmitter(eventSink)
		emitters = append(emitters, a.stream)
	}
	if a.natsConn != nil {
		emitters = append(emitters, workflow.NewNATSEmitter(a.natsConn, cfg.Events.SubjectPrefix, logger))
	}

	opts := []workflow.EngineOption{
		workflow.WithBackupStore(backend),
		workflow.WithMetricsUpdater(a.registry),
		workflow.WithRecorder(a.metrics),
		workflow.WithEngineLogger(logger),
	}
	if len(emitters) > 0 {
		opts = append(opts, workflow.WithEmitter(workflow.NewMultiEmitter(emitters...)))
	}
	if cfg.Quality.CorrectionAttempts > 0 {
		opts = append(opts, workflow.WithCorrector(quality.NewCorrector(gate, client,
			quality.WithMaxAttempts(cfg.Quality.CorrectionAttempts),
			quality.WithCorrectorLogger(logger),
		)))
	}
	if cfg.Quality.ReviewEnabled {
		opts = append(opts, workflow.WithReviewer(quality.NewReviewer(backend)))
	}

	a.engine = workflow.NewEngine(wfStore, a.templates, selector, a.monitor, gate, client, opts...)
	return a, nil
}

// openBackend connects the configured persistence backend.
func (a *app) openBackend(ctx context.Context) (combinedStore, error) {
	switch a.cfg.Store.Backend {
	case "memory":
		return store.NewMemoryStore(), nil

	case "redis":
		rs, err := store.NewRedisStore(store.RedisConfig{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
			PoolSize: a.cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, rs.Close)
		return rs, nil

	case "nats":
		nc, err := nats.Connect(a.cfg.NATS.URL,
			nats.Name(a.cfg.NATS.Name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("connect NATS: %w", err)
		}
		a.natsConn = nc
		a.closers = append(a.closers, func() error {
			nc.Close()
			return nil
		})

		js, err := jetstream.New(nc)
		if err != nil {
			return nil, fmt.Errorf("create JetStream context: %w", err)
		}
		ns, err := store.NewNATSStore(ctx, js)
		if err != nil {
			return nil, fmt.Errorf("initialize KV buckets: %w", err)
		}
		return ns, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}
