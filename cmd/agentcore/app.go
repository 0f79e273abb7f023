package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/stancsz/agentcore/internal/config"
	"github.com/stancsz/agentcore/internal/contextstore"
	"github.com/stancsz/agentcore/internal/embedding"
	"github.com/stancsz/agentcore/internal/engine"
	"github.com/stancsz/agentcore/internal/episodic"
	"github.com/stancsz/agentcore/internal/history"
	"github.com/stancsz/agentcore/internal/lockstore"
	"github.com/stancsz/agentcore/internal/memoryrpc"
	"github.com/stancsz/agentcore/internal/otel"
	"github.com/stancsz/agentcore/internal/shared"
	"github.com/stancsz/agentcore/internal/telemetry"
	"github.com/stancsz/agentcore/internal/tenant"
	"github.com/stancsz/agentcore/internal/workerpool"
)

// app bundles the wired core shared by the daemon and the one-shot commands.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	logClose io.Closer
	provider *otel.Provider
	metrics  *otel.Metrics
	locks    *lockstore.Store
	contexts *contextstore.Manager
	episodes *episodic.Store
	mirror   *memoryrpc.Client
}

// openApp loads config and wires the stores. company, when non-empty,
// overrides the configured default tenant for this invocation.
func openApp(ctx context.Context, company string, quiet bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if company != "" {
		if err := tenant.ValidateID(company); err != nil {
			return nil, err
		}
		cfg.Company = company
	}

	logger, logClose, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	slog.SetDefault(logger)

	provider, err := otel.Init(ctx, cfg.OTel)
	if err != nil {
		_ = logClose.Close()
		return nil, fmt.Errorf("otel init: %w", err)
	}
	metrics, err := otel.NewMetrics(provider.Meter)
	if err != nil {
		_ = logClose.Close()
		return nil, fmt.Errorf("otel metrics: %w", err)
	}

	locks := lockstore.New(cfg.DataPath(),
		lockstore.WithLogger(logger),
		lockstore.WithMetrics(metrics),
	)

	managerOpts := []contextstore.ManagerOption{contextstore.WithManagerLogger(logger)}
	var mirror *memoryrpc.Client
	if cfg.RemoteMemory.URL != "" {
		mirror = memoryrpc.NewClient(cfg.RemoteMemory.URL, logger)
		managerOpts = append(managerOpts, contextstore.WithMirror(mirror))
	}
	contexts := contextstore.NewManager(locks, managerOpts...)

	episodes := episodic.NewStore(locks, embedding.NewHashEmbedder(0),
		episodic.WithLogger(logger),
		episodic.WithMetrics(metrics),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		logClose: logClose,
		provider: provider,
		metrics:  metrics,
		locks:    locks,
		contexts: contexts,
		episodes: episodes,
		mirror:   mirror,
	}, nil
}

// tenantID resolves the tenant this invocation operates on.
func (a *app) tenantID() string {
	if a.cfg.Company != "" {
		return a.cfg.Company
	}
	return shared.DefaultTenant
}

func (a *app) close(ctx context.Context) {
	if a.mirror != nil {
		_ = a.mirror.Close()
	}
	if err := a.provider.Shutdown(ctx); err != nil {
		a.logger.Warn("otel shutdown", "error", err)
	}
	_ = a.logClose.Close()
}

// newPool builds the worker pool from config: subprocess workers by default,
// remote streaming workers when a remote endpoint is configured.
func (a *app) newPool() *workerpool.Pool {
	endpoint := "local"
	factory := workerpool.RunnerFactory(func(string) workerpool.Runner {
		return workerpool.NewLocalRunner(a.cfg.Workers.Command, a.cfg.Workers.Args)
	})
	if url := a.cfg.RemoteWorker.URL; url != "" {
		endpoint = url
		factory = func(string) workerpool.Runner {
			return workerpool.NewRemoteRunner(url, a.logger)
		}
	}
	return workerpool.NewPool(a.cfg.Workers.PoolSize, endpoint, factory,
		workerpool.WithPoolLogger(a.logger),
		workerpool.WithPoolMetrics(a.metrics),
	)
}

func (a *app) openHistory() (*history.Index, error) {
	return history.Open(filepath.Join(a.cfg.DataPath(), "history.db"))
}

func (a *app) newEngine(pool *workerpool.Pool, idx *history.Index) *engine.Engine {
	return engine.New(engine.Config{
		Pool:        pool,
		Contexts:    a.contexts,
		Episodes:    a.episodes,
		History:     idx,
		Logger:      a.logger,
		Metrics:     a.metrics,
		Tracer:      a.provider.Tracer,
		TaskTimeout: a.cfg.TaskTimeout(),
	})
}

func (a *app) statePath() string {
	return filepath.Join(a.cfg.DataPath(), "scheduler_state.json")
}

func (a *app) runsDir() string {
	return filepath.Join(a.cfg.DataPath(), "runs")
}
