package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/nidhogg/teamflow/internal/config"
	"github.com/nidhogg/teamflow/internal/events"
	"github.com/nidhogg/teamflow/internal/perf"
	pgstore "github.com/nidhogg/teamflow/internal/store"
	"github.com/nidhogg/teamflow/internal/team"
	"github.com/nidhogg/teamflow/internal/worker"
	"github.com/nidhogg/teamflow/internal/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// app is the wired engine and everything it depends on.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	teams    team.Directory
	engine   *workflow.Engine
	tracker  *perf.Tracker
	registry *prometheus.Registry
	closers  []func()
}

func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Server.LogLevel = g.logLevel
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = lvl
	return zc.Build()
}

func newApp(ctx context.Context, g *globalFlags) (*app, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	// Team directory: PostgreSQL when configured, in memory otherwise.
	var dir team.Directory = team.NewMemoryDirectory()
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, keeping teams in memory", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx, cfg.MigrationsDir); mErr != nil {
				ps.Close()
				a.Close()
				return nil, fmt.Errorf("migrate: %w", mErr)
			}
			dir = ps
			a.closers = append(a.closers, ps.Close)
		}
	}
	a.teams = dir

	if cfg.TeamsFile != "" {
		if _, statErr := os.Stat(cfg.TeamsFile); statErr == nil {
			teams, loadErr := team.LoadFile(cfg.TeamsFile)
			if loadErr != nil {
				a.Close()
				return nil, loadErr
			}
			if err := team.Seed(ctx, dir, teams); err != nil {
				a.Close()
				return nil, err
			}
			logger.Info("Teams loaded", zap.String("file", cfg.TeamsFile), zap.Int("count", len(teams)))
		}
	}

	var w workflow.WorkerExecutor
	switch cfg.Worker.Type {
	case config.WorkerRemote:
		w = worker.NewRemote(cfg.Worker.Endpoint, cfg.Worker.Timeout(), logger)
	default:
		w = worker.NewSimulated(cfg.Worker.Delay(), logger)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.tracker = perf.NewTracker(a.registry, logger)

	exec := workflow.NewStageExecutor(w, logger)
	exec.SetRecorder(a.tracker)
	a.engine = workflow.NewEngine(dir, exec, logger)
	a.engine.AddSink(a.tracker)

	if cfg.Database.Redis.URL != "" {
		stream, rErr := events.NewRedisStream(cfg.Database.Redis.URL, logger)
		if rErr != nil {
			logger.Warn("Redis unavailable, run events stay local", zap.Error(rErr))
		} else {
			a.engine.AddSink(stream)
			a.closers = append(a.closers, func() { _ = stream.Close() })
		}
	}

	if s := cfg.Notify.Slack; s.Enabled {
		if s.WebhookURL != "" {
			a.engine.AddSink(events.NewSlackWebhookNotifier(s.WebhookURL, logger))
		} else {
			a.engine.AddSink(events.NewSlackBotNotifier(s.BotToken, s.Channel, logger))
		}
		logger.Info("Slack notifications enabled")
	}

	return a, nil
}

// Close stops the engine and releases connections in reverse order.
func (a *app) Close() {
	if a.engine != nil {
		a.engine.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
