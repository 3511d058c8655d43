// Package app wires the telemetry components from a Config.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/samijaber1/aegis-telemetry/internal/alert"
	"github.com/samijaber1/aegis-telemetry/internal/config"
	"github.com/samijaber1/aegis-telemetry/internal/ingest"
	"github.com/samijaber1/aegis-telemetry/internal/metrics"
	"github.com/samijaber1/aegis-telemetry/internal/report"
	"github.com/samijaber1/aegis-telemetry/internal/retention"
	"github.com/samijaber1/aegis-telemetry/internal/sampler"
	"github.com/samijaber1/aegis-telemetry/internal/scheduler"
	"github.com/samijaber1/aegis-telemetry/internal/storage"
	"github.com/samijaber1/aegis-telemetry/internal/storage/postgres"
	"github.com/samijaber1/aegis-telemetry/internal/storage/sqlite"
)

// OpenStore opens the configured backend. Postgres migrations are applied first.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.EventStore, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		if err := postgres.Migrate(ctx, cfg.Storage.PostgresDSN, logger); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		store, err := postgres.NewStore(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sqlite":
		store, err := sqlite.NewStore(cfg.Storage.SQLitePath, sqlite.Options{
			BusyTimeoutMS: cfg.Storage.BusyTimeoutMS,
			JournalMode:   cfg.Storage.JournalMode,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, &config.ConfigError{Key: "storage.driver", Message: fmt.Sprintf("unsupported driver %q", cfg.Storage.Driver)}
}

// App holds the wired components
type App struct {
	Store       storage.EventStore
	Metrics     *metrics.Metrics
	Ingestor    *ingest.Ingestor
	Sampler     *sampler.Sampler
	Reporter    *report.Reporter
	Evaluator   *alert.Evaluator
	RuleWatcher *alert.RuleWatcher // nil without alerts.rules_file
	Retention   *retention.Manager
	Scheduler   *scheduler.Scheduler

	redis *redis.Client
}

// New builds every component on top of store. reg receives the pipeline metrics.
func New(cfg *config.Config, store storage.EventStore, reg prometheus.Registerer, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	endpoints, err := cfg.SamplerEndpoints()
	if err != nil {
		return nil, err
	}

	a := &App{
		Store:    store,
		Metrics:  m,
		Ingestor: ingest.NewIngestor(store, logger, m),
		Sampler: sampler.New(store, sampler.Config{
			ProbeTimeout: cfg.ProbeTimeout(),
			Concurrency:  cfg.ProbeConcurrency,
			DiskPath:     cfg.System.DiskPath,
		}, logger, m),
		Reporter: report.NewReporter(store),
		Retention: retention.NewManager(store, retention.Config{
			EventDays:  cfg.RetentionDays,
			SampleDays: cfg.SampleRetentionDays,
		}, logger, m),
	}

	rules := alert.DefaultRules(cfg.Thresholds())
	var loader *alert.RuleLoader
	if cfg.Alerts.RulesFile != "" {
		loader, err = alert.NewRuleLoader()
		if err != nil {
			return nil, err
		}
		rules, err = loader.LoadFile(cfg.Alerts.RulesFile)
		if err != nil {
			return nil, err
		}
	}
	a.Evaluator, err = alert.NewEvaluator(rules)
	if err != nil {
		return nil, fmt.Errorf("compile alert rules: %w", err)
	}
	if loader != nil {
		a.RuleWatcher = alert.NewRuleWatcher(cfg.Alerts.RulesFile, loader, a.Evaluator, logger)
	}

	sinks := alert.MultiSink{alert.NewLogSink(logger, m)}
	if cfg.Alerts.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Alerts.RedisAddr})
		sinks = append(sinks, alert.NewRedisSink(a.redis, cfg.Alerts.RedisChannel))
	}

	a.Scheduler = scheduler.NewScheduler(scheduler.Deps{
		Sampler:   a.Sampler,
		Reporter:  a.Reporter,
		Evaluator: a.Evaluator,
		Sink:      sinks,
		Retention: a.Retention,
		Endpoints: endpoints,
	}, scheduler.Config{
		CycleSchedule:     cfg.Schedule.Cycle,
		RetentionSchedule: cfg.Schedule.Retention,
		ReportWindow:      cfg.ReportWindow(),
	}, logger, m)

	return a, nil
}

// Close releases the redis client and the store
func (a *App) Close() error {
	if a.redis != nil {
		a.redis.Close()
	}
	return a.Store.Close()
}
