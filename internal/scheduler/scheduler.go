package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/samijaber1/aegis-telemetry/internal/alert"
	"github.com/samijaber1/aegis-telemetry/internal/metrics"
	"github.com/samijaber1/aegis-telemetry/internal/report"
	"github.com/samijaber1/aegis-telemetry/internal/retention"
	"github.com/samijaber1/aegis-telemetry/internal/sampler"
)

const (
	DefaultCycleSchedule     = "@every 5m"
	DefaultRetentionSchedule = "@daily"

	historySize = 20
)

// Config holds the cron specs and report window
type Config struct {
	CycleSchedule     string
	RetentionSchedule string // empty disables the retention job
	ReportWindow      time.Duration

	// ResultTTL marks cached results stale; usually the cycle interval
	ResultTTL time.Duration
}

// Scheduler runs monitoring cycles and retention on a cron schedule
type Scheduler struct {
	sampler   *sampler.Sampler
	reporter  *report.Reporter
	evaluator *alert.Evaluator
	sink      alert.Sink
	retention *retention.Manager
	endpoints []sampler.Endpoint
	cfg       Config
	cache     *ResultCache
	logger    *zap.Logger
	metrics   *metrics.Metrics

	// cycleMu serialises cycles from cron and manual triggers
	cycleMu sync.Mutex

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// Deps groups the components a Scheduler drives. Retention may be nil.
type Deps struct {
	Sampler   *sampler.Sampler
	Reporter  *report.Reporter
	Evaluator *alert.Evaluator
	Sink      alert.Sink
	Retention *retention.Manager
	Endpoints []sampler.Endpoint
}

// NewScheduler creates a new scheduler
func NewScheduler(deps Deps, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	if cfg.CycleSchedule == "" {
		cfg.CycleSchedule = DefaultCycleSchedule
	}
	if cfg.ResultTTL == 0 {
		cfg.ResultTTL = resultTTL(cfg.CycleSchedule, time.Now())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Sink == nil {
		deps.Sink = alert.MultiSink{}
	}
	return &Scheduler{
		sampler:   deps.Sampler,
		reporter:  deps.Reporter,
		evaluator: deps.Evaluator,
		sink:      deps.Sink,
		retention: deps.Retention,
		endpoints: deps.Endpoints,
		cfg:       cfg,
		cache:     NewResultCache(historySize),
		logger:    logger.Named("scheduler"),
		metrics:   m,
	}
}

// RunCycle samples endpoints, host and store, builds the performance report,
// evaluates alerts and hands them to the sink. A storage failure aborts the
// cycle; a sink failure is recorded but does not.
func (s *Scheduler) RunCycle(ctx context.Context) (*CycleResult, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	result := &CycleResult{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		TTL:       s.cfg.ResultTTL,
	}
	logger := s.logger.With(zap.String("cycle_id", result.ID))

	err := s.runCycle(ctx, result, logger)

	result.FinishedAt = time.Now().UTC()
	duration := result.FinishedAt.Sub(result.StartedAt)
	s.metrics.CycleObserved(err, duration)
	if err != nil {
		result.Error = err.Error()
		logger.Error("monitoring cycle failed", zap.Error(err), zap.Duration("duration", duration))
	} else {
		logger.Info("monitoring cycle completed",
			zap.Int("endpoints", len(result.Samples)),
			zap.Int("alerts", len(result.Alerts)),
			zap.Duration("duration", duration),
		)
	}
	s.cache.Set(result)

	return result, err
}

func (s *Scheduler) runCycle(ctx context.Context, result *CycleResult, logger *zap.Logger) error {
	samples, err := s.sampler.SampleEndpoints(ctx, s.endpoints)
	result.Samples = samples
	if err != nil {
		return fmt.Errorf("sample endpoints: %w", err)
	}

	sys, err := s.sampler.SampleSystem(ctx)
	result.System = sys
	if err != nil {
		return fmt.Errorf("sample system: %w", err)
	}

	storeMetrics, err := s.sampler.ProbeStore(ctx)
	result.StoreMetrics = storeMetrics
	if err != nil {
		return fmt.Errorf("probe store: %w", err)
	}

	rep, err := s.reporter.PerformanceReport(ctx, s.cfg.ReportWindow)
	if err != nil {
		return fmt.Errorf("performance report: %w", err)
	}
	result.Report = rep

	result.Alerts = s.evaluator.Evaluate(rep)
	if err := s.sink.Notify(ctx, result.Alerts); err != nil {
		result.SinkError = err.Error()
		logger.Warn("alert delivery failed", zap.Error(err))
	}
	return nil
}

// Start registers the cycle and retention jobs and starts the cron runner
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{s.logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := c.AddFunc(s.cfg.CycleSchedule, func() {
		s.RunCycle(ctx)
	}); err != nil {
		cancel()
		return fmt.Errorf("invalid cycle schedule %q: %w", s.cfg.CycleSchedule, err)
	}

	if s.retention != nil && s.cfg.RetentionSchedule != "" {
		if _, err := c.AddFunc(s.cfg.RetentionSchedule, func() {
			if err := s.retention.Run(ctx); err != nil {
				s.logger.Error("retention run failed", zap.Error(err))
			}
		}); err != nil {
			cancel()
			return fmt.Errorf("invalid retention schedule %q: %w", s.cfg.RetentionSchedule, err)
		}
	}

	c.Start()
	s.cron = c
	s.cancel = cancel
	s.running = true

	s.logger.Info("scheduler started",
		zap.String("cycle_schedule", s.cfg.CycleSchedule),
		zap.String("retention_schedule", s.cfg.RetentionSchedule),
		zap.Int("endpoints", len(s.endpoints)),
	)
	return nil
}

// Stop stops the scheduler and waits for running jobs to complete
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping scheduler")
	done := c.Stop()
	cancel()
	<-done.Done()
	s.logger.Info("scheduler stopped")
}

// Running reports whether Start has been called without Stop
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Cache returns the cycle result cache
func (s *Scheduler) Cache() *ResultCache {
	return s.cache
}

// Evaluator returns the alert evaluator
func (s *Scheduler) Evaluator() *alert.Evaluator {
	return s.evaluator
}

// resultTTL is two cycle intervals, so one missed cycle is tolerated. 0 when the schedule does not parse.
func resultTTL(spec string, now time.Time) time.Duration {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return 0
	}
	next := sched.Next(now)
	return 2 * sched.Next(next).Sub(next)
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
