package sampler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samijaber1/aegis-telemetry/internal/event"
	"github.com/samijaber1/aegis-telemetry/internal/metrics"
	"github.com/samijaber1/aegis-telemetry/internal/storage"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultProbeTimeout = 10 * time.Second
	DefaultConcurrency  = 4

	maxErrorBody    = 4 << 10
	maxErrorMessage = 512
)

// Config controls probing and host sampling
type Config struct {
	ProbeTimeout time.Duration
	Concurrency  int
	DiskPath     string

	// Host defaults to GopsutilReader
	Host HostReader

	// Client defaults to a plain http.Client; per-probe timeouts come from the request context
	Client *http.Client
}

// Sampler takes API, host and store samples and persists them
type Sampler struct {
	store   storage.EventStore
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a sampler. logger and m may be nil.
func New(store storage.EventStore, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Sampler {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	if cfg.Host == nil {
		cfg.Host = GopsutilReader{}
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sampler{
		store:   store,
		cfg:     cfg,
		logger:  logger.Named("sampler"),
		metrics: m,
		now:     time.Now,
	}
}

// SampleEndpoints probes every endpoint and persists one sample each, in endpoint order.
// Probe failures become failed samples; only a storage failure is returned.
func (s *Sampler) SampleEndpoints(ctx context.Context, endpoints []Endpoint) ([]event.ApiSample, error) {
	samples := make([]event.ApiSample, len(endpoints))

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for i, ep := range endpoints {
		i, ep := i, ep
		g.Go(func() error {
			samples[i] = s.probe(ctx, ep)
			return nil
		})
	}
	g.Wait()

	for i := range samples {
		if err := s.store.InsertAPISample(ctx, &samples[i]); err != nil {
			return samples, fmt.Errorf("failed to persist sample for %s: %w", samples[i].Endpoint, err)
		}
	}

	return samples, nil
}

func (s *Sampler) probe(ctx context.Context, ep Endpoint) event.ApiSample {
	timeout := s.cfg.ProbeTimeout
	if ep.Timeout > 0 {
		timeout = ep.Timeout
	}
	method := ep.Method
	if method == "" {
		method = http.MethodGet
	}

	sample := event.ApiSample{
		Timestamp: s.now().UTC(),
		Endpoint:  ep.ID(),
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, strings.ToUpper(method), ep.URL, nil)
	if err != nil {
		sample.ErrorMessage = err.Error()
		s.observe(ep, sample, 0)
		return sample
	}

	start := time.Now()
	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		sample.ErrorMessage = err.Error()
		s.observe(ep, sample, time.Since(start))
		return sample
	}
	defer resp.Body.Close()

	var body []byte
	healthy := ep.IsHealthy(resp.StatusCode)
	if !healthy {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	} else {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	}
	elapsed := time.Since(start)

	sample.StatusCode = resp.StatusCode
	sample.ResponseTime = float64(elapsed) / float64(time.Millisecond)
	sample.Success = healthy
	if !healthy {
		sample.ErrorMessage = errorMessage(resp.StatusCode, body)
	}

	s.observe(ep, sample, elapsed)
	return sample
}

func (s *Sampler) observe(ep Endpoint, sample event.ApiSample, elapsed time.Duration) {
	s.metrics.ProbeObserved(sample.Endpoint, sample.Success, elapsed)
	if !sample.Success {
		s.logger.Warn("probe failed",
			zap.String("endpoint", sample.Endpoint),
			zap.String("url", ep.URL),
			zap.Int("status", sample.StatusCode),
			zap.String("error", sample.ErrorMessage),
		)
	}
}

// errorMessage prefers the error/message field of a JSON body, then the raw text
func errorMessage(status int, body []byte) string {
	if gjson.ValidBytes(body) {
		for _, key := range []string{"error", "message", "detail"} {
			if r := gjson.GetBytes(body, key); r.Exists() && r.String() != "" {
				return truncate(r.String())
			}
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fmt.Sprintf("%d %s", status, http.StatusText(status))
	}
	return truncate(text)
}

func truncate(s string) string {
	if len(s) <= maxErrorMessage {
		return s
	}
	return s[:maxErrorMessage] + "..."
}

// SampleSystem reads host resources and persists the sample.
// If any reading fails the partial sample is returned with Partial set and is not persisted.
func (s *Sampler) SampleSystem(ctx context.Context) (*event.SystemSample, error) {
	sample := &event.SystemSample{Timestamp: s.now().UTC()}
	host := s.cfg.Host

	var err error
	if sample.CPUPercent, err = host.CPUPercent(ctx); err != nil {
		s.readFailed("cpu", err)
		sample.Partial = true
	}
	if sample.MemoryPercent, err = host.MemoryPercent(ctx); err != nil {
		s.readFailed("memory", err)
		sample.Partial = true
	}
	if sample.DiskPercent, err = host.DiskPercent(ctx, s.cfg.DiskPath); err != nil {
		s.readFailed("disk", err)
		sample.Partial = true
	}
	if sample.Network, err = host.NetworkIO(ctx); err != nil {
		s.readFailed("network", err)
		sample.Partial = true
	}

	if sample.Partial {
		return sample, nil
	}

	if err := s.store.InsertSystemSample(ctx, sample); err != nil {
		return sample, fmt.Errorf("failed to persist system sample: %w", err)
	}

	s.logger.Debug("system sampled",
		zap.Float64("cpu", sample.CPUPercent),
		zap.Float64("memory", sample.MemoryPercent),
		zap.Float64("disk", sample.DiskPercent),
	)
	return sample, nil
}

func (s *Sampler) readFailed(reading string, err error) {
	s.logger.Warn("host reading failed", zap.String("reading", reading), zap.Error(err))
}

// ProbeStore times a store round trip and records db_query_time and db_connections
func (s *Sampler) ProbeStore(ctx context.Context) ([]event.PerformanceMetric, error) {
	start := time.Now()
	if err := s.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}
	queryTime := float64(time.Since(start)) / float64(time.Millisecond)
	stats := s.store.Stats()

	var out []event.PerformanceMetric
	for _, m := range []struct {
		name  string
		value float64
		unit  string
	}{
		{"db_query_time", queryTime, "ms"},
		{"db_connections", float64(stats.OpenConnections), "count"},
	} {
		metric, err := s.RecordMetric(ctx, m.name, m.value, m.unit, "")
		if err != nil {
			return out, err
		}
		out = append(out, *metric)
	}
	return out, nil
}

// RecordMetric appends a named performance metric
func (s *Sampler) RecordMetric(ctx context.Context, name string, value float64, unit, tags string) (*event.PerformanceMetric, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("metric name is required")
	}
	metric := &event.PerformanceMetric{
		Timestamp: s.now().UTC(),
		Name:      name,
		Value:     value,
		Unit:      unit,
		Tags:      tags,
	}
	if err := s.store.InsertPerformanceMetric(ctx, metric); err != nil {
		return nil, fmt.Errorf("failed to persist metric %s: %w", name, err)
	}
	return metric, nil
}
