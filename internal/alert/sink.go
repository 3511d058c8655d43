package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/samijaber1/aegis-telemetry/internal/event"
	"github.com/samijaber1/aegis-telemetry/internal/metrics"
)

// Sink delivers the alerts of one cycle
type Sink interface {
	Notify(ctx context.Context, alerts []Alert) error
}

// LogSink writes each alert as a structured log line
type LogSink struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewLogSink creates a log sink. m may be nil.
func NewLogSink(logger *zap.Logger, m *metrics.Metrics) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("alert"), metrics: m}
}

func (s *LogSink) Notify(_ context.Context, alerts []Alert) error {
	for _, a := range alerts {
		level := zapcore.WarnLevel
		if a.Severity == event.SeverityCritical {
			level = zapcore.ErrorLevel
		}
		if ce := s.logger.Check(level, a.Message); ce != nil {
			ce.Write(
				zap.String("rule", a.Rule),
				zap.String("type", a.Type),
				zap.String("severity", a.Severity.String()),
				zap.String("subject", a.Subject),
				zap.Float64("value", a.Value),
				zap.Float64("threshold", a.Threshold),
			)
		}
		s.metrics.AlertEmitted(a.Severity.String())
	}
	return nil
}

// RedisSink publishes each non-empty alert batch as a JSON array
type RedisSink struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisSink publishes to channel on client
func NewRedisSink(client redis.UniversalClient, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Notify(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	payload, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("marshal alerts: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish alerts to %s: %w", s.channel, err)
	}
	return nil
}

// MultiSink fans out to every sink and returns the first error after all have run
type MultiSink []Sink

func (m MultiSink) Notify(ctx context.Context, alerts []Alert) error {
	var first error
	for _, s := range m {
		if err := s.Notify(ctx, alerts); err != nil && first == nil {
			first = err
		}
	}
	return first
}
