package alert

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/samijaber1/aegis-telemetry/internal/event"
	"github.com/samijaber1/aegis-telemetry/internal/metrics"
)

var sampleAlerts = []Alert{
	{Rule: "endpoint-response-time", Type: "api_performance", Severity: event.SeverityWarning, Subject: "recipes", Value: 6000, Threshold: 5000, Message: "slow"},
	{Rule: "endpoint-success-rate", Type: "api_reliability", Severity: event.SeverityCritical, Subject: "vision", Value: 90, Threshold: 95, Message: "failing"},
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	sink := NewLogSink(zap.New(core), m)
	if err := sink.Notify(context.Background(), sampleAlerts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zap.WarnLevel || entries[1].Level != zap.ErrorLevel {
		t.Errorf("unexpected levels %v, %v", entries[0].Level, entries[1].Level)
	}
	if entries[1].ContextMap()["subject"] != "vision" {
		t.Errorf("unexpected fields %v", entries[1].ContextMap())
	}

	expected := `
# HELP telemetry_alerts_emitted_total Alerts produced by the evaluator
# TYPE telemetry_alerts_emitted_total counter
telemetry_alerts_emitted_total{severity="critical"} 1
telemetry_alerts_emitted_total{severity="warning"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "telemetry_alerts_emitted_total"); err != nil {
		t.Error(err)
	}
}

func TestRedisSink_NoAlertsSkipsPublish(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	defer client.Close()

	if err := NewRedisSink(client, "telemetry:alerts").Notify(context.Background(), nil); err != nil {
		t.Errorf("expected no publish for empty batch, got %v", err)
	}
}

func TestRedisSink_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	err := NewRedisSink(client, "telemetry:alerts").Notify(context.Background(), sampleAlerts)
	if err == nil || !strings.Contains(err.Error(), "telemetry:alerts") {
		t.Errorf("expected publish error, got %v", err)
	}
}

type recordingSink struct {
	got [][]Alert
	err error
}

func (s *recordingSink) Notify(_ context.Context, alerts []Alert) error {
	s.got = append(s.got, alerts)
	return s.err
}

func TestMultiSink_RunsAllAndReturnsFirstError(t *testing.T) {
	first := &recordingSink{err: errors.New("first")}
	second := &recordingSink{err: errors.New("second")}
	third := &recordingSink{}

	err := MultiSink{first, second, third}.Notify(context.Background(), sampleAlerts)
	if err == nil || err.Error() != "first" {
		t.Errorf("expected first error, got %v", err)
	}
	for i, s := range []*recordingSink{first, second, third} {
		if len(s.got) != 1 || len(s.got[0]) != 2 {
			t.Errorf("sink %d did not receive the batch", i)
		}
	}
}
