package report

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/samijaber1/aegis-telemetry/internal/event"
	"github.com/samijaber1/aegis-telemetry/internal/storage"
	"github.com/samijaber1/aegis-telemetry/internal/storage/sqlite"
)

var fixedNow = time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC)

func setupReporter(t *testing.T) (*Reporter, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "report.db"), sqlite.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	r := NewReporter(store)
	r.now = func() time.Time { return fixedNow }
	return r, store
}

func record(t *testing.T, store *sqlite.Store, ts time.Time, errorType string, severity event.Severity) int64 {
	t.Helper()
	ev := &event.ErrorEvent{Timestamp: ts, ErrorType: errorType, Message: errorType, Severity: severity}
	id, err := store.RecordErrorEvent(context.Background(), ev, event.DateKey(ts))
	if err != nil {
		t.Fatalf("failed to record: %v", err)
	}
	return id
}

func TestTrends_Windowing(t *testing.T) {
	r, store := setupReporter(t)

	oneDayAgo := fixedNow.Add(-24 * time.Hour)
	tenDaysAgo := fixedNow.Add(-10 * 24 * time.Hour)
	record(t, store, oneDayAgo, "timeout", event.SeverityError)
	record(t, store, tenDaysAgo, "timeout", event.SeverityError)

	trends, err := r.Trends(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	day := event.DateKey(oneDayAgo)
	if len(trends.DailyErrors) != 1 || trends.DailyErrors[day] != 1 {
		t.Errorf("expected only %s in daily errors, got %v", day, trends.DailyErrors)
	}
	if len(trends.TypeTrends) != 1 || trends.TypeTrends[day]["timeout"] != 1 {
		t.Errorf("expected only %s in type trends, got %v", day, trends.TypeTrends)
	}
	if dates := trends.Dates(); len(dates) != 1 || dates[0] != day {
		t.Errorf("unexpected dates %v", dates)
	}
}

func TestTrends_DefaultWindow(t *testing.T) {
	r, store := setupReporter(t)
	record(t, store, fixedNow.Add(-20*24*time.Hour), "crash", event.SeverityCritical)

	trends, err := r.Trends(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trends.PeriodDays != DefaultTrendDays || len(trends.DailyErrors) != 1 {
		t.Errorf("expected 30-day window to include the event, got %+v", trends)
	}
}

func TestSummarize(t *testing.T) {
	r, store := setupReporter(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		record(t, store, fixedNow.Add(-time.Duration(i+1)*time.Hour), "timeout", event.SeverityError)
	}
	record(t, store, fixedNow.Add(-30*time.Minute), "crash", event.SeverityCritical)
	record(t, store, fixedNow.Add(-8*24*time.Hour), "ancient", event.SeverityWarning)

	for _, s := range []event.ApiSample{
		{Timestamp: fixedNow.Add(-time.Hour), Endpoint: "/recipes", ResponseTime: 100, StatusCode: 500},
		{Timestamp: fixedNow.Add(-time.Hour), Endpoint: "/recipes", ResponseTime: 300, StatusCode: 502},
		{Timestamp: fixedNow.Add(-time.Hour), Endpoint: "/vision", ResponseTime: 50, StatusCode: 500},
	} {
		s := s
		if err := store.InsertAPIError(ctx, &s); err != nil {
			t.Fatalf("failed to insert api error: %v", err)
		}
	}

	summary, err := r.Summarize(ctx, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.TotalErrors != 13 {
		t.Errorf("expected 13 errors in window, got %d", summary.TotalErrors)
	}
	if len(summary.ByType) != 2 || summary.ByType[0].Key != "timeout" || summary.ByType[0].Count != 12 {
		t.Errorf("unexpected by-type counts %+v", summary.ByType)
	}
	if len(summary.BySeverity) != 2 {
		t.Errorf("unexpected by-severity counts %+v", summary.BySeverity)
	}
	if len(summary.RecentErrors) != 10 {
		t.Errorf("expected 10 recent errors, got %d", len(summary.RecentErrors))
	}
	if summary.RecentErrors[0].ErrorType != "crash" {
		t.Errorf("expected newest event first, got %s", summary.RecentErrors[0].ErrorType)
	}
	if len(summary.APIErrors) != 2 || summary.APIErrors[0].Endpoint != "/recipes" || summary.APIErrors[0].AvgResponseTime != 200 {
		t.Errorf("unexpected api error stats %+v", summary.APIErrors)
	}
}

func TestSummarize_EmptyStoreReturnsEmptySlices(t *testing.T) {
	r, _ := setupReporter(t)

	summary, err := r.Summarize(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.ByType == nil || summary.RecentErrors == nil || summary.APIErrors == nil {
		t.Errorf("expected empty, non-nil slices: %+v", summary)
	}
}

func TestCriticalUnresolvedAndResolve(t *testing.T) {
	r, store := setupReporter(t)
	ctx := context.Background()

	id := record(t, store, fixedNow.Add(-200*24*time.Hour), "crash", event.SeverityCritical)

	events, err := r.CriticalUnresolved(ctx, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected old critical event regardless of window, got %d", len(events))
	}

	if err := r.MarkResolved(ctx, id); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if err := r.MarkResolved(ctx, id); err != nil {
		t.Fatalf("second resolve should be a no-op: %v", err)
	}
	if err := r.MarkResolved(ctx, id+1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	events, err = r.CriticalUnresolved(ctx, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no unresolved critical events, got %+v", events)
	}
}

func TestDailyCounts(t *testing.T) {
	r, store := setupReporter(t)
	ctx := context.Background()

	record(t, store, fixedNow, "timeout", event.SeverityError)
	record(t, store, fixedNow.AddDate(0, 0, -6), "timeout", event.SeverityError)
	record(t, store, fixedNow.AddDate(0, 0, -7), "timeout", event.SeverityError)

	counts, err := r.DailyCounts(ctx, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected 2 rollup rows in the last 7 days, got %+v", counts)
	}
	if counts[0].Date != "2026-04-14" || counts[1].Date != "2026-04-20" {
		t.Errorf("unexpected dates %+v", counts)
	}
}

func TestPerformanceReport(t *testing.T) {
	r, store := setupReporter(t)
	ctx := context.Background()

	recent := fixedNow.Add(-time.Hour)
	samples := []event.ApiSample{
		{Timestamp: recent, Endpoint: "recipes", ResponseTime: 6000, StatusCode: 200, Success: true},
		{Timestamp: recent, Endpoint: "health", ResponseTime: 10, StatusCode: 200, Success: true},
		{Timestamp: recent, Endpoint: "health", ResponseTime: 0, StatusCode: 0, Success: false},
		{Timestamp: fixedNow.Add(-48 * time.Hour), Endpoint: "stale", ResponseTime: 1, StatusCode: 200, Success: true},
	}
	for i := range samples {
		if err := store.InsertAPISample(ctx, &samples[i]); err != nil {
			t.Fatalf("failed to insert sample: %v", err)
		}
	}
	if err := store.InsertSystemSample(ctx, &event.SystemSample{Timestamp: recent, CPUPercent: 90, MemoryPercent: 50, DiskPercent: 40}); err != nil {
		t.Fatalf("failed to insert system sample: %v", err)
	}

	rep, err := r.PerformanceReport(ctx, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rep.WindowHours != DefaultWindowHours {
		t.Errorf("expected default window, got %d", rep.WindowHours)
	}
	if len(rep.Endpoints) != 2 {
		t.Fatalf("expected 2 endpoints in window, got %+v", rep.Endpoints)
	}
	if rep.Endpoints[0].Endpoint != "health" || rep.Endpoints[0].SuccessRate != 50 {
		t.Errorf("unexpected health stats %+v", rep.Endpoints[0])
	}
	if rep.Endpoints[1].Endpoint != "recipes" || rep.Endpoints[1].SuccessRate != 100 || rep.Endpoints[1].AvgResponseTime != 6000 {
		t.Errorf("unexpected recipes stats %+v", rep.Endpoints[1])
	}
	if rep.System.AvgCPU != 90 {
		t.Errorf("expected avg cpu 90, got %v", rep.System.AvgCPU)
	}
}

func TestSuccessRate(t *testing.T) {
	if SuccessRate(0, 0) != 0 {
		t.Error("expected 0 for no probes")
	}
	if SuccessRate(9, 10) != 90 {
		t.Error("expected 90")
	}
}
