package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/samijaber1/aegis-telemetry/internal/event"
	"github.com/samijaber1/aegis-telemetry/internal/storage"
)

func setupTestDB(t *testing.T) (*Store, func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "telemetry-store-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	store, err := NewStore(filepath.Join(dir, "test.db"), DefaultOptions())
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("failed to create store: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(dir)
	}

	return store, cleanup
}

func newEvent(ts time.Time, errorType string, severity event.Severity) *event.ErrorEvent {
	return &event.ErrorEvent{
		Timestamp: ts,
		ErrorType: errorType,
		Message:   errorType + " happened",
		Severity:  severity,
	}
}

func mustRecord(t *testing.T, store *Store, ev *event.ErrorEvent) int64 {
	t.Helper()
	id, err := store.RecordErrorEvent(context.Background(), ev, event.DateKey(time.Now()))
	if err != nil {
		t.Fatalf("failed to record event: %v", err)
	}
	return id
}

func TestNewStore_RequiresPath(t *testing.T) {
	if _, err := NewStore("", DefaultOptions()); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStore_RecordErrorEvent_RoundTrip(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	ts := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
	ev := &event.ErrorEvent{
		Timestamp:  ts,
		ErrorType:  "db_timeout",
		Message:    "query exceeded deadline",
		StackTrace: "goroutine 1 [running]",
		UserID:     "u-1",
		SessionID:  "s-1",
		Request: &event.RequestContext{
			URL:     "/recipes",
			Method:  "GET",
			Headers: map[string]string{"Accept": "application/json"},
		},
		Severity: event.SeverityCritical,
		Tags:     []string{"db", "timeout"},
	}

	id, err := store.RecordErrorEvent(ctx, ev, "2026-05-04")
	if err != nil {
		t.Fatalf("failed to record: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive id, got %d", id)
	}

	got, err := store.GetErrorEvent(ctx, id)
	if err != nil {
		t.Fatalf("failed to get event: %v", err)
	}

	if !got.Timestamp.Equal(ts) {
		t.Errorf("expected timestamp %v, got %v", ts, got.Timestamp)
	}
	if got.Severity != event.SeverityCritical {
		t.Errorf("expected critical, got %s", got.Severity)
	}
	if got.Resolved {
		t.Error("expected new event to be unresolved")
	}
	if got.Request == nil || got.Request.Headers["Accept"] != "application/json" {
		t.Errorf("expected request headers to survive, got %+v", got.Request)
	}
	if len(got.Tags) != 2 || got.Tags[1] != "timeout" {
		t.Errorf("expected tags [db timeout], got %v", got.Tags)
	}
}

func TestStore_GetErrorEvent_NotFound(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := store.GetErrorEvent(context.Background(), 999)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_RollupUniqueness(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if _, err := store.RecordErrorEvent(ctx, newEvent(now, "timeout", event.SeverityError), "2026-05-04"); err != nil {
			t.Fatalf("failed to record: %v", err)
		}
	}
	if _, err := store.RecordErrorEvent(ctx, newEvent(now, "timeout", event.SeverityCritical), "2026-05-04"); err != nil {
		t.Fatalf("failed to record: %v", err)
	}

	counts, err := store.DailyCounts(ctx, "2026-05-04")
	if err != nil {
		t.Fatalf("failed to read rollup: %v", err)
	}

	if len(counts) != 2 {
		t.Fatalf("expected 2 rollup rows, got %d: %+v", len(counts), counts)
	}
	for _, c := range counts {
		switch c.Severity {
		case event.SeverityError:
			if c.Count != 3 {
				t.Errorf("expected error count 3, got %d", c.Count)
			}
		case event.SeverityCritical:
			if c.Count != 1 {
				t.Errorf("expected critical count 1, got %d", c.Count)
			}
		default:
			t.Errorf("unexpected severity %s", c.Severity)
		}
	}
}

func TestStore_ConcurrentRecordsIncrementOnce(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	const workers = 25
	now := time.Now().UTC()
	date := event.DateKey(now)

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.RecordErrorEvent(ctx, newEvent(now, "timeout", event.SeverityError), date); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("concurrent record failed: %v", err)
	}

	counts, err := store.DailyCounts(ctx, date)
	if err != nil {
		t.Fatalf("failed to read rollup: %v", err)
	}
	if len(counts) != 1 {
		t.Fatalf("expected 1 rollup row, got %d", len(counts))
	}
	if counts[0].Count != workers {
		t.Errorf("expected count %d, got %d", workers, counts[0].Count)
	}

	total, err := store.CountErrors(ctx, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if total != workers {
		t.Errorf("expected %d events, got %d", workers, total)
	}
}

func TestStore_MarkResolved(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	id := mustRecord(t, store, newEvent(time.Now(), "crash", event.SeverityCritical))

	// Resolving twice leaves the same state and no error
	for i := 0; i < 2; i++ {
		if err := store.MarkResolved(ctx, id); err != nil {
			t.Fatalf("resolve #%d failed: %v", i+1, err)
		}
	}

	got, err := store.GetErrorEvent(ctx, id)
	if err != nil {
		t.Fatalf("failed to get event: %v", err)
	}
	if !got.Resolved {
		t.Error("expected event to be resolved")
	}

	if err := store.MarkResolved(ctx, id+100); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestStore_CriticalUnresolved(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	old := mustRecord(t, store, newEvent(now.Add(-400*24*time.Hour), "crash", event.SeverityCritical))
	newer := mustRecord(t, store, newEvent(now.Add(-time.Hour), "crash", event.SeverityCritical))
	resolved := mustRecord(t, store, newEvent(now, "crash", event.SeverityCritical))
	mustRecord(t, store, newEvent(now, "timeout", event.SeverityError))

	if err := store.MarkResolved(ctx, resolved); err != nil {
		t.Fatalf("failed to resolve: %v", err)
	}

	events, err := store.CriticalUnresolved(ctx, 20)
	if err != nil {
		t.Fatalf("failed to query: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ID != newer || events[1].ID != old {
		t.Errorf("expected newest first [%d %d], got [%d %d]", newer, old, events[0].ID, events[1].ID)
	}

	limited, err := store.CriticalUnresolved(ctx, 1)
	if err != nil {
		t.Fatalf("failed to query: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit 1 to return 1 event, got %d", len(limited))
	}
}

func TestStore_PurgeResolved_Boundary(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	day := 24 * time.Hour

	oldResolved := mustRecord(t, store, newEvent(now.Add(-91*day), "timeout", event.SeverityError))
	oldUnresolved := mustRecord(t, store, newEvent(now.Add(-91*day), "timeout", event.SeverityError))
	recentResolved := mustRecord(t, store, newEvent(now.Add(-89*day), "timeout", event.SeverityError))

	for _, id := range []int64{oldResolved, recentResolved} {
		if err := store.MarkResolved(ctx, id); err != nil {
			t.Fatalf("failed to resolve %d: %v", id, err)
		}
	}

	before, err := store.DailyCounts(ctx, "0000-01-01")
	if err != nil {
		t.Fatalf("failed to read rollup: %v", err)
	}

	purged, err := store.PurgeResolved(ctx, now.Add(-90*day))
	if err != nil {
		t.Fatalf("failed to purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged event, got %d", purged)
	}

	if _, err := store.GetErrorEvent(ctx, oldResolved); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected old resolved event to be gone, got %v", err)
	}
	if _, err := store.GetErrorEvent(ctx, oldUnresolved); err != nil {
		t.Errorf("expected old unresolved event to remain: %v", err)
	}
	if _, err := store.GetErrorEvent(ctx, recentResolved); err != nil {
		t.Errorf("expected recent resolved event to remain: %v", err)
	}

	after, err := store.DailyCounts(ctx, "0000-01-01")
	if err != nil {
		t.Fatalf("failed to read rollup: %v", err)
	}
	if len(after) != len(before) || after[0].Count != before[0].Count {
		t.Errorf("expected rollup untouched by purge, before=%+v after=%+v", before, after)
	}
}

func TestStore_Trends_Windowing(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	day1 := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 0, 30, 0, 0, time.UTC)
	outside := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)

	mustRecord(t, store, newEvent(day1, "timeout", event.SeverityError))
	mustRecord(t, store, newEvent(day1, "crash", event.SeverityCritical))
	mustRecord(t, store, newEvent(day2, "timeout", event.SeverityError))
	mustRecord(t, store, newEvent(outside, "timeout", event.SeverityError))

	since := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)

	totals, err := store.DailyErrorTotals(ctx, since)
	if err != nil {
		t.Fatalf("failed to query totals: %v", err)
	}
	want := []storage.KeyCount{{Key: "2026-03-01", Count: 2}, {Key: "2026-03-02", Count: 1}}
	if len(totals) != len(want) {
		t.Fatalf("expected %v, got %v", want, totals)
	}
	for i := range want {
		if totals[i] != want[i] {
			t.Errorf("bucket %d: expected %+v, got %+v", i, want[i], totals[i])
		}
	}

	byType, err := store.DailyTypeCounts(ctx, since)
	if err != nil {
		t.Fatalf("failed to query type trends: %v", err)
	}
	if len(byType) != 3 {
		t.Fatalf("expected 3 (date,type) buckets, got %+v", byType)
	}
	if byType[0].Date != "2026-03-01" || byType[0].ErrorType != "crash" || byType[0].Count != 1 {
		t.Errorf("unexpected first bucket %+v", byType[0])
	}
}

func TestStore_BackdatedEventUsesRollupDate(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	backdated := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	if _, err := store.RecordErrorEvent(ctx, newEvent(backdated, "timeout", event.SeverityError), "2026-03-15"); err != nil {
		t.Fatalf("failed to record: %v", err)
	}

	counts, err := store.DailyCounts(ctx, "2026-01-01")
	if err != nil {
		t.Fatalf("failed to read rollup: %v", err)
	}
	if len(counts) != 1 || counts[0].Date != "2026-03-15" {
		t.Fatalf("expected rollup on ingestion date, got %+v", counts)
	}

	totals, err := store.DailyErrorTotals(ctx, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("failed to query totals: %v", err)
	}
	if len(totals) != 1 || totals[0].Key != "2026-01-10" {
		t.Errorf("expected trend on event date, got %+v", totals)
	}
}

func TestStore_SummaryQueries(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	mustRecord(t, store, newEvent(now.Add(-time.Hour), "timeout", event.SeverityError))
	mustRecord(t, store, newEvent(now.Add(-2*time.Hour), "timeout", event.SeverityWarning))
	mustRecord(t, store, newEvent(now.Add(-3*time.Hour), "crash", event.SeverityCritical))
	mustRecord(t, store, newEvent(now.Add(-10*24*time.Hour), "ancient", event.SeverityError))

	since := now.Add(-7 * 24 * time.Hour)

	total, err := store.CountErrors(ctx, since)
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if total != 3 {
		t.Errorf("expected 3 events in window, got %d", total)
	}

	byType, err := store.CountErrorsByType(ctx, since)
	if err != nil {
		t.Fatalf("failed to count by type: %v", err)
	}
	if len(byType) != 2 || byType[0].Key != "timeout" || byType[0].Count != 2 {
		t.Errorf("expected timeout first with 2, got %+v", byType)
	}

	bySeverity, err := store.CountErrorsBySeverity(ctx, since)
	if err != nil {
		t.Fatalf("failed to count by severity: %v", err)
	}
	if len(bySeverity) != 3 {
		t.Errorf("expected 3 severities, got %+v", bySeverity)
	}

	recent, err := store.RecentErrors(ctx, since, 2)
	if err != nil {
		t.Fatalf("failed to list recent: %v", err)
	}
	if len(recent) != 2 || recent[0].ErrorType != "timeout" || recent[0].Severity != event.SeverityError {
		t.Errorf("expected newest timeout/error first, got %+v", recent)
	}
}

func TestStore_PerformanceQueries(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	samples := []event.ApiSample{
		{Timestamp: now, Endpoint: "recipes", ResponseTime: 100, StatusCode: 200, Success: true},
		{Timestamp: now, Endpoint: "recipes", ResponseTime: 300, StatusCode: 500, Success: false, ErrorMessage: "boom"},
		{Timestamp: now, Endpoint: "health", ResponseTime: 0, StatusCode: 0, Success: false, ErrorMessage: "connection refused"},
	}
	for i := range samples {
		if err := store.InsertAPISample(ctx, &samples[i]); err != nil {
			t.Fatalf("failed to insert sample: %v", err)
		}
	}

	if err := store.InsertSystemSample(ctx, &event.SystemSample{Timestamp: now, CPUPercent: 40, MemoryPercent: 50, DiskPercent: 60}); err != nil {
		t.Fatalf("failed to insert system sample: %v", err)
	}
	if err := store.InsertSystemSample(ctx, &event.SystemSample{Timestamp: now, CPUPercent: 80, MemoryPercent: 70, DiskPercent: 60}); err != nil {
		t.Fatalf("failed to insert system sample: %v", err)
	}
	if err := store.InsertPerformanceMetric(ctx, &event.PerformanceMetric{Timestamp: now, Name: "db_query_time", Value: 4, Unit: "ms"}); err != nil {
		t.Fatalf("failed to insert metric: %v", err)
	}

	since := now.Add(-time.Hour)

	apiStats, err := store.APIStats(ctx, since)
	if err != nil {
		t.Fatalf("failed to query api stats: %v", err)
	}
	if len(apiStats) != 2 {
		t.Fatalf("expected 2 endpoints, got %+v", apiStats)
	}
	recipes := apiStats[1]
	if recipes.Endpoint != "recipes" || recipes.Total != 2 || recipes.Successful != 1 || recipes.AvgResponseTime != 200 {
		t.Errorf("unexpected recipes stat %+v", recipes)
	}
	if recipes.MaxResponseTime != 300 || recipes.MinResponseTime != 100 {
		t.Errorf("unexpected recipes min/max %+v", recipes)
	}

	sys, err := store.SystemStats(ctx, since)
	if err != nil {
		t.Fatalf("failed to query system stats: %v", err)
	}
	if sys.Samples != 2 || sys.AvgCPU != 60 || sys.MaxCPU != 80 || sys.MaxMemory != 70 {
		t.Errorf("unexpected system stat %+v", sys)
	}

	metrics, err := store.MetricStats(ctx, since)
	if err != nil {
		t.Fatalf("failed to query metric stats: %v", err)
	}
	if len(metrics) != 1 || metrics[0].Name != "db_query_time" || metrics[0].Avg != 4 {
		t.Errorf("unexpected metric stats %+v", metrics)
	}
}

func TestStore_SystemStats_Empty(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	sys, err := store.SystemStats(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("failed to query system stats: %v", err)
	}
	if sys.Samples != 0 || sys.AvgCPU != 0 {
		t.Errorf("expected zero stat, got %+v", sys)
	}
}

func TestStore_PurgeSamples(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	old := now.Add(-40 * 24 * time.Hour)

	store.InsertAPISample(ctx, &event.ApiSample{Timestamp: old, Endpoint: "recipes", StatusCode: 200, Success: true})
	store.InsertAPISample(ctx, &event.ApiSample{Timestamp: now, Endpoint: "recipes", StatusCode: 200, Success: true})
	store.InsertAPIError(ctx, &event.ApiSample{Timestamp: old, Endpoint: "/recipes", StatusCode: 500})
	store.InsertSystemSample(ctx, &event.SystemSample{Timestamp: old})
	store.InsertPerformanceMetric(ctx, &event.PerformanceMetric{Timestamp: old, Name: "db_connections", Value: 1})

	purged, err := store.PurgeSamples(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("failed to purge samples: %v", err)
	}
	if purged != 4 {
		t.Errorf("expected 4 purged rows, got %d", purged)
	}

	stats, err := store.APIStats(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("failed to query api stats: %v", err)
	}
	if len(stats) != 1 || stats[0].Total != 1 {
		t.Errorf("expected recent sample to survive, got %+v", stats)
	}
}

func TestStore_Ping(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if store.Stats().OpenConnections > 1 {
		t.Errorf("expected a single-connection pool, got %+v", store.Stats())
	}
}
