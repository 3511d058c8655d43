package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/samijaber1/aegis-telemetry/internal/alert"
	"github.com/samijaber1/aegis-telemetry/internal/event"
	"github.com/samijaber1/aegis-telemetry/internal/ingest"
	"github.com/samijaber1/aegis-telemetry/internal/metrics"
	"github.com/samijaber1/aegis-telemetry/internal/report"
	"github.com/samijaber1/aegis-telemetry/internal/retention"
	"github.com/samijaber1/aegis-telemetry/internal/sampler"
	"github.com/samijaber1/aegis-telemetry/internal/scheduler"
	"github.com/samijaber1/aegis-telemetry/internal/storage/sqlite"
)

type idleHost struct{}

func (idleHost) CPUPercent(context.Context) (float64, error) { return 5, nil }
func (idleHost) MemoryPercent(context.Context) (float64, error) { return 20, nil }
func (idleHost) DiskPercent(context.Context, string) (float64, error) { return 30, nil }
func (idleHost) NetworkIO(context.Context) (event.NetworkIO, error) { return event.NetworkIO{}, nil }

type testEnv struct {
	handler http.Handler
	store   *sqlite.Store
	sched   *scheduler.Scheduler
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "api.db"), sqlite.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	evaluator, err := alert.NewEvaluator(alert.DefaultRules(alert.DefaultThresholds()))
	if err != nil {
		t.Fatalf("failed to create evaluator: %v", err)
	}
	reporter := report.NewReporter(store)
	manager := retention.NewManager(store, retention.Config{}, logger, m)
	sched := scheduler.NewScheduler(scheduler.Deps{
		Sampler:   sampler.New(store, sampler.Config{Host: idleHost{}}, logger, m),
		Reporter:  reporter,
		Evaluator: evaluator,
		Sink:      alert.NewLogSink(logger, m),
		Retention: manager,
	}, scheduler.Config{}, logger, m)

	server := NewServer(Deps{
		Store:     store,
		Ingestor:  ingest.NewIngestor(store, logger, m),
		Reporter:  reporter,
		Retention: manager,
		Scheduler: sched,
		Metrics:   m,
		Gatherer:  reg,
	}, ":0", Options{}, logger)

	return &testEnv{handler: server.Handler(), store: store, sched: sched}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Status != "ok" {
		t.Errorf("expected status=ok, got %s", resp.Status)
	}
}

func TestReadyEndpoint(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodGet, "/readyz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp ReadyResponse
	decode(t, w, &resp)
	if !resp.Ready || len(resp.Reasons) != 1 {
		t.Errorf("expected ready with a no-cycle reason, got %+v", resp)
	}

	env.store.Close()
	w = env.do(t, http.MethodGet, "/readyz", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with closed store, got %d", w.Code)
	}
}

func TestRecordErrorEndpoint(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantField  string
	}{
		{"valid", map[string]interface{}{"type": "timeout", "message": "upstream timed out", "severity": "critical"}, http.StatusCreated, ""},
		{"default severity", map[string]interface{}{"type": "timeout", "message": "m"}, http.StatusCreated, ""},
		{"bad severity", map[string]interface{}{"type": "timeout", "message": "m", "severity": "fatal"}, http.StatusBadRequest, "severity"},
		{"missing type", map[string]interface{}{"message": "m"}, http.StatusBadRequest, "type"},
		{"malformed", "not an object", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/v1/errors", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantStatus == http.StatusCreated {
				var resp RecordErrorResponse
				decode(t, w, &resp)
				if resp.ID <= 0 {
					t.Errorf("expected an id, got %d", resp.ID)
				}
			}
			if tt.wantField != "" {
				var resp ErrorResponse
				decode(t, w, &resp)
				if resp.Field != tt.wantField {
					t.Errorf("expected field %s, got %+v", tt.wantField, resp)
				}
			}
		})
	}
}

func TestSummaryAndResolveFlow(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodPost, "/v1/errors", map[string]interface{}{
		"type": "db_down", "message": "connection refused", "severity": "critical",
	})
	var created RecordErrorResponse
	decode(t, w, &created)

	w = env.do(t, http.MethodPost, "/v1/api-errors", map[string]interface{}{
		"endpoint": "/recipes", "statusCode": 502, "responseTimeMs": 120,
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/v1/errors/summary?days=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var summary report.Summary
	decode(t, w, &summary)
	if summary.TotalErrors != 1 || len(summary.APIErrors) != 1 || summary.PeriodDays != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}

	w = env.do(t, http.MethodGet, "/v1/errors/critical", nil)
	var critical CriticalResponse
	decode(t, w, &critical)
	if critical.Total != 1 || critical.Errors[0].ID != created.ID {
		t.Fatalf("unexpected critical list %+v", critical)
	}

	path := "/v1/errors/" + strconv.FormatInt(created.ID, 10) + "/resolve"
	if w := env.do(t, http.MethodPost, path, nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, path, nil); w.Code != http.StatusNoContent {
		t.Errorf("second resolve should succeed, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/v1/errors/critical", nil)
	decode(t, w, &critical)
	if critical.Total != 0 {
		t.Errorf("expected no unresolved critical events, got %+v", critical)
	}
}

func TestResolveEndpoint_Errors(t *testing.T) {
	env := setupTestServer(t)

	if w := env.do(t, http.MethodPost, "/v1/errors/abc/resolve", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric id, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/v1/errors/999/resolve", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", w.Code)
	}
}

func TestQueryParamValidation(t *testing.T) {
	env := setupTestServer(t)

	for _, path := range []string{
		"/v1/errors/summary?days=abc",
		"/v1/errors/trends?days=-1",
		"/v1/errors/critical?limit=x",
		"/v1/performance/report?hours=soon",
		"/v1/maintenance/purge?days=-5",
	} {
		method := http.MethodGet
		if strings.HasPrefix(path, "/v1/maintenance") {
			method = http.MethodPost
		}
		if w := env.do(t, method, path, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
	}
}

func TestTrendsAndDailyEndpoints(t *testing.T) {
	env := setupTestServer(t)
	env.do(t, http.MethodPost, "/v1/errors", map[string]interface{}{"type": "timeout", "message": "m"})

	w := env.do(t, http.MethodGet, "/v1/errors/trends", nil)
	var trends report.Trends
	decode(t, w, &trends)
	today := event.DateKey(time.Now())
	if trends.PeriodDays != report.DefaultTrendDays || trends.DailyErrors[today] != 1 {
		t.Errorf("unexpected trends %+v", trends)
	}

	w = env.do(t, http.MethodGet, "/v1/errors/daily?days=1", nil)
	var daily DailyCountsResponse
	decode(t, w, &daily)
	if len(daily.Counts) != 1 || daily.Counts[0].Date != today || daily.Counts[0].Count != 1 {
		t.Errorf("unexpected daily counts %+v", daily)
	}
}

func TestPurgeEndpoint(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodPost, "/v1/maintenance/purge", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp PurgeResponse
	decode(t, w, &resp)
	if resp.OlderThanDays != retention.DefaultRetentionDays || resp.DeletedEvents != 0 {
		t.Errorf("unexpected purge response %+v", resp)
	}
}

func TestCycleAndAlertsEndpoints(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodGet, "/v1/alerts", nil)
	var alerts AlertsResponse
	decode(t, w, &alerts)
	if alerts.CycleID != "" || len(alerts.Alerts) != 0 || len(alerts.Rules) != 4 {
		t.Errorf("unexpected alerts before first cycle %+v", alerts)
	}

	w = env.do(t, http.MethodPost, "/v1/cycle/run", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result scheduler.CycleResult
	decode(t, w, &result)
	if result.ID == "" || result.Report == nil {
		t.Fatalf("unexpected cycle result %+v", result)
	}

	w = env.do(t, http.MethodGet, "/v1/alerts", nil)
	decode(t, w, &alerts)
	if alerts.CycleID != result.ID {
		t.Errorf("expected alerts from cycle %s, got %s", result.ID, alerts.CycleID)
	}

	w = env.do(t, http.MethodGet, "/v1/performance/report?hours=1", nil)
	var rep report.PerformanceReport
	decode(t, w, &rep)
	if rep.WindowHours != 1 || rep.System.Samples != 1 {
		t.Errorf("unexpected report %+v", rep)
	}
}

func TestUnknownRouteIsRecorded(t *testing.T) {
	env := setupTestServer(t)

	if w := env.do(t, http.MethodGet, "/v1/nowhere", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	n, err := env.store.CountErrors(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected the 404 to be recorded, got %d events", n)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t)
	env.do(t, http.MethodGet, "/healthz", nil)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `telemetry_api_http_requests_total{method="GET",route="/healthz",status="200"} 1`) {
		t.Errorf("expected request counter in metrics output:\n%s", w.Body.String())
	}
}

func TestCORSHeaders(t *testing.T) {
	env := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard origin, got %q", got)
	}
}
