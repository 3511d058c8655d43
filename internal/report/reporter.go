package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samijaber1/aegis-telemetry/internal/event"
	"github.com/samijaber1/aegis-telemetry/internal/storage"
)

const (
	DefaultSummaryDays   = 7
	DefaultTrendDays     = 30
	DefaultCriticalLimit = 20
	DefaultWindowHours   = 24

	recentErrorLimit = 10
)

// Reporter builds read-only views over the event store
type Reporter struct {
	store storage.EventStore
	now   func() time.Time
}

// NewReporter creates a reporter over store
func NewReporter(store storage.EventStore) *Reporter {
	return &Reporter{store: store, now: time.Now}
}

func (r *Reporter) since(d time.Duration) time.Time {
	return r.now().UTC().Add(-d)
}

// Summarize reports errors over [now-days, now]
func (r *Reporter) Summarize(ctx context.Context, days int) (*Summary, error) {
	if days <= 0 {
		days = DefaultSummaryDays
	}
	since := r.since(time.Duration(days) * 24 * time.Hour)

	total, err := r.store.CountErrors(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("count errors: %w", err)
	}
	byType, err := r.store.CountErrorsByType(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("count errors by type: %w", err)
	}
	bySeverity, err := r.store.CountErrorsBySeverity(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("count errors by severity: %w", err)
	}
	recent, err := r.store.RecentErrors(ctx, since, recentErrorLimit)
	if err != nil {
		return nil, fmt.Errorf("list recent errors: %w", err)
	}
	apiErrors, err := r.store.APIErrorStats(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("api error stats: %w", err)
	}

	return &Summary{
		PeriodDays:   days,
		Since:        since,
		TotalErrors:  total,
		ByType:       nonNil(byType),
		BySeverity:   nonNil(bySeverity),
		RecentErrors: nonNil(recent),
		APIErrors:    nonNil(apiErrors),
	}, nil
}

// Trends groups events in [now-days, now] by the UTC date of their timestamp
func (r *Reporter) Trends(ctx context.Context, days int) (*Trends, error) {
	if days <= 0 {
		days = DefaultTrendDays
	}
	since := r.since(time.Duration(days) * 24 * time.Hour)

	totals, err := r.store.DailyErrorTotals(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("daily totals: %w", err)
	}
	byType, err := r.store.DailyTypeCounts(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("daily type counts: %w", err)
	}

	trends := &Trends{
		PeriodDays:  days,
		DailyErrors: make(map[string]int64, len(totals)),
		TypeTrends:  make(map[string]map[string]int64),
	}
	for _, t := range totals {
		trends.DailyErrors[t.Key] = t.Count
	}
	for _, c := range byType {
		if trends.TypeTrends[c.Date] == nil {
			trends.TypeTrends[c.Date] = make(map[string]int64)
		}
		trends.TypeTrends[c.Date][c.ErrorType] = c.Count
	}
	return trends, nil
}

// CriticalUnresolved returns up to limit unresolved critical events, newest first, with no window
func (r *Reporter) CriticalUnresolved(ctx context.Context, limit int) ([]event.ErrorEvent, error) {
	if limit <= 0 {
		limit = DefaultCriticalLimit
	}
	events, err := r.store.CriticalUnresolved(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list critical errors: %w", err)
	}
	return nonNil(events), nil
}

// MarkResolved resolves an event. Resolving twice is a no-op; an unknown id returns storage.ErrNotFound.
func (r *Reporter) MarkResolved(ctx context.Context, id int64) error {
	return r.store.MarkResolved(ctx, id)
}

// DailyCounts reads the rollup for the last days calendar days including today
func (r *Reporter) DailyCounts(ctx context.Context, days int) ([]event.DailyErrorCount, error) {
	if days <= 0 {
		days = DefaultSummaryDays
	}
	from := event.DateKey(r.now().AddDate(0, 0, -(days - 1)))
	counts, err := r.store.DailyCounts(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("daily counts: %w", err)
	}
	return nonNil(counts), nil
}

// PerformanceReport aggregates probes, host samples and metrics over the last window
func (r *Reporter) PerformanceReport(ctx context.Context, window time.Duration) (*PerformanceReport, error) {
	if window <= 0 {
		window = DefaultWindowHours * time.Hour
	}
	now := r.now().UTC()
	since := now.Add(-window)

	apiStats, err := r.store.APIStats(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("api stats: %w", err)
	}
	sys, err := r.store.SystemStats(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("system stats: %w", err)
	}
	metricStats, err := r.store.MetricStats(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("metric stats: %w", err)
	}

	endpoints := make([]EndpointPerformance, 0, len(apiStats))
	for _, s := range apiStats {
		endpoints = append(endpoints, EndpointPerformance{
			EndpointStat: s,
			SuccessRate:  SuccessRate(s.Successful, s.Total),
		})
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Endpoint < endpoints[j].Endpoint })

	return &PerformanceReport{
		GeneratedAt: now,
		WindowHours: int(window / time.Hour),
		Endpoints:   endpoints,
		System:      *sys,
		Metrics:     nonNil(metricStats),
	}, nil
}

// SuccessRate returns successful/total as a percentage, 0 when total is 0
func SuccessRate(successful, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(successful) / float64(total) * 100
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
