package report

import (
	"sort"
	"time"

	"github.com/samijaber1/aegis-telemetry/internal/event"
	"github.com/samijaber1/aegis-telemetry/internal/storage"
)

// Summary is the error overview for a window of days
type Summary struct {
	PeriodDays   int                         `json:"periodDays"`
	Since        time.Time                   `json:"since"`
	TotalErrors  int64                       `json:"totalErrors"`
	ByType       []storage.KeyCount          `json:"errorsByType"`     // count desc
	BySeverity   []storage.KeyCount          `json:"errorsBySeverity"` // count desc
	RecentErrors []event.ErrorEvent          `json:"recentErrors"`     // newest first, at most 10
	APIErrors    []storage.EndpointErrorStat `json:"apiErrors"`        // count desc
}

// Trends holds per-day counts keyed by UTC date (YYYY-MM-DD)
type Trends struct {
	PeriodDays  int                         `json:"periodDays"`
	DailyErrors map[string]int64            `json:"dailyErrors"`
	TypeTrends  map[string]map[string]int64 `json:"typeTrends"` // date -> error_type -> count
}

// Dates returns the trend dates in ascending order
func (t *Trends) Dates() []string {
	dates := make([]string, 0, len(t.DailyErrors))
	for d := range t.DailyErrors {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// EndpointPerformance is the probe summary for one endpoint
type EndpointPerformance struct {
	storage.EndpointStat
	SuccessRate float64 `json:"successRatePct"` // 0 when no probes
}

// PerformanceReport is the input of the alert evaluator
type PerformanceReport struct {
	GeneratedAt time.Time             `json:"generatedAt"`
	WindowHours int                   `json:"windowHours"`
	Endpoints   []EndpointPerformance `json:"apiPerformance"` // sorted by endpoint
	System      storage.SystemStat    `json:"systemResources"`
	Metrics     []storage.MetricStat  `json:"performanceMetrics"`
}
