package storage

import (
	"context"
	"errors"
	"time"

	"github.com/samijaber1/aegis-telemetry/internal/event"
)

// ErrNotFound is returned when a referenced record does not exist
var ErrNotFound = errors.New("record not found")

// EventStore defines the interface for persisting and querying telemetry
type EventStore interface {
	// RecordErrorEvent inserts ev and increments the rollup for
	// (rollupDate, ev.ErrorType, ev.Severity) in one transaction.
	RecordErrorEvent(ctx context.Context, ev *event.ErrorEvent, rollupDate string) (int64, error)

	// GetErrorEvent retrieves a single event
	GetErrorEvent(ctx context.Context, id int64) (*event.ErrorEvent, error)

	// MarkResolved sets resolved=true. Resolving twice is not an error.
	MarkResolved(ctx context.Context, id int64) error

	// InsertAPIError appends a reported API error (performance_errors)
	InsertAPIError(ctx context.Context, sample *event.ApiSample) error

	// InsertAPISample appends a probe result (api_metrics)
	InsertAPISample(ctx context.Context, sample *event.ApiSample) error

	// InsertSystemSample appends a host resource reading
	InsertSystemSample(ctx context.Context, sample *event.SystemSample) error

	// InsertPerformanceMetric appends a named metric
	InsertPerformanceMetric(ctx context.Context, metric *event.PerformanceMetric) error

	// Error queries over [since, now]
	CountErrors(ctx context.Context, since time.Time) (int64, error)
	CountErrorsByType(ctx context.Context, since time.Time) ([]KeyCount, error)
	CountErrorsBySeverity(ctx context.Context, since time.Time) ([]KeyCount, error)
	RecentErrors(ctx context.Context, since time.Time, limit int) ([]event.ErrorEvent, error)
	APIErrorStats(ctx context.Context, since time.Time) ([]EndpointErrorStat, error)
	DailyErrorTotals(ctx context.Context, since time.Time) ([]KeyCount, error)
	DailyTypeCounts(ctx context.Context, since time.Time) ([]DateTypeCount, error)
	DailyCounts(ctx context.Context, fromDate string) ([]event.DailyErrorCount, error)

	// CriticalUnresolved returns unresolved critical events, newest first
	CriticalUnresolved(ctx context.Context, limit int) ([]event.ErrorEvent, error)

	// Performance queries over [since, now]
	APIStats(ctx context.Context, since time.Time) ([]EndpointStat, error)
	SystemStats(ctx context.Context, since time.Time) (*SystemStat, error)
	MetricStats(ctx context.Context, since time.Time) ([]MetricStat, error)

	// PurgeResolved deletes resolved events older than before. The rollup is untouched.
	PurgeResolved(ctx context.Context, before time.Time) (int64, error)

	// PurgeSamples deletes api/system/metric samples and api errors older than before
	PurgeSamples(ctx context.Context, before time.Time) (int64, error)

	// Ping checks the connection
	Ping(ctx context.Context) error

	// Stats reports connection pool usage
	Stats() PoolStats

	// Close closes the storage connection
	Close() error
}

// KeyCount is a grouped count. Key is a type, severity or date depending on the query.
type KeyCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// DateTypeCount is one (date, error_type) bucket
type DateTypeCount struct {
	Date      string `json:"date"`
	ErrorType string `json:"errorType"`
	Count     int64  `json:"count"`
}

// EndpointErrorStat aggregates reported API errors per endpoint
type EndpointErrorStat struct {
	Endpoint        string  `json:"endpoint"`
	Count           int64   `json:"count"`
	AvgResponseTime float64 `json:"avgResponseTimeMs"`
}

// EndpointStat aggregates probe samples per endpoint
type EndpointStat struct {
	Endpoint        string  `json:"endpoint"`
	AvgResponseTime float64 `json:"avgResponseTimeMs"`
	MaxResponseTime float64 `json:"maxResponseTimeMs"`
	MinResponseTime float64 `json:"minResponseTimeMs"`
	Total           int64   `json:"totalRequests"`
	Successful      int64   `json:"successfulRequests"`
}

// SystemStat aggregates system samples. Zero when no samples exist.
type SystemStat struct {
	Samples   int64   `json:"samples"`
	AvgCPU    float64 `json:"avgCpu"`
	MaxCPU    float64 `json:"maxCpu"`
	AvgMemory float64 `json:"avgMemory"`
	MaxMemory float64 `json:"maxMemory"`
	AvgDisk   float64 `json:"avgDisk"`
	MaxDisk   float64 `json:"maxDisk"`
}

// MetricStat aggregates a named performance metric
type MetricStat struct {
	Name string  `json:"name"`
	Avg  float64 `json:"avg"`
	Max  float64 `json:"max"`
	Min  float64 `json:"min"`
}

// PoolStats reports connection usage of the backing database
type PoolStats struct {
	OpenConnections int `json:"openConnections"`
	InUse           int `json:"inUse"`
}
