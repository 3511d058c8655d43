package api

import (
	"time"

	"github.com/samijaber1/aegis-telemetry/internal/alert"
	"github.com/samijaber1/aegis-telemetry/internal/event"
)

// RecordErrorResponse is returned by POST /v1/errors
type RecordErrorResponse struct {
	ID int64 `json:"id"`
}

// CriticalResponse lists unresolved critical events
type CriticalResponse struct {
	Errors []event.ErrorEvent `json:"errors"`
	Total  int                `json:"total"`
}

// DailyCountsResponse lists rollup rows
type DailyCountsResponse struct {
	Days   int                     `json:"days"`
	Counts []event.DailyErrorCount `json:"counts"`
}

// PurgeResponse reports how many rows retention removed
type PurgeResponse struct {
	DeletedEvents  int64 `json:"deletedEvents"`
	DeletedSamples int64 `json:"deletedSamples"`
	OlderThanDays  int   `json:"olderThanDays"`
}

// AlertsResponse carries the alerts of the latest cycle
type AlertsResponse struct {
	CycleID   string        `json:"cycleId,omitempty"`
	UpdatedAt time.Time     `json:"updatedAt,omitempty"`
	IsStale   bool          `json:"isStale"`
	Alerts    []alert.Alert `json:"alerts"`
	Rules     []alert.Rule  `json:"rules"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse represents readiness check response
type ReadyResponse struct {
	Ready            bool     `json:"ready"`
	SchedulerRunning bool     `json:"schedulerRunning"`
	OpenConnections  int      `json:"openConnections"`
	Reasons          []string `json:"reasons,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
