package event

import (
	"fmt"
	"strings"
	"time"
)

// Severity classifies an ErrorEvent
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Severities lists the accepted severity labels in ascending order
var Severities = []Severity{SeverityWarning, SeverityError, SeverityCritical}

// Valid reports whether s is one of the three accepted labels
func (s Severity) Valid() bool {
	switch s {
	case SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

func (s Severity) String() string {
	return string(s)
}

// ParseSeverity normalizes a label. An empty label maps to SeverityError.
func ParseSeverity(label string) (Severity, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return SeverityError, nil
	}
	s := Severity(label)
	if !s.Valid() {
		return "", fmt.Errorf("unknown severity %q", label)
	}
	return s, nil
}

// RequestContext captures the HTTP request that produced an error
type RequestContext struct {
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// ErrorEvent is a single recorded error. Only Resolved ever changes after insert.
type ErrorEvent struct {
	ID         int64           `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	ErrorType  string          `json:"errorType"`
	Message    string          `json:"message"`
	StackTrace string          `json:"stackTrace,omitempty"`
	UserID     string          `json:"userId,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
	Request    *RequestContext `json:"request,omitempty"`
	Severity   Severity        `json:"severity"`
	Resolved   bool            `json:"resolved"`
	Tags       []string        `json:"tags,omitempty"`
}

// DailyErrorCount is the rollup row for one (date, type, severity) key
type DailyErrorCount struct {
	Date      string   `json:"date"` // YYYY-MM-DD, UTC
	ErrorType string   `json:"errorType"`
	Severity  Severity `json:"severity"`
	Count     int64    `json:"count"`
}

// ApiSample is one probe result or one reported API error
type ApiSample struct {
	ID           int64     `json:"id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Endpoint     string    `json:"endpoint"`
	ResponseTime float64   `json:"responseTimeMs"`
	StatusCode   int       `json:"statusCode"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// NetworkIO is a snapshot of host network counters
type NetworkIO struct {
	BytesSent   uint64 `json:"bytesSent"`
	BytesRecv   uint64 `json:"bytesRecv"`
	PacketsSent uint64 `json:"packetsSent"`
	PacketsRecv uint64 `json:"packetsRecv"`
}

// SystemSample is one host resource reading
type SystemSample struct {
	ID            int64     `json:"id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryPercent float64   `json:"memoryPercent"`
	DiskPercent   float64   `json:"diskPercent"`
	Network       NetworkIO `json:"network"`

	// Partial is set when at least one reading failed. Partial samples are not persisted.
	Partial bool `json:"partial,omitempty"`
}

// PerformanceMetric is a named numeric measurement
type PerformanceMetric struct {
	ID        int64     `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	Tags      string    `json:"tags,omitempty"`
}

// DateKey formats t as the UTC calendar date used for rollups and trends
func DateKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
