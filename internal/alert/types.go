package alert

import (
	"time"

	"github.com/samijaber1/aegis-telemetry/internal/event"
)

// Scope selects which part of a performance report a rule inspects
type Scope string

const (
	ScopeEndpoint Scope = "endpoint"
	ScopeSystem   Scope = "system"
	ScopeMetric   Scope = "metric"
)

// Comparator compares an observed value against a threshold
type Comparator string

const (
	GreaterThan    Comparator = "gt"
	GreaterOrEqual Comparator = "gte"
	LessThan       Comparator = "lt"
	LessOrEqual    Comparator = "lte"
)

// Rule is one row of the alert table
type Rule struct {
	Name       string         `yaml:"name" json:"name"`
	Type       string         `yaml:"type" json:"type"`
	Scope      Scope          `yaml:"scope" json:"scope"`
	Selector   string         `yaml:"selector" json:"selector"`
	Comparator Comparator     `yaml:"comparator" json:"comparator"`
	Threshold  float64        `yaml:"threshold" json:"threshold"`
	Severity   event.Severity `yaml:"severity" json:"severity"`

	// Message is a text/template rendered with MessageData
	Message string `yaml:"message" json:"message"`

	// Target restricts endpoint or metric rules to one name. Empty matches all.
	Target string `yaml:"target,omitempty" json:"target,omitempty"`
}

// RuleSet is the on-disk rule file layout
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// MessageData is passed to rule message templates
type MessageData struct {
	Subject   string
	Value     float64
	Threshold float64
}

// Alert is a triggered rule
type Alert struct {
	Rule      string         `json:"rule"`
	Type      string         `json:"type"`
	Severity  event.Severity `json:"severity"`
	Subject   string         `json:"subject"`
	Value     float64        `json:"value"`
	Threshold float64        `json:"threshold"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
}

// Thresholds feeds DefaultRules
type Thresholds struct {
	ResponseTimeMS float64
	SuccessRatePct float64
	CPUPct         float64
	MemoryPct      float64
}

// DefaultThresholds returns 5000ms, 95%, 80% and 85%
func DefaultThresholds() Thresholds {
	return Thresholds{
		ResponseTimeMS: 5000,
		SuccessRatePct: 95,
		CPUPct:         80,
		MemoryPct:      85,
	}
}

// DefaultRules builds the built-in rule table from t
func DefaultRules(t Thresholds) []Rule {
	return []Rule{
		{
			Name:       "endpoint-response-time",
			Type:       "api_performance",
			Scope:      ScopeEndpoint,
			Selector:   "avg_response_time",
			Comparator: GreaterThan,
			Threshold:  t.ResponseTimeMS,
			Severity:   event.SeverityWarning,
			Message:    `endpoint {{.Subject}} avg response time too high: {{printf "%.2f" .Value}}ms`,
		},
		{
			Name:       "endpoint-success-rate",
			Type:       "api_reliability",
			Scope:      ScopeEndpoint,
			Selector:   "success_rate",
			Comparator: LessThan,
			Threshold:  t.SuccessRatePct,
			Severity:   event.SeverityCritical,
			Message:    `endpoint {{.Subject}} success rate too low: {{printf "%.2f" .Value}}%`,
		},
		{
			Name:       "system-cpu",
			Type:       "system_resource",
			Scope:      ScopeSystem,
			Selector:   "cpu_avg",
			Comparator: GreaterThan,
			Threshold:  t.CPUPct,
			Severity:   event.SeverityWarning,
			Message:    `CPU usage too high: {{printf "%.2f" .Value}}%`,
		},
		{
			Name:       "system-memory",
			Type:       "system_resource",
			Scope:      ScopeSystem,
			Selector:   "memory_avg",
			Comparator: GreaterThan,
			Threshold:  t.MemoryPct,
			Severity:   event.SeverityWarning,
			Message:    `memory usage too high: {{printf "%.2f" .Value}}%`,
		},
	}
}
