package alert

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"text/template"

	"github.com/samijaber1/aegis-telemetry/internal/report"
)

var endpointSelectors = map[string]func(report.EndpointPerformance) float64{
	"avg_response_time": func(e report.EndpointPerformance) float64 { return e.AvgResponseTime },
	"max_response_time": func(e report.EndpointPerformance) float64 { return e.MaxResponseTime },
	"min_response_time": func(e report.EndpointPerformance) float64 { return e.MinResponseTime },
	"success_rate":      func(e report.EndpointPerformance) float64 { return e.SuccessRate },
	"total_requests":    func(e report.EndpointPerformance) float64 { return float64(e.Total) },
}

var systemSelectors = map[string]func(*report.PerformanceReport) float64{
	"cpu_avg":    func(r *report.PerformanceReport) float64 { return r.System.AvgCPU },
	"cpu_max":    func(r *report.PerformanceReport) float64 { return r.System.MaxCPU },
	"memory_avg": func(r *report.PerformanceReport) float64 { return r.System.AvgMemory },
	"memory_max": func(r *report.PerformanceReport) float64 { return r.System.MaxMemory },
	"disk_avg":   func(r *report.PerformanceReport) float64 { return r.System.AvgDisk },
	"disk_max":   func(r *report.PerformanceReport) float64 { return r.System.MaxDisk },
}

var metricSelectors = map[string]bool{"avg": true, "max": true, "min": true}

type compiledRule struct {
	Rule
	tmpl *template.Template
}

// Evaluator applies a rule table to performance reports.
// Evaluate is stateless; SetRules swaps the table atomically.
type Evaluator struct {
	mu    sync.RWMutex
	rules []compiledRule
}

// NewEvaluator compiles rules into an evaluator
func NewEvaluator(rules []Rule) (*Evaluator, error) {
	e := &Evaluator{}
	if err := e.SetRules(rules); err != nil {
		return nil, err
	}
	return e, nil
}

// SetRules replaces the rule table. On error the previous table is kept.
func (e *Evaluator) SetRules(rules []Rule) error {
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		c, err := compileRule(r)
		if err != nil {
			return fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
		}
		compiled = append(compiled, c)
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	return nil
}

// Rules returns a copy of the active table
func (e *Evaluator) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Rule, len(e.rules))
	for i, c := range e.rules {
		out[i] = c.Rule
	}
	return out
}

// Evaluate returns the alerts triggered by rep. Endpoints are visited in name order,
// then system rules, then metric rules in metric name order.
func (e *Evaluator) Evaluate(rep *report.PerformanceReport) []Alert {
	if rep == nil {
		return nil
	}

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	alerts := []Alert{}

	endpoints := append([]report.EndpointPerformance(nil), rep.Endpoints...)
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Endpoint < endpoints[j].Endpoint })
	for _, ep := range endpoints {
		if ep.Total == 0 {
			continue
		}
		for _, r := range rules {
			if r.Scope != ScopeEndpoint || (r.Target != "" && r.Target != ep.Endpoint) {
				continue
			}
			value := endpointSelectors[r.Selector](ep)
			if a, ok := r.check(ep.Endpoint, value, rep); ok {
				alerts = append(alerts, a)
			}
		}
	}

	if rep.System.Samples > 0 {
		for _, r := range rules {
			if r.Scope != ScopeSystem {
				continue
			}
			value := systemSelectors[r.Selector](rep)
			if a, ok := r.check("system", value, rep); ok {
				alerts = append(alerts, a)
			}
		}
	}

	metrics := append(rep.Metrics[:0:0], rep.Metrics...)
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Name < metrics[j].Name })
	for _, m := range metrics {
		for _, r := range rules {
			if r.Scope != ScopeMetric || (r.Target != "" && r.Target != m.Name) {
				continue
			}
			var value float64
			switch r.Selector {
			case "avg":
				value = m.Avg
			case "max":
				value = m.Max
			case "min":
				value = m.Min
			}
			if a, ok := r.check(m.Name, value, rep); ok {
				alerts = append(alerts, a)
			}
		}
	}

	return alerts
}

func (r compiledRule) check(subject string, value float64, rep *report.PerformanceReport) (Alert, bool) {
	if !compare(r.Comparator, value, r.Threshold) {
		return Alert{}, false
	}

	var buf bytes.Buffer
	msg := r.Message
	if err := r.tmpl.Execute(&buf, MessageData{Subject: subject, Value: value, Threshold: r.Threshold}); err == nil {
		msg = buf.String()
	}

	return Alert{
		Rule:      r.Name,
		Type:      r.Type,
		Severity:  r.Severity,
		Subject:   subject,
		Value:     value,
		Threshold: r.Threshold,
		Message:   msg,
		Timestamp: rep.GeneratedAt,
	}, true
}

func compare(c Comparator, value, threshold float64) bool {
	switch c {
	case GreaterThan:
		return value > threshold
	case GreaterOrEqual:
		return value >= threshold
	case LessThan:
		return value < threshold
	case LessOrEqual:
		return value <= threshold
	}
	return false
}

func compileRule(r Rule) (compiledRule, error) {
	if r.Name == "" {
		return compiledRule{}, fmt.Errorf("name is required")
	}
	if !r.Severity.Valid() {
		return compiledRule{}, fmt.Errorf("invalid severity %q", r.Severity)
	}
	switch r.Comparator {
	case GreaterThan, GreaterOrEqual, LessThan, LessOrEqual:
	default:
		return compiledRule{}, fmt.Errorf("invalid comparator %q", r.Comparator)
	}

	switch r.Scope {
	case ScopeEndpoint:
		if _, ok := endpointSelectors[r.Selector]; !ok {
			return compiledRule{}, fmt.Errorf("unknown endpoint selector %q", r.Selector)
		}
	case ScopeSystem:
		if _, ok := systemSelectors[r.Selector]; !ok {
			return compiledRule{}, fmt.Errorf("unknown system selector %q", r.Selector)
		}
	case ScopeMetric:
		if !metricSelectors[r.Selector] {
			return compiledRule{}, fmt.Errorf("unknown metric selector %q", r.Selector)
		}
	default:
		return compiledRule{}, fmt.Errorf("invalid scope %q", r.Scope)
	}

	if r.Type == "" {
		r.Type = string(r.Scope)
	}

	tmpl, err := template.New(r.Name).Option("missingkey=error").Parse(r.Message)
	if err != nil {
		return compiledRule{}, fmt.Errorf("invalid message template: %w", err)
	}
	return compiledRule{Rule: r, tmpl: tmpl}, nil
}
