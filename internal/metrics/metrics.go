package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "telemetry"

var (
	probeBuckets   = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}
	cycleBuckets   = []float64{0.5, 1, 2, 5, 10, 20, 30, 60}
	requestBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
)

// Metrics holds the pipeline's own collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	errorsRecorded  *prometheus.CounterVec
	ingestFailures  prometheus.Counter
	probes          *prometheus.CounterVec
	probeDuration   *prometheus.HistogramVec
	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	alertsEmitted   *prometheus.CounterVec
	eventsPurged    prometheus.Counter
	samplesPurged   prometheus.Counter
	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		errorsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_recorded_total",
			Help:      "Error events accepted by the ingestor",
		}, []string{"type", "severity"}),
		ingestFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_failures_total",
			Help:      "Error reports rejected by validation or storage",
		}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Endpoint probes by outcome",
		}, []string{"endpoint", "outcome"}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Latency of endpoint probes",
			Buckets:   probeBuckets,
		}, []string{"endpoint"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Monitoring cycles by outcome",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of monitoring cycles",
			Buckets:   cycleBuckets,
		}),
		alertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_emitted_total",
			Help:      "Alerts produced by the evaluator",
		}, []string{"severity"}),
		eventsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_purged_total",
			Help:      "Resolved error events removed by retention",
		}),
		samplesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_purged_total",
			Help:      "Probe, system and metric samples removed by retention",
		}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   requestBuckets,
		}, []string{"method", "route"}),
	}

	collectors := []prometheus.Collector{
		m.errorsRecorded, m.ingestFailures, m.probes, m.probeDuration,
		m.cycles, m.cycleDuration, m.alertsEmitted, m.eventsPurged, m.samplesPurged,
		m.requestTotal, m.requestDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ErrorRecorded counts an accepted error event.
func (m *Metrics) ErrorRecorded(errorType, severity string) {
	if m == nil {
		return
	}
	m.errorsRecorded.WithLabelValues(errorType, severity).Inc()
}

// IngestFailed counts a rejected error report.
func (m *Metrics) IngestFailed() {
	if m == nil {
		return
	}
	m.ingestFailures.Inc()
}

// ProbeObserved records one probe result.
func (m *Metrics) ProbeObserved(endpoint string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.probes.WithLabelValues(endpoint, outcome).Inc()
	m.probeDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// CycleObserved records a finished monitoring cycle.
func (m *Metrics) CycleObserved(err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(duration.Seconds())
}

// AlertEmitted counts an alert by severity.
func (m *Metrics) AlertEmitted(severity string) {
	if m == nil {
		return
	}
	m.alertsEmitted.WithLabelValues(severity).Inc()
}

// EventsPurged adds n removed events.
func (m *Metrics) EventsPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.eventsPurged.Add(float64(n))
}

// SamplesPurged adds n removed samples.
func (m *Metrics) SamplesPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.samplesPurged.Add(float64(n))
}

// RequestObserved records an HTTP request handled by the API.
func (m *Metrics) RequestObserved(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
