package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/samijaber1/aegis-telemetry/internal/event"
	"github.com/samijaber1/aegis-telemetry/internal/logging"
	"github.com/samijaber1/aegis-telemetry/internal/metrics"
	"github.com/samijaber1/aegis-telemetry/internal/storage"
	"go.uber.org/zap"
)

// ErrorReport is the input of RecordError. Severity is a label; empty means error.
type ErrorReport struct {
	Type       string                `json:"type"`
	Message    string                `json:"message"`
	Severity   string                `json:"severity,omitempty"`
	StackTrace string                `json:"stackTrace,omitempty"`
	UserID     string                `json:"userId,omitempty"`
	SessionID  string                `json:"sessionId,omitempty"`
	Request    *event.RequestContext `json:"request,omitempty"`
	Tags       []string              `json:"tags,omitempty"`

	// Timestamp back-dates the event. Zero means now. The rollup always uses the ingestion date.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// APIErrorReport is the input of RecordAPIError
type APIErrorReport struct {
	Endpoint     string  `json:"endpoint"`
	StatusCode   int     `json:"statusCode"`
	ResponseTime float64 `json:"responseTimeMs"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
}

// Ingestor validates and persists error events
type Ingestor struct {
	store   storage.EventStore
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewIngestor creates an ingestor. logger and m may be nil.
func NewIngestor(store storage.EventStore, logger *zap.Logger, m *metrics.Metrics) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		store:   store,
		logger:  logger.Named("ingest"),
		metrics: m,
		now:     time.Now,
	}
}

// RecordError validates report, appends the event and increments its daily rollup
func (i *Ingestor) RecordError(ctx context.Context, report ErrorReport) (int64, error) {
	ev, err := i.validate(report)
	if err != nil {
		i.metrics.IngestFailed()
		return 0, err
	}

	now := i.now().UTC()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}

	id, err := i.store.RecordErrorEvent(ctx, ev, event.DateKey(now))
	if err != nil {
		i.metrics.IngestFailed()
		i.logger.Error("failed to persist error event",
			zap.String("type", ev.ErrorType),
			zap.String("severity", ev.Severity.String()),
			zap.Error(err),
		)
		return 0, &StorageError{Op: "record error event", Err: err}
	}

	i.metrics.ErrorRecorded(ev.ErrorType, ev.Severity.String())
	if ce := i.logger.Check(logging.ForSeverity(ev.Severity.String()), ev.ErrorType+": "+ev.Message); ce != nil {
		ce.Write(
			zap.Int64("id", id),
			zap.String("type", ev.ErrorType),
			zap.String("severity", ev.Severity.String()),
		)
	}

	return id, nil
}

// RecordAPIError appends an API error sample used for correlation
func (i *Ingestor) RecordAPIError(ctx context.Context, report APIErrorReport) error {
	if strings.TrimSpace(report.Endpoint) == "" {
		i.metrics.IngestFailed()
		return &ValidationError{Field: "endpoint", Message: "required"}
	}
	if report.ResponseTime < 0 {
		i.metrics.IngestFailed()
		return &ValidationError{Field: "responseTimeMs", Message: "must be >= 0"}
	}

	sample := &event.ApiSample{
		Timestamp:    i.now().UTC(),
		Endpoint:     report.Endpoint,
		ResponseTime: report.ResponseTime,
		StatusCode:   report.StatusCode,
		ErrorMessage: report.ErrorMessage,
	}
	if err := i.store.InsertAPIError(ctx, sample); err != nil {
		i.metrics.IngestFailed()
		return &StorageError{Op: "record api error", Err: err}
	}

	i.logger.Warn("api error recorded",
		zap.String("endpoint", report.Endpoint),
		zap.Int("status", report.StatusCode),
		zap.Float64("response_time_ms", report.ResponseTime),
	)
	return nil
}

func (i *Ingestor) validate(report ErrorReport) (*event.ErrorEvent, error) {
	if strings.TrimSpace(report.Type) == "" {
		return nil, &ValidationError{Field: "type", Message: "required"}
	}
	if strings.TrimSpace(report.Message) == "" {
		return nil, &ValidationError{Field: "message", Message: "required"}
	}
	severity, err := event.ParseSeverity(report.Severity)
	if err != nil {
		return nil, &ValidationError{Field: "severity", Message: err.Error()}
	}

	return &event.ErrorEvent{
		Timestamp:  report.Timestamp,
		ErrorType:  report.Type,
		Message:    report.Message,
		StackTrace: report.StackTrace,
		UserID:     report.UserID,
		SessionID:  report.SessionID,
		Request:    report.Request,
		Severity:   severity,
		Tags:       report.Tags,
	}, nil
}
