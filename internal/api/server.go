package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/samijaber1/aegis-telemetry/internal/alert"
	"github.com/samijaber1/aegis-telemetry/internal/ingest"
	"github.com/samijaber1/aegis-telemetry/internal/metrics"
	"github.com/samijaber1/aegis-telemetry/internal/report"
	"github.com/samijaber1/aegis-telemetry/internal/retention"
	"github.com/samijaber1/aegis-telemetry/internal/scheduler"
	"github.com/samijaber1/aegis-telemetry/internal/storage"
)

// Deps groups the components behind the HTTP API
type Deps struct {
	Store     storage.EventStore
	Ingestor  *ingest.Ingestor
	Reporter  *report.Reporter
	Retention *retention.Manager
	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Metrics

	// Gatherer backs /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer
}

// Options holds the default query windows
type Options struct {
	SummaryDays       int
	TrendDays         int
	ReportWindowHours int
}

// Server is the HTTP API server
type Server struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
	engine *gin.Engine
	server *http.Server
}

// NewServer creates a new API server
func NewServer(deps Deps, addr string, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SummaryDays <= 0 {
		opts.SummaryDays = report.DefaultSummaryDays
	}
	if opts.TrendDays <= 0 {
		opts.TrendDays = report.DefaultTrendDays
	}
	if opts.ReportWindowHours <= 0 {
		opts.ReportWindowHours = report.DefaultWindowHours
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		deps:   deps,
		opts:   opts,
		logger: logger.Named("api"),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(s.requestLogger())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"*"},
		ExposeHeaders:   []string{"Content-Length"},
	}))
	r.Use(ingest.Middleware(deps.Ingestor))

	// Health endpoints
	r.GET("/healthz", s.handleHealth)
	r.GET("/readyz", s.handleReady)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	{
		// Ingestion
		v1.POST("/errors", s.handleRecordError)
		v1.POST("/api-errors", s.handleRecordAPIError)

		// Error reports
		v1.GET("/errors/summary", s.handleSummary)
		v1.GET("/errors/trends", s.handleTrends)
		v1.GET("/errors/critical", s.handleCritical)
		v1.GET("/errors/daily", s.handleDailyCounts)
		v1.POST("/errors/:id/resolve", s.handleResolve)

		// Maintenance
		v1.POST("/maintenance/purge", s.handlePurge)

		// Performance and alerts
		v1.GET("/performance/report", s.handlePerformanceReport)
		v1.GET("/alerts", s.handleAlerts)
		v1.POST("/cycle/run", s.handleRunCycle)
	}

	s.engine = r
	s.server = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting API server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleReady(c *gin.Context) {
	resp := ReadyResponse{Ready: true}

	if err := s.deps.Store.Ping(c.Request.Context()); err != nil {
		resp.Ready = false
		resp.Reasons = append(resp.Reasons, fmt.Sprintf("store unavailable: %v", err))
	} else {
		resp.OpenConnections = s.deps.Store.Stats().OpenConnections
	}
	if s.deps.Scheduler != nil {
		resp.SchedulerRunning = s.deps.Scheduler.Running()
		if s.deps.Scheduler.Cache().Size() == 0 {
			resp.Reasons = append(resp.Reasons, "no monitoring cycle has run yet")
		}
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func (s *Server) handleRecordError(c *gin.Context) {
	var req ingest.ErrorReport
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	id, err := s.deps.Ingestor.RecordError(c.Request.Context(), req)
	if err != nil {
		respondIngestError(c, err)
		return
	}
	c.JSON(http.StatusCreated, RecordErrorResponse{ID: id})
}

func (s *Server) handleRecordAPIError(c *gin.Context) {
	var req ingest.APIErrorReport
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	if err := s.deps.Ingestor.RecordAPIError(c.Request.Context(), req); err != nil {
		respondIngestError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSummary(c *gin.Context) {
	days, ok := queryInt(c, "days", s.opts.SummaryDays)
	if !ok {
		return
	}
	summary, err := s.deps.Reporter.Summarize(c.Request.Context(), days)
	if err != nil {
		s.internalError(c, "summary failed", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleTrends(c *gin.Context) {
	days, ok := queryInt(c, "days", s.opts.TrendDays)
	if !ok {
		return
	}
	trends, err := s.deps.Reporter.Trends(c.Request.Context(), days)
	if err != nil {
		s.internalError(c, "trends failed", err)
		return
	}
	c.JSON(http.StatusOK, trends)
}

func (s *Server) handleCritical(c *gin.Context) {
	limit, ok := queryInt(c, "limit", report.DefaultCriticalLimit)
	if !ok {
		return
	}
	events, err := s.deps.Reporter.CriticalUnresolved(c.Request.Context(), limit)
	if err != nil {
		s.internalError(c, "critical errors failed", err)
		return
	}
	c.JSON(http.StatusOK, CriticalResponse{Errors: events, Total: len(events)})
}

func (s *Server) handleDailyCounts(c *gin.Context) {
	days, ok := queryInt(c, "days", s.opts.SummaryDays)
	if !ok {
		return
	}
	counts, err := s.deps.Reporter.DailyCounts(c.Request.Context(), days)
	if err != nil {
		s.internalError(c, "daily counts failed", err)
		return
	}
	c.JSON(http.StatusOK, DailyCountsResponse{Days: days, Counts: counts})
}

func (s *Server) handleResolve(c *gin.Context) {
	id, err := cast.ToInt64E(c.Param("id"))
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("invalid event id %q", c.Param("id")))
		return
	}

	if err := s.deps.Reporter.MarkResolved(c.Request.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(c, http.StatusNotFound, fmt.Sprintf("error event not found: %d", id))
			return
		}
		s.internalError(c, "resolve failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePurge(c *gin.Context) {
	days, ok := queryInt(c, "days", 0)
	if !ok {
		return
	}
	if s.deps.Retention == nil {
		respondError(c, http.StatusServiceUnavailable, "retention not configured")
		return
	}

	ctx := c.Request.Context()
	events, err := s.deps.Retention.Purge(ctx, days)
	if err != nil {
		s.internalError(c, "purge failed", err)
		return
	}
	samples, err := s.deps.Retention.PurgeSamples(ctx, 0)
	if err != nil {
		s.internalError(c, "sample purge failed", err)
		return
	}

	if days == 0 {
		days = s.deps.Retention.EventDays()
	}
	c.JSON(http.StatusOK, PurgeResponse{DeletedEvents: events, DeletedSamples: samples, OlderThanDays: days})
}

func (s *Server) handlePerformanceReport(c *gin.Context) {
	hours, ok := queryInt(c, "hours", s.opts.ReportWindowHours)
	if !ok {
		return
	}
	rep, err := s.deps.Reporter.PerformanceReport(c.Request.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		s.internalError(c, "performance report failed", err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) handleAlerts(c *gin.Context) {
	if s.deps.Scheduler == nil {
		respondError(c, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}

	resp := AlertsResponse{
		Alerts: []alert.Alert{},
		Rules:  s.deps.Scheduler.Evaluator().Rules(),
	}
	if latest, ok := s.deps.Scheduler.Cache().Latest(); ok {
		resp.CycleID = latest.ID
		resp.UpdatedAt = latest.FinishedAt
		resp.IsStale = latest.IsStale(time.Now())
		if latest.Alerts != nil {
			resp.Alerts = latest.Alerts
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRunCycle(c *gin.Context) {
	if s.deps.Scheduler == nil {
		respondError(c, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}

	result, err := s.deps.Scheduler.RunCycle(c.Request.Context())
	if err != nil {
		s.logger.Warn("manual cycle failed", zap.String("cycle_id", result.ID), zap.Error(err))
		c.JSON(http.StatusBadGateway, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Helper functions

// queryInt reads a non-negative integer query parameter. On failure it writes a 400 and returns false.
func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, true
	}
	v, err := cast.ToIntE(raw)
	if err != nil || v < 0 {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("invalid %s: %q", key, raw))
		return 0, false
	}
	return v, true
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorResponse{Error: message})
}

func respondIngestError(c *gin.Context, err error) {
	var ve *ingest.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ve.Error(), Field: ve.Field})
		return
	}
	c.Error(err)
	respondError(c, http.StatusInternalServerError, "failed to record error")
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	c.Error(err)
	respondError(c, http.StatusInternalServerError, msg)
}

// requestLogger logs each request and feeds the HTTP metrics
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		s.deps.Metrics.RequestObserved(c.Request.Method, route, status, elapsed)
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
		)
	}
}
