package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samijaber1/aegis-telemetry/internal/event"
	"github.com/samijaber1/aegis-telemetry/internal/storage"
)

// Store implements EventStore on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.EventStore = (*Store)(nil)

const errorEventColumns = `id, occurred_at, error_type, message, stack_trace, user_id, session_id,
	request_url, request_method, request_headers, request_body, severity, resolved, tags`

// NewStore connects a pool to dsn. Run Migrate first.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("empty database dsn")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// RecordErrorEvent inserts ev and bumps its rollup in one transaction.
func (s *Store) RecordErrorEvent(ctx context.Context, ev *event.ErrorEvent, rollupDate string) (int64, error) {
	headers, err := encodeHeaders(ev.Request)
	if err != nil {
		return 0, err
	}
	tags, err := encodeTags(ev.Tags)
	if err != nil {
		return 0, err
	}

	var reqURL, reqMethod, reqBody *string
	if ev.Request != nil {
		reqURL = optional(ev.Request.URL)
		reqMethod = optional(ev.Request.Method)
		reqBody = optional(ev.Request.Body)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const insert = `INSERT INTO error_events (
			occurred_at, error_type, message, stack_trace, user_id, session_id,
			request_url, request_method, request_headers, request_body, severity, resolved, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	var id int64
	err = tx.QueryRow(ctx, insert,
		ev.Timestamp.UTC(), ev.ErrorType, ev.Message,
		optional(ev.StackTrace), optional(ev.UserID), optional(ev.SessionID),
		reqURL, reqMethod, headers, reqBody,
		string(ev.Severity), ev.Resolved, tags,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert error event: %w", err)
	}

	const rollup = `INSERT INTO daily_error_counts (date, error_type, severity, count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (date, error_type, severity) DO UPDATE SET count = daily_error_counts.count + 1`
	if _, err := tx.Exec(ctx, rollup, rollupDate, ev.ErrorType, string(ev.Severity)); err != nil {
		return 0, fmt.Errorf("failed to increment daily count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit error event: %w", err)
	}
	return id, nil
}

// GetErrorEvent fetches an event by id.
func (s *Store) GetErrorEvent(ctx context.Context, id int64) (*event.ErrorEvent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+errorEventColumns+` FROM error_events WHERE id = $1`, id)
	ev, err := scanErrorEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get error event: %w", err)
	}
	return ev, nil
}

// MarkResolved sets resolved on an event.
func (s *Store) MarkResolved(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE error_events SET resolved = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark resolved: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// InsertAPIError appends a reported API error.
func (s *Store) InsertAPIError(ctx context.Context, sample *event.ApiSample) error {
	const query = `INSERT INTO performance_errors (occurred_at, endpoint, response_time, status_code, error_message)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, query, sample.Timestamp.UTC(), sample.Endpoint, sample.ResponseTime, sample.StatusCode, optional(sample.ErrorMessage))
	if err != nil {
		return fmt.Errorf("failed to store api error: %w", err)
	}
	return nil
}

// InsertAPISample appends a probe result.
func (s *Store) InsertAPISample(ctx context.Context, sample *event.ApiSample) error {
	const query = `INSERT INTO api_metrics (occurred_at, endpoint, response_time, status_code, success, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	err := s.pool.QueryRow(ctx, query, sample.Timestamp.UTC(), sample.Endpoint, sample.ResponseTime,
		sample.StatusCode, sample.Success, optional(sample.ErrorMessage)).Scan(&sample.ID)
	if err != nil {
		return fmt.Errorf("failed to store api sample: %w", err)
	}
	return nil
}

// InsertSystemSample appends a host reading.
func (s *Store) InsertSystemSample(ctx context.Context, sample *event.SystemSample) error {
	network, err := json.Marshal(sample.Network)
	if err != nil {
		return fmt.Errorf("failed to marshal network io: %w", err)
	}
	const query = `INSERT INTO system_samples (occurred_at, cpu_percent, memory_percent, disk_percent, network_io)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	err = s.pool.QueryRow(ctx, query, sample.Timestamp.UTC(), sample.CPUPercent, sample.MemoryPercent,
		sample.DiskPercent, string(network)).Scan(&sample.ID)
	if err != nil {
		return fmt.Errorf("failed to store system sample: %w", err)
	}
	return nil
}

// InsertPerformanceMetric appends a named metric.
func (s *Store) InsertPerformanceMetric(ctx context.Context, metric *event.PerformanceMetric) error {
	const query = `INSERT INTO performance_metrics (occurred_at, metric_name, metric_value, metric_unit, tags)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	err := s.pool.QueryRow(ctx, query, metric.Timestamp.UTC(), metric.Name, metric.Value,
		optional(metric.Unit), optional(metric.Tags)).Scan(&metric.ID)
	if err != nil {
		return fmt.Errorf("failed to store performance metric: %w", err)
	}
	return nil
}

// CountErrors counts events since the given time.
func (s *Store) CountErrors(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(1) FROM error_events WHERE occurred_at >= $1`, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count errors: %w", err)
	}
	return count, nil
}

// CountErrorsByType groups events by type.
func (s *Store) CountErrorsByType(ctx context.Context, since time.Time) ([]storage.KeyCount, error) {
	const query = `SELECT error_type, COUNT(1) AS n FROM error_events
		WHERE occurred_at >= $1
		GROUP BY error_type
		ORDER BY n DESC, error_type ASC`
	return s.queryKeyCounts(ctx, query, since.UTC())
}

// CountErrorsBySeverity groups events by severity.
func (s *Store) CountErrorsBySeverity(ctx context.Context, since time.Time) ([]storage.KeyCount, error) {
	const query = `SELECT severity, COUNT(1) AS n FROM error_events
		WHERE occurred_at >= $1
		GROUP BY severity
		ORDER BY n DESC, severity ASC`
	return s.queryKeyCounts(ctx, query, since.UTC())
}

// RecentErrors lists the newest events in the window.
func (s *Store) RecentErrors(ctx context.Context, since time.Time, limit int) ([]event.ErrorEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT ` + errorEventColumns + ` FROM error_events
		WHERE occurred_at >= $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2`
	return s.queryErrorEvents(ctx, query, since.UTC(), limit)
}

// APIErrorStats aggregates reported API errors per endpoint.
func (s *Store) APIErrorStats(ctx context.Context, since time.Time) ([]storage.EndpointErrorStat, error) {
	const query = `SELECT endpoint, COUNT(1) AS n, COALESCE(AVG(response_time), 0)
		FROM performance_errors
		WHERE occurred_at >= $1
		GROUP BY endpoint
		ORDER BY n DESC, endpoint ASC`
	rows, err := s.pool.Query(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query api errors: %w", err)
	}
	defer rows.Close()

	var stats []storage.EndpointErrorStat
	for rows.Next() {
		var stat storage.EndpointErrorStat
		if err := rows.Scan(&stat.Endpoint, &stat.Count, &stat.AvgResponseTime); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// DailyErrorTotals counts events per UTC date.
func (s *Store) DailyErrorTotals(ctx context.Context, since time.Time) ([]storage.KeyCount, error) {
	const query = `SELECT to_char((occurred_at AT TIME ZONE 'UTC')::date, 'YYYY-MM-DD') AS day, COUNT(1)
		FROM error_events
		WHERE occurred_at >= $1
		GROUP BY day
		ORDER BY day ASC`
	return s.queryKeyCounts(ctx, query, since.UTC())
}

// DailyTypeCounts counts events per UTC date and type.
func (s *Store) DailyTypeCounts(ctx context.Context, since time.Time) ([]storage.DateTypeCount, error) {
	const query = `SELECT to_char((occurred_at AT TIME ZONE 'UTC')::date, 'YYYY-MM-DD') AS day, error_type, COUNT(1)
		FROM error_events
		WHERE occurred_at >= $1
		GROUP BY day, error_type
		ORDER BY day ASC, error_type ASC`
	rows, err := s.pool.Query(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query type trends: %w", err)
	}
	defer rows.Close()

	var counts []storage.DateTypeCount
	for rows.Next() {
		var c storage.DateTypeCount
		if err := rows.Scan(&c.Date, &c.ErrorType, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// DailyCounts reads the rollup from fromDate onwards.
func (s *Store) DailyCounts(ctx context.Context, fromDate string) ([]event.DailyErrorCount, error) {
	const query = `SELECT date, error_type, severity, count FROM daily_error_counts
		WHERE date >= $1
		ORDER BY date ASC, error_type ASC, severity ASC`
	rows, err := s.pool.Query(ctx, query, fromDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily counts: %w", err)
	}
	defer rows.Close()

	var counts []event.DailyErrorCount
	for rows.Next() {
		var c event.DailyErrorCount
		var severity string
		if err := rows.Scan(&c.Date, &c.ErrorType, &severity, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		c.Severity = event.Severity(severity)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// CriticalUnresolved lists unresolved critical events, newest first.
func (s *Store) CriticalUnresolved(ctx context.Context, limit int) ([]event.ErrorEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + errorEventColumns + ` FROM error_events
		WHERE severity = 'critical' AND resolved = FALSE
		ORDER BY occurred_at DESC, id DESC
		LIMIT $1`
	return s.queryErrorEvents(ctx, query, limit)
}

// APIStats aggregates probe results per endpoint.
func (s *Store) APIStats(ctx context.Context, since time.Time) ([]storage.EndpointStat, error) {
	const query = `SELECT endpoint,
			COALESCE(AVG(response_time), 0), COALESCE(MAX(response_time), 0), COALESCE(MIN(response_time), 0),
			COUNT(1), COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0)
		FROM api_metrics
		WHERE occurred_at >= $1
		GROUP BY endpoint
		ORDER BY endpoint ASC`
	rows, err := s.pool.Query(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query api stats: %w", err)
	}
	defer rows.Close()

	var stats []storage.EndpointStat
	for rows.Next() {
		var stat storage.EndpointStat
		if err := rows.Scan(&stat.Endpoint, &stat.AvgResponseTime, &stat.MaxResponseTime, &stat.MinResponseTime,
			&stat.Total, &stat.Successful); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// SystemStats aggregates host readings.
func (s *Store) SystemStats(ctx context.Context, since time.Time) (*storage.SystemStat, error) {
	const query = `SELECT COUNT(1),
			COALESCE(AVG(cpu_percent), 0), COALESCE(MAX(cpu_percent), 0),
			COALESCE(AVG(memory_percent), 0), COALESCE(MAX(memory_percent), 0),
			COALESCE(AVG(disk_percent), 0), COALESCE(MAX(disk_percent), 0)
		FROM system_samples
		WHERE occurred_at >= $1`
	var stat storage.SystemStat
	err := s.pool.QueryRow(ctx, query, since.UTC()).Scan(&stat.Samples,
		&stat.AvgCPU, &stat.MaxCPU, &stat.AvgMemory, &stat.MaxMemory, &stat.AvgDisk, &stat.MaxDisk)
	if err != nil {
		return nil, fmt.Errorf("failed to query system stats: %w", err)
	}
	return &stat, nil
}

// MetricStats aggregates named metrics.
func (s *Store) MetricStats(ctx context.Context, since time.Time) ([]storage.MetricStat, error) {
	const query = `SELECT metric_name, AVG(metric_value), MAX(metric_value), MIN(metric_value)
		FROM performance_metrics
		WHERE occurred_at >= $1
		GROUP BY metric_name
		ORDER BY metric_name ASC`
	rows, err := s.pool.Query(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query metric stats: %w", err)
	}
	defer rows.Close()

	var stats []storage.MetricStat
	for rows.Next() {
		var stat storage.MetricStat
		if err := rows.Scan(&stat.Name, &stat.Avg, &stat.Max, &stat.Min); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// PurgeResolved deletes resolved events older than before.
func (s *Store) PurgeResolved(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM error_events WHERE occurred_at < $1 AND resolved = TRUE`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge error events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeSamples deletes samples older than before.
func (s *Store) PurgeSamples(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var total int64
	for _, table := range []string{"api_metrics", "performance_errors", "system_samples", "performance_metrics"} {
		tag, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE occurred_at < $1`, before.UTC())
		if err != nil {
			return 0, fmt.Errorf("failed to purge %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}
	return total, nil
}

// Ping checks the pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Stats reports pool usage.
func (s *Store) Stats() storage.PoolStats {
	st := s.pool.Stat()
	return storage.PoolStats{
		OpenConnections: int(st.TotalConns()),
		InUse:           int(st.AcquiredConns()),
	}
}

// Close releases pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) queryKeyCounts(ctx context.Context, query string, args ...any) ([]storage.KeyCount, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query counts: %w", err)
	}
	defer rows.Close()

	var counts []storage.KeyCount
	for rows.Next() {
		var kc storage.KeyCount
		if err := rows.Scan(&kc.Key, &kc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		counts = append(counts, kc)
	}
	return counts, rows.Err()
}

func (s *Store) queryErrorEvents(ctx context.Context, query string, args ...any) ([]event.ErrorEvent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query error events: %w", err)
	}
	defer rows.Close()

	var events []event.ErrorEvent
	for rows.Next() {
		ev, err := scanErrorEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

func scanErrorEvent(row pgx.Row) (*event.ErrorEvent, error) {
	var ev event.ErrorEvent
	var severity string
	var stack, userID, sessionID, reqURL, reqMethod, reqHeaders, reqBody, tags *string

	if err := row.Scan(&ev.ID, &ev.Timestamp, &ev.ErrorType, &ev.Message, &stack, &userID, &sessionID,
		&reqURL, &reqMethod, &reqHeaders, &reqBody, &severity, &ev.Resolved, &tags); err != nil {
		return nil, err
	}

	ev.Timestamp = ev.Timestamp.UTC()
	ev.Severity = event.Severity(severity)
	ev.StackTrace = deref(stack)
	ev.UserID = deref(userID)
	ev.SessionID = deref(sessionID)

	if reqURL != nil || reqMethod != nil || reqHeaders != nil || reqBody != nil {
		ev.Request = &event.RequestContext{URL: deref(reqURL), Method: deref(reqMethod), Body: deref(reqBody)}
		if reqHeaders != nil && *reqHeaders != "" {
			if err := json.Unmarshal([]byte(*reqHeaders), &ev.Request.Headers); err != nil {
				return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
			}
		}
	}
	if tags != nil && *tags != "" {
		if err := json.Unmarshal([]byte(*tags), &ev.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	return &ev, nil
}

func encodeHeaders(req *event.RequestContext) (*string, error) {
	if req == nil || len(req.Headers) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(req.Headers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal headers: %w", err)
	}
	out := string(data)
	return &out, nil
}

func encodeTags(tags []string) (*string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}
	out := string(data)
	return &out, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
