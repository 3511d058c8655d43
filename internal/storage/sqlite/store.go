package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/samijaber1/aegis-telemetry/internal/event"
	"github.com/samijaber1/aegis-telemetry/internal/storage"
)

// Store implements EventStore using SQLite
type Store struct {
	db *sql.DB
}

var _ storage.EventStore = (*Store)(nil)

const errorEventColumns = `id, timestamp, error_type, message, stack_trace, user_id, session_id,
	request_url, request_method, request_headers, request_body, severity, resolved, tags`

// NewStore creates a new SQLite storage with the given database path
func NewStore(dbPath string, opts Options) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", buildDSN(dbPath, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single connection serializes callers instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Run migrations
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// RecordErrorEvent inserts an error event and bumps its daily rollup
func (s *Store) RecordErrorEvent(ctx context.Context, ev *event.ErrorEvent, rollupDate string) (int64, error) {
	headersJSON, err := marshalHeaders(ev.Request)
	if err != nil {
		return 0, err
	}
	tagsJSON, err := marshalTags(ev.Tags)
	if err != nil {
		return 0, err
	}

	var reqURL, reqMethod, reqBody sql.NullString
	if ev.Request != nil {
		reqURL = nullString(ev.Request.URL)
		reqMethod = nullString(ev.Request.Method)
		reqBody = nullString(ev.Request.Body)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO error_events (
			timestamp, error_type, message, stack_trace, user_id, session_id,
			request_url, request_method, request_headers, request_body, severity, resolved, tags
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.Timestamp.UTC(),
		ev.ErrorType,
		ev.Message,
		nullString(ev.StackTrace),
		nullString(ev.UserID),
		nullString(ev.SessionID),
		reqURL,
		reqMethod,
		headersJSON,
		reqBody,
		string(ev.Severity),
		ev.Resolved,
		tagsJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert error event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read event id: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_error_counts (date, error_type, severity, count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(date, error_type, severity) DO UPDATE SET
			count = count + 1
	`, rollupDate, ev.ErrorType, string(ev.Severity))
	if err != nil {
		return 0, fmt.Errorf("failed to increment daily count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit error event: %w", err)
	}

	return id, nil
}

// GetErrorEvent retrieves a single event by id
func (s *Store) GetErrorEvent(ctx context.Context, id int64) (*event.ErrorEvent, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+errorEventColumns+" FROM error_events WHERE id = ?", id)
	ev, err := scanErrorEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get error event: %w", err)
	}
	return ev, nil
}

// MarkResolved flips resolved to true
func (s *Store) MarkResolved(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE error_events SET resolved = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark resolved: %w", err)
	}

	// SQLite reports matched rows here, so an already-resolved event still counts as one.
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// InsertAPIError appends a reported API error
func (s *Store) InsertAPIError(ctx context.Context, sample *event.ApiSample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO performance_errors (timestamp, endpoint, response_time, status_code, error_message)
		VALUES (?, ?, ?, ?, ?)
	`, sample.Timestamp.UTC(), sample.Endpoint, sample.ResponseTime, sample.StatusCode, nullString(sample.ErrorMessage))
	if err != nil {
		return fmt.Errorf("failed to store api error: %w", err)
	}
	return nil
}

// InsertAPISample appends a probe result
func (s *Store) InsertAPISample(ctx context.Context, sample *event.ApiSample) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO api_metrics (timestamp, endpoint, response_time, status_code, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sample.Timestamp.UTC(), sample.Endpoint, sample.ResponseTime, sample.StatusCode, sample.Success, nullString(sample.ErrorMessage))
	if err != nil {
		return fmt.Errorf("failed to store api sample: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		sample.ID = id
	}
	return nil
}

// InsertSystemSample appends a host resource reading
func (s *Store) InsertSystemSample(ctx context.Context, sample *event.SystemSample) error {
	networkJSON, err := json.Marshal(sample.Network)
	if err != nil {
		return fmt.Errorf("failed to marshal network io: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO system_samples (timestamp, cpu_percent, memory_percent, disk_percent, network_io)
		VALUES (?, ?, ?, ?, ?)
	`, sample.Timestamp.UTC(), sample.CPUPercent, sample.MemoryPercent, sample.DiskPercent, string(networkJSON))
	if err != nil {
		return fmt.Errorf("failed to store system sample: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		sample.ID = id
	}
	return nil
}

// InsertPerformanceMetric appends a named metric
func (s *Store) InsertPerformanceMetric(ctx context.Context, metric *event.PerformanceMetric) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO performance_metrics (timestamp, metric_name, metric_value, metric_unit, tags)
		VALUES (?, ?, ?, ?, ?)
	`, metric.Timestamp.UTC(), metric.Name, metric.Value, nullString(metric.Unit), nullString(metric.Tags))
	if err != nil {
		return fmt.Errorf("failed to store performance metric: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		metric.ID = id
	}
	return nil
}

// CountErrors counts events with timestamp >= since
func (s *Store) CountErrors(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM error_events WHERE timestamp >= ?", since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count errors: %w", err)
	}
	return count, nil
}

// CountErrorsByType groups events by error_type, largest first
func (s *Store) CountErrorsByType(ctx context.Context, since time.Time) ([]storage.KeyCount, error) {
	return s.queryKeyCounts(ctx, `
		SELECT error_type, COUNT(*) AS count
		FROM error_events
		WHERE timestamp >= ?
		GROUP BY error_type
		ORDER BY count DESC, error_type ASC
	`, since.UTC())
}

// CountErrorsBySeverity groups events by severity
func (s *Store) CountErrorsBySeverity(ctx context.Context, since time.Time) ([]storage.KeyCount, error) {
	return s.queryKeyCounts(ctx, `
		SELECT severity, COUNT(*) AS count
		FROM error_events
		WHERE timestamp >= ?
		GROUP BY severity
		ORDER BY count DESC, severity ASC
	`, since.UTC())
}

// RecentErrors returns the newest events in the window
func (s *Store) RecentErrors(ctx context.Context, since time.Time, limit int) ([]event.ErrorEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryErrorEvents(ctx, "SELECT "+errorEventColumns+`
		FROM error_events
		WHERE timestamp >= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, since.UTC(), limit)
}

// APIErrorStats aggregates reported API errors per endpoint
func (s *Store) APIErrorStats(ctx context.Context, since time.Time) ([]storage.EndpointErrorStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT endpoint, COUNT(*) AS count, AVG(response_time)
		FROM performance_errors
		WHERE timestamp >= ?
		GROUP BY endpoint
		ORDER BY count DESC, endpoint ASC
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query api errors: %w", err)
	}
	defer rows.Close()

	var stats []storage.EndpointErrorStat
	for rows.Next() {
		var stat storage.EndpointErrorStat
		var avg sql.NullFloat64
		if err := rows.Scan(&stat.Endpoint, &stat.Count, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		stat.AvgResponseTime = avg.Float64
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return stats, nil
}

// DailyErrorTotals counts events per UTC calendar date of their timestamp
func (s *Store) DailyErrorTotals(ctx context.Context, since time.Time) ([]storage.KeyCount, error) {
	return s.queryKeyCounts(ctx, `
		SELECT DATE(timestamp) AS day, COUNT(*)
		FROM error_events
		WHERE timestamp >= ?
		GROUP BY day
		ORDER BY day ASC
	`, since.UTC())
}

// DailyTypeCounts counts events per (date, error_type)
func (s *Store) DailyTypeCounts(ctx context.Context, since time.Time) ([]storage.DateTypeCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DATE(timestamp) AS day, error_type, COUNT(*)
		FROM error_events
		WHERE timestamp >= ?
		GROUP BY day, error_type
		ORDER BY day ASC, error_type ASC
	`, since.UTC())
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return counts, nil
}

// DailyCounts reads rollup rows with date >= fromDate
func (s *Store) DailyCounts(ctx context.Context, fromDate string) ([]event.DailyErrorCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, error_type, severity, count
		FROM daily_error_counts
		WHERE date >= ?
		ORDER BY date ASC, error_type ASC, severity ASC
	`, fromDate)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return counts, nil
}

// CriticalUnresolved returns unresolved critical events regardless of age
func (s *Store) CriticalUnresolved(ctx context.Context, limit int) ([]event.ErrorEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryErrorEvents(ctx, "SELECT "+errorEventColumns+`
		FROM error_events
		WHERE severity = 'critical' AND resolved = 0
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
}

// APIStats aggregates probe samples per endpoint
func (s *Store) APIStats(ctx context.Context, since time.Time) ([]storage.EndpointStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			endpoint,
			AVG(response_time),
			MAX(response_time),
			MIN(response_time),
			COUNT(*),
			SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END)
		FROM api_metrics
		WHERE timestamp >= ?
		GROUP BY endpoint
		ORDER BY endpoint ASC
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query api stats: %w", err)
	}
	defer rows.Close()

	var stats []storage.EndpointStat
	for rows.Next() {
		var stat storage.EndpointStat
		var avg, maxRT, minRT sql.NullFloat64
		if err := rows.Scan(&stat.Endpoint, &avg, &maxRT, &minRT, &stat.Total, &stat.Successful); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		stat.AvgResponseTime = avg.Float64
		stat.MaxResponseTime = maxRT.Float64
		stat.MinResponseTime = minRT.Float64
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return stats, nil
}

// SystemStats aggregates host readings
func (s *Store) SystemStats(ctx context.Context, since time.Time) (*storage.SystemStat, error) {
	var stat storage.SystemStat
	var avgCPU, maxCPU, avgMem, maxMem, avgDisk, maxDisk sql.NullFloat64

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			AVG(cpu_percent), MAX(cpu_percent),
			AVG(memory_percent), MAX(memory_percent),
			AVG(disk_percent), MAX(disk_percent)
		FROM system_samples
		WHERE timestamp >= ?
	`, since.UTC()).Scan(&stat.Samples, &avgCPU, &maxCPU, &avgMem, &maxMem, &avgDisk, &maxDisk)
	if err != nil {
		return nil, fmt.Errorf("failed to query system stats: %w", err)
	}

	stat.AvgCPU = avgCPU.Float64
	stat.MaxCPU = maxCPU.Float64
	stat.AvgMemory = avgMem.Float64
	stat.MaxMemory = maxMem.Float64
	stat.AvgDisk = avgDisk.Float64
	stat.MaxDisk = maxDisk.Float64
	return &stat, nil
}

// MetricStats aggregates performance metrics per name
func (s *Store) MetricStats(ctx context.Context, since time.Time) ([]storage.MetricStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT metric_name, AVG(metric_value), MAX(metric_value), MIN(metric_value)
		FROM performance_metrics
		WHERE timestamp >= ?
		GROUP BY metric_name
		ORDER BY metric_name ASC
	`, since.UTC())
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return stats, nil
}

// PurgeResolved deletes resolved events older than before
func (s *Store) PurgeResolved(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM error_events WHERE timestamp < ? AND resolved = 1", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge error events: %w", err)
	}
	return res.RowsAffected()
}

// PurgeSamples deletes samples and reported API errors older than before
func (s *Store) PurgeSamples(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, table := range []string{"api_metrics", "performance_errors", "system_samples", "performance_metrics"} {
		res, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE timestamp < ?", before.UTC())
		if err != nil {
			return 0, fmt.Errorf("failed to purge %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read affected rows: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}
	return total, nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Stats reports connection usage
func (s *Store) Stats() storage.PoolStats {
	st := s.db.Stats()
	return storage.PoolStats{OpenConnections: st.OpenConnections, InUse: st.InUse}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) queryKeyCounts(ctx context.Context, query string, args ...interface{}) ([]storage.KeyCount, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return counts, nil
}

func (s *Store) queryErrorEvents(ctx context.Context, query string, args ...interface{}) ([]event.ErrorEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanErrorEvent(row rowScanner) (*event.ErrorEvent, error) {
	var ev event.ErrorEvent
	var severity string
	var stack, userID, sessionID, reqURL, reqMethod, reqHeaders, reqBody, tags sql.NullString

	err := row.Scan(
		&ev.ID,
		&ev.Timestamp,
		&ev.ErrorType,
		&ev.Message,
		&stack,
		&userID,
		&sessionID,
		&reqURL,
		&reqMethod,
		&reqHeaders,
		&reqBody,
		&severity,
		&ev.Resolved,
		&tags,
	)
	if err != nil {
		return nil, err
	}

	ev.Timestamp = ev.Timestamp.UTC()
	ev.Severity = event.Severity(severity)
	ev.StackTrace = stack.String
	ev.UserID = userID.String
	ev.SessionID = sessionID.String

	if reqURL.Valid || reqMethod.Valid || reqHeaders.Valid || reqBody.Valid {
		ev.Request = &event.RequestContext{
			URL:    reqURL.String,
			Method: reqMethod.String,
			Body:   reqBody.String,
		}
		if reqHeaders.Valid && reqHeaders.String != "" {
			if err := json.Unmarshal([]byte(reqHeaders.String), &ev.Request.Headers); err != nil {
				return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
			}
		}
	}

	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &ev.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}

	return &ev, nil
}

func marshalHeaders(req *event.RequestContext) (sql.NullString, error) {
	if req == nil || len(req.Headers) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(req.Headers)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal headers: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func marshalTags(tags []string) (sql.NullString, error) {
	if len(tags) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal tags: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
