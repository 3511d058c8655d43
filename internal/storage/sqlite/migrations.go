package sqlite

// Schema defines the SQLite database schema
const Schema = `
-- Individual error events
CREATE TABLE IF NOT EXISTS error_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TIMESTAMP NOT NULL,
	error_type TEXT NOT NULL,
	message TEXT NOT NULL,
	stack_trace TEXT,
	user_id TEXT,
	session_id TEXT,
	request_url TEXT,
	request_method TEXT,
	request_headers TEXT,
	request_body TEXT,
	severity TEXT NOT NULL DEFAULT 'error' CHECK (severity IN ('warning', 'error', 'critical')),
	resolved BOOLEAN NOT NULL DEFAULT 0,
	tags TEXT
);

CREATE INDEX IF NOT EXISTS idx_error_events_timestamp ON error_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_error_events_severity_resolved ON error_events(severity, resolved);

-- Daily rollup (one row per key, never decremented)
CREATE TABLE IF NOT EXISTS daily_error_counts (
	date TEXT NOT NULL,
	error_type TEXT NOT NULL,
	severity TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
	PRIMARY KEY (date, error_type, severity)
);

-- API errors reported by the application, used for correlation
CREATE TABLE IF NOT EXISTS performance_errors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TIMESTAMP NOT NULL,
	endpoint TEXT NOT NULL,
	response_time REAL NOT NULL,
	status_code INTEGER NOT NULL,
	error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_performance_errors_timestamp ON performance_errors(timestamp DESC);

-- Probe results written by the sampler
CREATE TABLE IF NOT EXISTS api_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TIMESTAMP NOT NULL,
	endpoint TEXT NOT NULL,
	response_time REAL NOT NULL,
	status_code INTEGER NOT NULL,
	success BOOLEAN NOT NULL,
	error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_api_metrics_timestamp ON api_metrics(timestamp DESC);

-- Host resource readings
CREATE TABLE IF NOT EXISTS system_samples (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TIMESTAMP NOT NULL,
	cpu_percent REAL NOT NULL,
	memory_percent REAL NOT NULL,
	disk_percent REAL NOT NULL,
	network_io TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_system_samples_timestamp ON system_samples(timestamp DESC);

-- Named performance metrics
CREATE TABLE IF NOT EXISTS performance_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TIMESTAMP NOT NULL,
	metric_name TEXT NOT NULL,
	metric_value REAL NOT NULL,
	metric_unit TEXT,
	tags TEXT
);

CREATE INDEX IF NOT EXISTS idx_performance_metrics_name_ts ON performance_metrics(metric_name, timestamp DESC);
`
