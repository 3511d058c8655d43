package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/samijaber1/aegis-telemetry/internal/alert"
	"github.com/samijaber1/aegis-telemetry/internal/sampler"
)

// EnvPrefix is prepended to every environment override, e.g. TELEMETRY_STORAGE_DRIVER
const EnvPrefix = "TELEMETRY"

// ConfigError reports an invalid configuration value
type ConfigError struct {
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Key, e.Message)
}

// Config holds the telemetry service configuration
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`

	// Windows and horizons
	RetentionDays       int `mapstructure:"retention_days"`
	SampleRetentionDays int `mapstructure:"sample_retention_days"`
	SummaryWindowDays   int `mapstructure:"summary_window_days"`
	TrendWindowDays     int `mapstructure:"trend_window_days"`
	ReportWindowHours   int `mapstructure:"report_window_hours"`

	// Probing
	ProbeTimeoutMS   int              `mapstructure:"probe_timeout_ms"`
	ProbeConcurrency int              `mapstructure:"probe_concurrency"`
	APIBaseURL       string           `mapstructure:"api_base_url"`
	Endpoints        []EndpointConfig `mapstructure:"endpoints"`
	System           SystemConfig     `mapstructure:"system"`

	Alerts   AlertConfig    `mapstructure:"alerts"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

type StorageConfig struct {
	Driver        string `mapstructure:"driver"` // sqlite or postgres
	SQLitePath    string `mapstructure:"sqlite_path"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms"`
	JournalMode   string `mapstructure:"journal_mode"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// EndpointConfig describes one probe target. Either Path (joined to api_base_url) or URL is set.
type EndpointConfig struct {
	Name          string `mapstructure:"name"`
	Path          string `mapstructure:"path"`
	URL           string `mapstructure:"url"`
	Method        string `mapstructure:"method"`
	HealthyStatus []int  `mapstructure:"healthy_status"`
	TimeoutMS     int    `mapstructure:"timeout_ms"`
}

type SystemConfig struct {
	DiskPath string `mapstructure:"disk_path"`
}

type AlertConfig struct {
	ResponseTimeMS float64 `mapstructure:"response_time_ms"`
	SuccessRatePct float64 `mapstructure:"success_rate_pct"`
	CPUPct         float64 `mapstructure:"cpu_pct"`
	MemoryPct      float64 `mapstructure:"memory_pct"`
	RulesFile      string  `mapstructure:"rules_file"`
	RedisAddr      string  `mapstructure:"redis_addr"`
	RedisChannel   string  `mapstructure:"redis_channel"`
}

type ScheduleConfig struct {
	Cycle     string `mapstructure:"cycle"`
	Retention string `mapstructure:"retention"`
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			Driver:        "sqlite",
			SQLitePath:    "telemetry.db",
			BusyTimeoutMS: 5000,
			JournalMode:   "WAL",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		RetentionDays:       90,
		SampleRetentionDays: 0,
		SummaryWindowDays:   7,
		TrendWindowDays:     30,
		ReportWindowHours:   24,
		ProbeTimeoutMS:      10000,
		ProbeConcurrency:    4,
		System:              SystemConfig{DiskPath: "/"},
		Alerts: AlertConfig{
			ResponseTimeMS: 5000,
			SuccessRatePct: 95,
			CPUPct:         80,
			MemoryPct:      85,
			RedisChannel:   "telemetry:alerts",
		},
		Schedule: ScheduleConfig{
			Cycle:     "@every 5m",
			Retention: "@daily",
		},
	}
}

// setDefaults registers every scalar key so environment overrides reach Unmarshal
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_dsn", d.Storage.PostgresDSN)
	v.SetDefault("storage.busy_timeout_ms", d.Storage.BusyTimeoutMS)
	v.SetDefault("storage.journal_mode", d.Storage.JournalMode)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("retention_days", d.RetentionDays)
	v.SetDefault("sample_retention_days", d.SampleRetentionDays)
	v.SetDefault("summary_window_days", d.SummaryWindowDays)
	v.SetDefault("trend_window_days", d.TrendWindowDays)
	v.SetDefault("report_window_hours", d.ReportWindowHours)
	v.SetDefault("probe_timeout_ms", d.ProbeTimeoutMS)
	v.SetDefault("probe_concurrency", d.ProbeConcurrency)
	v.SetDefault("api_base_url", d.APIBaseURL)
	v.SetDefault("system.disk_path", d.System.DiskPath)
	v.SetDefault("alerts.response_time_ms", d.Alerts.ResponseTimeMS)
	v.SetDefault("alerts.success_rate_pct", d.Alerts.SuccessRatePct)
	v.SetDefault("alerts.cpu_pct", d.Alerts.CPUPct)
	v.SetDefault("alerts.memory_pct", d.Alerts.MemoryPct)
	v.SetDefault("alerts.rules_file", d.Alerts.RulesFile)
	v.SetDefault("alerts.redis_addr", d.Alerts.RedisAddr)
	v.SetDefault("alerts.redis_channel", d.Alerts.RedisChannel)
	v.SetDefault("schedule.cycle", d.Schedule.Cycle)
	v.SetDefault("schedule.retention", d.Schedule.Retention)
}

// Load reads configuration from path (optional, YAML) and TELEMETRY_* environment variables.
// An empty path skips the file. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return &ConfigError{Key: "storage.sqlite_path", Message: "required for the sqlite driver"}
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return &ConfigError{Key: "storage.postgres_dsn", Message: "required for the postgres driver"}
		}
	default:
		return &ConfigError{Key: "storage.driver", Message: fmt.Sprintf("must be 'sqlite' or 'postgres', got %q", c.Storage.Driver)}
	}

	if c.Server.Addr == "" {
		return &ConfigError{Key: "server.addr", Message: "must not be empty"}
	}

	positive := []struct {
		key   string
		value int
	}{
		{"retention_days", c.RetentionDays},
		{"summary_window_days", c.SummaryWindowDays},
		{"trend_window_days", c.TrendWindowDays},
		{"report_window_hours", c.ReportWindowHours},
		{"probe_timeout_ms", c.ProbeTimeoutMS},
		{"probe_concurrency", c.ProbeConcurrency},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &ConfigError{Key: p.key, Message: fmt.Sprintf("must be positive, got %d", p.value)}
		}
	}
	if c.SampleRetentionDays < 0 {
		return &ConfigError{Key: "sample_retention_days", Message: "must not be negative"}
	}

	if c.Alerts.SuccessRatePct < 0 || c.Alerts.SuccessRatePct > 100 {
		return &ConfigError{Key: "alerts.success_rate_pct", Message: "must be between 0 and 100"}
	}

	if c.Schedule.Cycle == "" {
		return &ConfigError{Key: "schedule.cycle", Message: "must not be empty"}
	}

	if _, err := c.SamplerEndpoints(); err != nil {
		return err
	}
	return nil
}

// SamplerEndpoints resolves the configured endpoints against api_base_url
func (c *Config) SamplerEndpoints() ([]sampler.Endpoint, error) {
	endpoints := make([]sampler.Endpoint, 0, len(c.Endpoints))
	seen := make(map[string]bool, len(c.Endpoints))

	for i, ec := range c.Endpoints {
		key := fmt.Sprintf("endpoints[%d]", i)
		if ec.Path == "" && ec.URL == "" {
			return nil, &ConfigError{Key: key, Message: "either path or url is required"}
		}

		u, err := sampler.ResolveURL(c.APIBaseURL, ec.Path, ec.URL)
		if err != nil {
			return nil, &ConfigError{Key: key, Message: err.Error()}
		}

		method := strings.ToUpper(ec.Method)
		if method == "" {
			method = http.MethodGet
		}
		if ec.TimeoutMS < 0 {
			return nil, &ConfigError{Key: key + ".timeout_ms", Message: "must not be negative"}
		}

		ep := sampler.Endpoint{
			Name:          ec.Name,
			URL:           u,
			Method:        method,
			HealthyStatus: ec.HealthyStatus,
			Timeout:       time.Duration(ec.TimeoutMS) * time.Millisecond,
		}
		if ep.Name == "" {
			ep.Name = ec.Path
		}
		if seen[ep.ID()] {
			return nil, &ConfigError{Key: key, Message: fmt.Sprintf("duplicate endpoint %q", ep.ID())}
		}
		seen[ep.ID()] = true
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// Thresholds returns the alert thresholds for the built-in rules
func (c *Config) Thresholds() alert.Thresholds {
	return alert.Thresholds{
		ResponseTimeMS: c.Alerts.ResponseTimeMS,
		SuccessRatePct: c.Alerts.SuccessRatePct,
		CPUPct:         c.Alerts.CPUPct,
		MemoryPct:      c.Alerts.MemoryPct,
	}
}

// ProbeTimeout returns probe_timeout_ms as a duration
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMS) * time.Millisecond
}

// ReportWindow returns report_window_hours as a duration
func (c *Config) ReportWindow() time.Duration {
	return time.Duration(c.ReportWindowHours) * time.Hour
}

// IsConfigError reports whether err is a *ConfigError
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
