package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Config holds all configuration for the jobd process.
// Values are loaded from environment variables; see the CLI usage text
// for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	// Timezone is the default IANA zone cron triggers are evaluated in.
	Timezone string `json:"timezone"`

	// WorkflowSweepURL is the external collaborator endpoint the
	// deadline sweep job posts to. Empty means a no-op collaborator.
	WorkflowSweepURL string `json:"workflow_sweep_url,omitempty"`

	LogLevel string `json:"log_level"`
	PidFile  string `json:"pid_file,omitempty"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	// AbandonedAfter must exceed the longest expected job runtime,
	// or legitimately slow runs get swept to timeout.
	AbandonedAfter    time.Duration `json:"-"`
	AbandonedAfterStr string        `json:"abandoned_after"`

	DrainTimeout    time.Duration `json:"-"`
	DrainTimeoutStr string        `json:"drain_timeout"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	SweepInterval    time.Duration `json:"-"`
	SweepIntervalStr string        `json:"sweep_interval"`

	RetentionDays int `json:"retention_days"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	EventBusBufferSize int `json:"eventbus_buffer_size"`

	StatsRetention    time.Duration `json:"-"`
	StatsRetentionStr string        `json:"stats_retention"`

	// BreakerThreshold: 0 disables the circuit breaker.
	BreakerThreshold   int           `json:"breaker_threshold"`
	BreakerCooldown    time.Duration `json:"-"`
	BreakerCooldownStr string        `json:"breaker_cooldown"`

	// SingletonLockKey: all processes sharing the same database must
	// use the same key.
	SingletonLockEnabled bool  `json:"singleton_lock_enabled"`
	SingletonLockKey     int64 `json:"singleton_lock_key"`

	SingletonRetryInterval    time.Duration `json:"-"`
	SingletonRetryIntervalStr string        `json:"singleton_retry_interval"`

	SingletonHeartbeatInterval    time.Duration `json:"-"`
	SingletonHeartbeatIntervalStr string        `json:"singleton_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:                   os.Getenv("DATABASE_URL"),
		RedisAddr:                     os.Getenv("REDIS_ADDR"),
		HTTPAddr:                      os.Getenv("HTTP_ADDR"),
		Timezone:                      os.Getenv("TIMEZONE"),
		WorkflowSweepURL:              os.Getenv("WORKFLOW_SWEEP_URL"),
		LogLevel:                      os.Getenv("LOG_LEVEL"),
		PidFile:                       os.Getenv("PIDFILE"),
		DBOpTimeoutStr:                os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:          os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:          os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		ReconcileIntervalStr:          os.Getenv("RECONCILE_INTERVAL"),
		AbandonedAfterStr:             os.Getenv("ABANDONED_AFTER"),
		DrainTimeoutStr:               os.Getenv("DRAIN_TIMEOUT"),
		HTTPShutdownTimeoutStr:        os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		SweepIntervalStr:              os.Getenv("SWEEP_INTERVAL"),
		MetricsEnabled:                os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:                   os.Getenv("METRICS_PATH"),
		MetricsPort:                   os.Getenv("METRICS_PORT"),
		StatsRetentionStr:             os.Getenv("STATS_RETENTION"),
		BreakerCooldownStr:            os.Getenv("BREAKER_COOLDOWN"),
		SingletonLockEnabled:          os.Getenv("SINGLETON_LOCK_ENABLED") == "true",
		SingletonRetryIntervalStr:     os.Getenv("SINGLETON_RETRY_INTERVAL"),
		SingletonHeartbeatIntervalStr: os.Getenv("SINGLETON_HEARTBEAT_INTERVAL"),
	}

	if daysStr := os.Getenv("RETENTION_DAYS"); daysStr != "" {
		if days, err := parseInt(daysStr); err == nil && days > 0 {
			cfg.RetentionDays = days
		} else {
			log.Printf("config: invalid RETENTION_DAYS %q (must be a positive integer), using default 30", daysStr)
		}
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 30
	}

	if bufStr := os.Getenv("EVENTBUS_BUFFER_SIZE"); bufStr != "" {
		if n, err := parseInt(bufStr); err == nil && n > 0 {
			cfg.EventBusBufferSize = n
		} else {
			log.Printf("config: invalid EVENTBUS_BUFFER_SIZE %q (must be a positive integer), using default 100", bufStr)
		}
	}
	if cfg.EventBusBufferSize == 0 {
		cfg.EventBusBufferSize = 100
	}

	if thStr := os.Getenv("BREAKER_THRESHOLD"); thStr != "" {
		if n, err := parseInt(thStr); err == nil {
			cfg.BreakerThreshold = n
		} else {
			log.Printf("config: invalid BREAKER_THRESHOLD %q, using default 5", thStr)
		}
	}
	if cfg.BreakerThreshold == 0 && os.Getenv("BREAKER_THRESHOLD") == "" {
		cfg.BreakerThreshold = 5
	}

	if keyStr := os.Getenv("SINGLETON_LOCK_KEY"); keyStr != "" {
		if n, err := parseInt(keyStr); err == nil && n > 0 {
			cfg.SingletonLockKey = int64(n)
		} else {
			log.Printf("config: invalid SINGLETON_LOCK_KEY %q (must be a positive integer), using default 728311", keyStr)
		}
	}
	if cfg.SingletonLockKey == 0 {
		cfg.SingletonLockKey = 728311
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support PORT as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.ReconcileIntervalStr == "" {
		cfg.ReconcileIntervalStr = "30s"
	}
	if cfg.AbandonedAfterStr == "" {
		cfg.AbandonedAfterStr = "10m"
	}
	if cfg.DrainTimeoutStr == "" {
		cfg.DrainTimeoutStr = "30s"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.SweepIntervalStr == "" {
		cfg.SweepIntervalStr = "60s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.StatsRetentionStr == "" {
		cfg.StatsRetentionStr = "24h"
	}
	if cfg.BreakerCooldownStr == "" {
		cfg.BreakerCooldownStr = "2m"
	}
	if cfg.SingletonRetryIntervalStr == "" {
		cfg.SingletonRetryIntervalStr = "5s"
	}
	if cfg.SingletonHeartbeatIntervalStr == "" {
		cfg.SingletonHeartbeatIntervalStr = "2s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileIntervalStr); err == nil {
		cfg.ReconcileInterval = d
	}
	if d, err := time.ParseDuration(cfg.AbandonedAfterStr); err == nil {
		cfg.AbandonedAfter = d
	}
	if d, err := time.ParseDuration(cfg.DrainTimeoutStr); err == nil {
		cfg.DrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.SweepIntervalStr); err == nil {
		cfg.SweepInterval = d
	}
	if d, err := time.ParseDuration(cfg.StatsRetentionStr); err == nil {
		cfg.StatsRetention = d
	}
	if d, err := time.ParseDuration(cfg.BreakerCooldownStr); err == nil {
		cfg.BreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.SingletonRetryIntervalStr); err == nil {
		cfg.SingletonRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.SingletonHeartbeatIntervalStr); err == nil {
		cfg.SingletonHeartbeatInterval = d
	}

	return cfg
}

// parseInt parses a string of decimal digits.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, os.ErrInvalid
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
