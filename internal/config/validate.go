package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		errs = append(errs, ValidationError{
			Field:   "TIMEZONE",
			Message: fmt.Sprintf("unknown IANA timezone %q", cfg.Timezone),
		})
	}

	durations := []struct {
		field string
		raw   string
	}{
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetimeStr},
		{"DB_CONN_MAX_IDLE_TIME", cfg.DBConnMaxIdleTimeStr},
		{"RECONCILE_INTERVAL", cfg.ReconcileIntervalStr},
		{"ABANDONED_AFTER", cfg.AbandonedAfterStr},
		{"DRAIN_TIMEOUT", cfg.DrainTimeoutStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"SWEEP_INTERVAL", cfg.SweepIntervalStr},
		{"STATS_RETENTION", cfg.StatsRetentionStr},
		{"BREAKER_COOLDOWN", cfg.BreakerCooldownStr},
		{"SINGLETON_RETRY_INTERVAL", cfg.SingletonRetryIntervalStr},
		{"SINGLETON_HEARTBEAT_INTERVAL", cfg.SingletonHeartbeatIntervalStr},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   d.field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if parsed <= 0 {
			errs = append(errs, ValidationError{
				Field:   d.field,
				Message: "must be positive",
			})
		}
	}

	if cfg.BreakerThreshold < 0 {
		errs = append(errs, ValidationError{
			Field:   "BREAKER_THRESHOLD",
			Message: "must be zero (disabled) or positive",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
