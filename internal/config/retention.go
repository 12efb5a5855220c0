package config

import "fmt"

// RetentionConfig governs the analytics store's housekeeping pass
// (internal/analytics/retention.go). spec.md does not mention retention
// explicitly, but an append-only store that never prunes contradicts the
// sub-10ms read contract at scale (see SPEC_FULL.md, Supplemented
// Features), so this config is carried over from the teacher's event
// cleanup settings and adapted to this store's schema.
type RetentionConfig struct {
	// RetentionDays is how long regular events are kept, in days.
	// Default: 30, Range: 1-365.
	RetentionDays int

	// RetentionCriticalDays is how long critical/error-severity rows are
	// kept, in days. Must be >= RetentionDays.
	// Default: 90, Range: 1-730.
	RetentionCriticalDays int

	// PerSessionLimitEvents caps events retained per session; 0 means
	// unlimited. Default: 1000, Range: 0 or 100-10000.
	PerSessionLimitEvents int

	// GlobalLimitEvents is a hard cap on the events table's total row
	// count, a safety valve against unbounded growth.
	// Default: 100000, Range: 1000-1000000.
	GlobalLimitEvents int

	// CleanupIntervalHours is how often the retention pass runs.
	// Default: 24, Range: 1-168.
	CleanupIntervalHours int

	// CleanupBatchSize bounds rows deleted per transaction.
	// Default: 1000, Range: 100-10000.
	CleanupBatchSize int

	// CleanupEnabled toggles the automatic pass. Default: true.
	CleanupEnabled bool

	// CleanupStrategy is "oldest_first" or "oldest_non_critical".
	// Default: "oldest_non_critical". It is validated but not read by the
	// analytics cleanup pass, which spares critical event types either way.
	CleanupStrategy string
}

// DefaultRetentionConfig returns the default retention configuration.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		RetentionDays:         30,
		RetentionCriticalDays: 90,
		PerSessionLimitEvents: 1000,
		GlobalLimitEvents:     100000,
		CleanupIntervalHours:  24,
		CleanupBatchSize:      1000,
		CleanupEnabled:        true,
		CleanupStrategy:       "oldest_non_critical",
	}
}

// Validate checks the configuration's values are internally consistent.
func (c RetentionConfig) Validate() error {
	if c.RetentionDays < 1 || c.RetentionDays > 365 {
		return fmt.Errorf("retention_days must be between 1 and 365 (got %d)", c.RetentionDays)
	}
	if c.RetentionCriticalDays < 1 || c.RetentionCriticalDays > 730 {
		return fmt.Errorf("retention_critical_days must be between 1 and 730 (got %d)", c.RetentionCriticalDays)
	}
	if c.RetentionCriticalDays < c.RetentionDays {
		return fmt.Errorf("retention_critical_days (%d) must be >= retention_days (%d)",
			c.RetentionCriticalDays, c.RetentionDays)
	}
	if c.PerSessionLimitEvents < 0 {
		return fmt.Errorf("per_session_limit_events cannot be negative (got %d)", c.PerSessionLimitEvents)
	}
	if c.PerSessionLimitEvents > 0 && c.PerSessionLimitEvents < 100 {
		return fmt.Errorf("per_session_limit_events must be 0 (unlimited) or >= 100 (got %d)", c.PerSessionLimitEvents)
	}
	if c.PerSessionLimitEvents > 10000 {
		return fmt.Errorf("per_session_limit_events too large (got %d, max 10000)", c.PerSessionLimitEvents)
	}
	if c.GlobalLimitEvents < 1000 || c.GlobalLimitEvents > 1000000 {
		return fmt.Errorf("global_limit_events must be between 1000 and 1000000 (got %d)", c.GlobalLimitEvents)
	}
	if c.CleanupIntervalHours < 1 || c.CleanupIntervalHours > 168 {
		return fmt.Errorf("cleanup_interval_hours must be between 1 and 168 (got %d)", c.CleanupIntervalHours)
	}
	if c.CleanupBatchSize < 100 || c.CleanupBatchSize > 10000 {
		return fmt.Errorf("cleanup_batch_size must be between 100 and 10000 (got %d)", c.CleanupBatchSize)
	}
	if c.CleanupStrategy != "oldest_first" && c.CleanupStrategy != "oldest_non_critical" {
		return fmt.Errorf("cleanup_strategy must be 'oldest_first' or 'oldest_non_critical' (got %q)", c.CleanupStrategy)
	}
	return nil
}

func (c RetentionConfig) String() string {
	return fmt.Sprintf(
		"RetentionConfig{RetentionDays: %d, RetentionCriticalDays: %d, PerSessionLimit: %d, "+
			"GlobalLimit: %d, CleanupInterval: %dh, BatchSize: %d, Enabled: %t, Strategy: %s}",
		c.RetentionDays, c.RetentionCriticalDays, c.PerSessionLimitEvents,
		c.GlobalLimitEvents, c.CleanupIntervalHours, c.CleanupBatchSize,
		c.CleanupEnabled, c.CleanupStrategy,
	)
}

// RetentionConfigFromEnv builds a RetentionConfig from SUBAGENT_RETENTION_*
// environment variables, falling back to defaults, then validates the
// result.
func RetentionConfigFromEnv() (RetentionConfig, error) {
	cfg := DefaultRetentionConfig()

	if err := parseEnvInt("SUBAGENT_RETENTION_DAYS", &cfg.RetentionDays); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("SUBAGENT_RETENTION_CRITICAL_DAYS", &cfg.RetentionCriticalDays); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("SUBAGENT_RETENTION_PER_SESSION_LIMIT", &cfg.PerSessionLimitEvents); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("SUBAGENT_RETENTION_GLOBAL_LIMIT", &cfg.GlobalLimitEvents); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("SUBAGENT_RETENTION_CLEANUP_INTERVAL_HOURS", &cfg.CleanupIntervalHours); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("SUBAGENT_RETENTION_CLEANUP_BATCH_SIZE", &cfg.CleanupBatchSize); err != nil {
		return cfg, err
	}
	if err := parseEnvBool("SUBAGENT_RETENTION_CLEANUP_ENABLED", &cfg.CleanupEnabled); err != nil {
		return cfg, err
	}
	if err := parseEnvString("SUBAGENT_RETENTION_CLEANUP_STRATEGY", &cfg.CleanupStrategy); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid retention configuration from environment: %w", err)
	}
	return cfg, nil
}
