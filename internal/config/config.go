package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config is the top-level, resolved configuration for a subagentd process.
// It is the only component every other component depends on (SPEC_FULL.md
// section 2, component 8).
type Config struct {
	Layout Layout

	// ApprovalThreshold is the risk score, in [0, 1], above which the
	// approval gate requires an external decision before proceeding.
	ApprovalThreshold float64

	// ApprovalsBypass, when true, auto-grants every approval request; the
	// bypass is still logged so decisions remain auditable.
	ApprovalsBypass bool

	// ApprovalTimeoutSeconds bounds how long the gate waits for a
	// decision before the request expires.
	ApprovalTimeoutSeconds int

	Retention RetentionConfig
}

// Load resolves configuration from, in increasing precedence: built-in
// defaults, an optional subagent.yaml/subagent.yml in cwd, then environment
// variables — the usual viper layering, matching the corpus's config
// loading style.
func Load(cwd string) (*Config, error) {
	layout, err := NewLayout(cwd)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	v := viper.New()
	v.SetConfigName("subagent")
	v.SetConfigType("yaml")
	v.AddConfigPath(cwd)
	v.SetDefault("approval_threshold", 0.5)
	v.SetDefault("approvals_bypass", false)
	v.SetDefault("approval_timeout_seconds", 600)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: read subagent.yaml: %w", err)
		}
	}

	cfg := &Config{
		Layout:                 layout,
		ApprovalThreshold:      v.GetFloat64("approval_threshold"),
		ApprovalsBypass:        v.GetBool("approvals_bypass"),
		ApprovalTimeoutSeconds: v.GetInt("approval_timeout_seconds"),
	}

	if err := parseEnvFloat("SUBAGENT_APPROVAL_THRESHOLD", &cfg.ApprovalThreshold); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := parseEnvBool("SUBAGENT_APPROVALS_BYPASS", &cfg.ApprovalsBypass); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.ApprovalThreshold < 0 || cfg.ApprovalThreshold > 1 {
		return nil, fmt.Errorf("config: approval_threshold must be in [0, 1] (got %f)", cfg.ApprovalThreshold)
	}
	if cfg.ApprovalTimeoutSeconds < 1 {
		return nil, fmt.Errorf("config: approval_timeout_seconds must be positive (got %d)", cfg.ApprovalTimeoutSeconds)
	}

	retention, err := RetentionConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Retention = retention

	return cfg, nil
}

// MustLoad is Load with the cwd resolved via os.Getwd, for callers (cmd/
// entry points) that treat a resolution failure as fatal at startup.
func MustLoad() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: getwd: %w", err)
	}
	return Load(cwd)
}
