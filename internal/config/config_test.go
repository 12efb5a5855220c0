package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cwd := t.TempDir()
	cfg, err := Load(cwd)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.ApprovalThreshold)
	assert.False(t, cfg.ApprovalsBypass)
	assert.Equal(t, 600, cfg.ApprovalTimeoutSeconds)
}

func TestLoad_EnvOverridesApprovalThreshold(t *testing.T) {
	cwd := t.TempDir()
	t.Setenv("SUBAGENT_APPROVAL_THRESHOLD", "0.75")
	t.Setenv("SUBAGENT_APPROVALS_BYPASS", "true")

	cfg, err := Load(cwd)
	require.NoError(t, err)
	assert.Equal(t, 0.75, cfg.ApprovalThreshold)
	assert.True(t, cfg.ApprovalsBypass)
}

func TestLoad_RejectsOutOfRangeThreshold(t *testing.T) {
	cwd := t.TempDir()
	t.Setenv("SUBAGENT_APPROVAL_THRESHOLD", "1.5")
	_, err := Load(cwd)
	assert.Error(t, err)
}
