package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRiskProfile_Valid(t *testing.T) {
	assert.NoError(t, DefaultRiskProfile().Validate())
}

func TestLoadRiskProfile_MissingFileReturnsDefault(t *testing.T) {
	p, err := LoadRiskProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultRiskProfile(), p)
}

func TestLoadRiskProfile_CustomFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: risk-profile-v2
operation_weights:
  read: 0
  delete: 0.9
`), 0o644))

	p, err := LoadRiskProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "risk-profile-v2", p.Version)
	assert.Equal(t, 0.9, p.OperationWeights["delete"])
}
