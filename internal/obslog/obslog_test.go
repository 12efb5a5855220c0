package obslog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ProductionConfigBuilds(t *testing.T) {
	log, err := New(Options{SessionID: "sess1"})
	require.NoError(t, err)
	require.NotNil(t, log)
	defer log.Sync()
}

func TestNew_DebugConfigBuilds(t *testing.T) {
	log, err := New(Options{Debug: true})
	require.NoError(t, err)
	require.NotNil(t, log)
	defer log.Sync()
}

func TestNop_DiscardsWithoutPanicking(t *testing.T) {
	log := Nop()
	assert.NotNil(t, log)
	log.Info("discarded")
}
