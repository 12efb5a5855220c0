package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jcmd13/subagent-tracking/internal/clock"
)

func TestNewSessionID_EmbedsTimestampAndIsUnique(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC))
	id1 := NewSessionID(clk)
	id2 := NewSessionID(clk)

	assert.Contains(t, id1, "20260304T050607")
	assert.NotEqual(t, id1, id2, "two calls in the same instant must still not collide")
}
