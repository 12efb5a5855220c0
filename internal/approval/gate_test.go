package approval

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmd13/subagent-tracking/internal/bus"
	"github.com/jcmd13/subagent-tracking/internal/clock"
	"github.com/jcmd13/subagent-tracking/internal/config"
	"github.com/jcmd13/subagent-tracking/internal/schema"
)

func newTestGate(t *testing.T, clk clock.Clock, cfg *config.Config) (*Gate, *bus.Bus) {
	t.Helper()
	layout := newTestLayout(t)
	q, err := LoadQueue(layout)
	require.NoError(t, err)
	b := bus.New(nil)
	t.Cleanup(b.Close)
	return NewGate(q, b, clk, nil, config.DefaultRiskProfile(), cfg), b
}

func defaultTestConfig() *config.Config {
	return &config.Config{
		ApprovalThreshold:      0.5,
		ApprovalTimeoutSeconds: 600,
		ApprovalsBypass:        false,
	}
}

func TestGate_LowRiskProceedsWithoutRequest(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	gate, _ := newTestGate(t, clk, defaultTestConfig())

	err := gate.Check(context.Background(), "s1", "user", Operation{Kind: "read", Target: "README.md"})
	assert.NoError(t, err)
	assert.Empty(t, gate.Pending())
}

func TestGate_HighRiskBlocksUntilGranted(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	gate, b := newTestGate(t, clk, defaultTestConfig())

	var requiredEv schema.Event
	done := make(chan struct{})
	b.Subscribe(string(schema.EventApprovalRequired), func(ev schema.Event) error {
		requiredEv = ev
		close(done)
		return nil
	})

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- gate.Check(context.Background(), "s1", "user", Operation{Kind: "delete", Target: ".env.secret"})
	}()

	<-done
	var payload schema.ApprovalRequiredPayload
	require.NoError(t, json.Unmarshal(requiredEv.Payload, &payload))
	assert.GreaterOrEqual(t, payload.RiskScore, 0.5)

	pending := gate.Pending()
	require.Len(t, pending, 1)

	_, err := gate.Decide(pending[0].ApprovalID, true, "alice", "looks fine")
	require.NoError(t, err)

	assert.NoError(t, <-resultCh)
}

func TestGate_DeniedFailsTheCaller(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	gate, _ := newTestGate(t, clk, defaultTestConfig())

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- gate.Check(context.Background(), "s1", "user", Operation{Kind: "shell", Target: "rm -rf /"})
	}()

	require.Eventually(t, func() bool { return len(gate.Pending()) == 1 }, time.Second, time.Millisecond)
	pending := gate.Pending()
	_, err := gate.Decide(pending[0].ApprovalID, false, "alice", "too risky")
	require.NoError(t, err)

	err = <-resultCh
	var denied *ApprovalDeniedError
	assert.ErrorAs(t, err, &denied)
}

func TestGate_BypassAutoGrantsAndAudits(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := defaultTestConfig()
	cfg.ApprovalsBypass = true
	gate, _ := newTestGate(t, clk, cfg)

	err := gate.Check(context.Background(), "s1", "user", Operation{Kind: "delete", Target: ".env.secret"})
	require.NoError(t, err)

	all := gate.queue.ListByStatus("")
	require.Len(t, all, 1)
	assert.True(t, all[0].Bypassed)
	assert.Equal(t, StatusGranted, all[0].Status)
}

func TestGate_TimeoutExpiresTheRequest(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := defaultTestConfig()
	cfg.ApprovalTimeoutSeconds = 60
	gate, _ := newTestGate(t, clk, cfg)

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- gate.Check(context.Background(), "s1", "user", Operation{Kind: "delete", Target: ".env.secret"})
	}()

	require.Eventually(t, func() bool { return len(gate.Pending()) == 1 }, time.Second, time.Millisecond)
	clk.Advance(61 * time.Second)

	err := <-resultCh
	var expired *ApprovalExpiredError
	assert.ErrorAs(t, err, &expired)

	all := gate.queue.ListByStatus("")
	require.Len(t, all, 1)
	assert.Equal(t, StatusExpired, all[0].Status)
}

func TestGate_StartupExpiresStaleRequests(t *testing.T) {
	layout := newTestLayout(t)
	clk := clock.NewFake(time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC))

	q, err := LoadQueue(layout)
	require.NoError(t, err)
	require.NoError(t, q.Create(&Request{
		ApprovalID: "appr_stale",
		Status:     StatusRequired,
		Timestamp:  clk.Now().Add(-20 * time.Minute),
	}))

	cfg := defaultTestConfig()
	cfg.ApprovalTimeoutSeconds = 600
	gate := NewGate(q, nil, clk, nil, config.DefaultRiskProfile(), cfg)

	got, ok := gate.queue.Get("appr_stale")
	require.True(t, ok)
	assert.Equal(t, StatusExpired, got.Status)
}
