package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmd13/subagent-tracking/internal/clock"
	"github.com/jcmd13/subagent-tracking/internal/config"
)

func newTestRouter(t *testing.T, gate *Gate) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	Routes(r, gate, nil)
	return r
}

func TestHTTP_ListApprovalsFiltersByStatus(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	gate, _ := newTestGate(t, clk, defaultTestConfig())

	go gate.Check(context.Background(), "s1", "user", Operation{Kind: "delete", Target: ".env.secret"})
	require.Eventually(t, func() bool { return len(gate.Pending()) == 1 }, time.Second, time.Millisecond)

	r := newTestRouter(t, gate)
	req := httptest.NewRequest(http.MethodGet, "/api/approvals?status=required", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var list []Request
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestHTTP_PostDecisionResolvesRequest(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	gate, _ := newTestGate(t, clk, defaultTestConfig())

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- gate.Check(context.Background(), "s1", "user", Operation{Kind: "delete", Target: ".env.secret"})
	}()
	require.Eventually(t, func() bool { return len(gate.Pending()) == 1 }, time.Second, time.Millisecond)
	id := gate.Pending()[0].ApprovalID

	r := newTestRouter(t, gate)
	body, _ := json.Marshal(decisionBody{Status: "granted", Actor: "alice", Reason: "fine"})
	req := httptest.NewRequest(http.MethodPost, "/api/approvals/"+id+"/decision", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, <-resultCh)
}

func TestHTTP_PostDecisionUnknownIDReturns404(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	gate, _ := newTestGate(t, clk, defaultTestConfig())

	r := newTestRouter(t, gate)
	body, _ := json.Marshal(decisionBody{Status: "granted", Actor: "alice"})
	req := httptest.NewRequest(http.MethodPost, "/api/approvals/missing/decision", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTP_PostDecisionInvalidStatusReturns400(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	gate, _ := newTestGate(t, clk, defaultTestConfig())

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- gate.Check(context.Background(), "s1", "user", Operation{Kind: "delete", Target: ".env.secret"})
	}()
	require.Eventually(t, func() bool { return len(gate.Pending()) == 1 }, time.Second, time.Millisecond)
	id := gate.Pending()[0].ApprovalID

	r := newTestRouter(t, gate)
	body, _ := json.Marshal(decisionBody{Status: "maybe"})
	req := httptest.NewRequest(http.MethodPost, "/api/approvals/"+id+"/decision", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// clean up the still-pending goroutine so the test doesn't leak it
	_, _ = gate.Decide(id, true, "alice", "cleanup")
	<-resultCh
}

var _ = config.DefaultRiskProfile
