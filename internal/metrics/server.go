package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jcmd13/subagent-tracking/internal/bus"
)

const gaugeSyncInterval = 2 * time.Second

// Server exposes the aggregator over three surfaces: Prometheus exposition
// at /metrics, a one-shot JSON snapshot at /snapshot, and a streaming
// websocket hub at /ws for dashboards.
type Server struct {
	agg *Aggregator
	bus *bus.Bus
	hub *wsHub
	log *zap.Logger

	httpServer *http.Server
}

// NewServer builds a Server bound to addr (":PORT" form, as http.Server
// expects). b may be nil if the aggregator is fed purely via the log-tail
// path; when non-nil its cumulative drop count is mirrored onto
// bus_events_dropped_total on a timer.
func NewServer(addr string, agg *Aggregator, b *bus.Bus, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		agg: agg,
		bus: b,
		hub: newWSHub(log),
		log: log,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.HandleFunc("/ws", s.hub.handleWS)

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.agg.Snapshot()); err != nil {
		s.log.Error("metrics: encode snapshot failed", zap.Error(err))
	}
}

// StartAsync starts the HTTP listener and the hub's periodic broadcast and
// gauge-sync loops in background goroutines.
func (s *Server) StartAsync() {
	go s.hub.run()
	go s.broadcastLoop()
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("metrics: http server stopped", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the HTTP listener and hub.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.stop()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(gaugeSyncInterval)
	defer ticker.Stop()
	for range ticker.C {
		select {
		case <-s.hub.done:
			return
		default:
		}
		snap := s.agg.Snapshot()
		SyncGauges(snap)
		if s.bus != nil {
			SyncBusDropped(s.bus.Dropped())
		}
		s.hub.broadcast(snap)
	}
}
