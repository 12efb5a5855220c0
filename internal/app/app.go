// Package app wires the eight components in SPEC_FULL.md section 2 into a
// single running process: config resolves the data root, the bus fans out
// to the analytics ingester, snapshot engine, and realtime aggregator, and
// the approval gate sits in front of tool calls. cmd/subagentd and this
// package's tests both build the pipeline through Start.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jcmd13/subagent-tracking/internal/activitylog"
	"github.com/jcmd13/subagent-tracking/internal/analytics"
	"github.com/jcmd13/subagent-tracking/internal/approval"
	"github.com/jcmd13/subagent-tracking/internal/bus"
	"github.com/jcmd13/subagent-tracking/internal/clock"
	"github.com/jcmd13/subagent-tracking/internal/config"
	"github.com/jcmd13/subagent-tracking/internal/metrics"
	"github.com/jcmd13/subagent-tracking/internal/obslog"
	"github.com/jcmd13/subagent-tracking/internal/snapshot"
)

// App is the running process: every owning component plus the session id
// it was constructed for. The zero value is not usable; build one with
// Start.
type App struct {
	Config    *config.Config
	Clock     clock.Clock
	Log       *zap.Logger
	SessionID string

	Bus       *bus.Bus
	Logger    *activitylog.Logger
	Analytics *analytics.Store
	Snapshots *snapshot.Engine
	Approvals *approval.Gate
	Queue     *approval.Queue
	Metrics   *metrics.Aggregator
	Server    *metrics.Server

	approvalsHTTP *http.Server
	cleanupStop   chan struct{}
}

// Options overrides Start's defaults; a zero-value Options picks production
// behavior.
type Options struct {
	Clock         clock.Clock
	SessionID     string
	MetricsAddr   string // empty disables the realtime metrics HTTP/WS server
	ApprovalsAddr string // empty disables the approval decision HTTP surface
	Debug         bool   // development-mode logging
}

// Start resolves configuration, constructs every owning component in
// dependency order, and wires their subscriptions. The caller must call
// Stop to release resources cleanly.
func Start(cwd string, opts Options) (*App, error) {
	cfg, err := config.Load(cwd)
	if err != nil {
		return nil, fmt.Errorf("app: load config: %w", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = NewSessionID(clk)
	}

	log, err := obslog.New(obslog.Options{Debug: opts.Debug, SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("app: build logger: %w", err)
	}

	profile := config.DefaultRiskProfile()
	if riskProfilePath := os.Getenv("SUBAGENT_RISK_PROFILE"); riskProfilePath != "" {
		profile, err = config.LoadRiskProfile(riskProfilePath)
		if err != nil {
			return nil, fmt.Errorf("app: load risk profile: %w", err)
		}
	}

	b := bus.New(log)

	logger, err := activitylog.New(cfg.Layout, sessionID,
		activitylog.WithClock(clk),
		activitylog.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("app: start activity logger: %w", err)
	}

	store, err := analytics.Open(cfg.Layout.AnalyticsDBPath(), clk, log, cfg.Retention)
	if err != nil {
		return nil, fmt.Errorf("app: open analytics store: %w", err)
	}
	store.Subscribe(b)

	snapEngine, err := snapshot.New(cfg.Layout, sessionID, clk, log, b, snapshot.DefaultTriggerConfig())
	if err != nil {
		return nil, fmt.Errorf("app: start snapshot engine: %w", err)
	}

	queue, err := approval.LoadQueue(cfg.Layout)
	if err != nil {
		return nil, fmt.Errorf("app: load approval queue: %w", err)
	}
	gate := approval.NewGate(queue, b, clk, log, profile, cfg)

	agg := metrics.New(clk)
	agg.Subscribe(b)

	a := &App{
		Config:      cfg,
		Clock:       clk,
		Log:         log,
		SessionID:   sessionID,
		Bus:         b,
		Logger:      logger,
		Analytics:   store,
		Snapshots:   snapEngine,
		Approvals:   gate,
		Queue:       queue,
		Metrics:     agg,
		cleanupStop: make(chan struct{}),
	}

	if opts.MetricsAddr != "" {
		a.Server = metrics.NewServer(opts.MetricsAddr, agg, b, log)
		a.Server.StartAsync()
	}

	if opts.ApprovalsAddr != "" {
		r := chi.NewRouter()
		approval.Routes(r, gate, log)
		a.approvalsHTTP = &http.Server{Addr: opts.ApprovalsAddr, Handler: r}
		go func() {
			if err := a.approvalsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("app: approvals http server stopped", zap.Error(err))
			}
		}()
	}

	go a.runCleanupLoop()

	return a, nil
}

// runCleanupLoop periodically applies the analytics store's retention
// policy, per SPEC_FULL.md's supplemented retention feature.
func (a *App) runCleanupLoop() {
	if !a.Config.Retention.CleanupEnabled {
		return
	}
	interval := time.Duration(a.Config.Retention.CleanupIntervalHours) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.cleanupStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			stats, err := a.Analytics.RunCleanup(ctx)
			cancel()
			if err != nil {
				a.Log.Warn("app: retention cleanup failed", zap.Error(err))
				continue
			}
			a.Log.Info("app: retention cleanup complete",
				zap.Int("deleted_by_age", stats.DeletedByAge),
				zap.Int("deleted_by_session_limit", stats.DeletedBySessionLimit),
				zap.Int("deleted_by_global_limit", stats.DeletedByGlobalLimit),
			)
		}
	}
}

// Stop shuts every owning component down in reverse dependency order. Call
// it at most once: a second call panics when closing the already-closed
// cleanup channel.
func (a *App) Stop(ctx context.Context) error {
	close(a.cleanupStop)

	if a.Server != nil {
		if err := a.Server.Stop(ctx); err != nil {
			a.Log.Warn("app: metrics server stop failed", zap.Error(err))
		}
	}
	if a.approvalsHTTP != nil {
		if err := a.approvalsHTTP.Shutdown(ctx); err != nil {
			a.Log.Warn("app: approvals http server stop failed", zap.Error(err))
		}
	}

	a.Logger.Shutdown()

	if err := a.Analytics.Close(); err != nil {
		a.Log.Warn("app: analytics store close failed", zap.Error(err))
	}

	a.Bus.Close()

	return a.Log.Sync()
}
