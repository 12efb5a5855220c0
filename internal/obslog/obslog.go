// Package obslog wires the zap logger every component takes instead of
// calling fmt.Printf/fmt.Fprintf directly. One process builds one *zap.Logger
// here and passes it down explicitly (activitylog.WithLogger, bus.New,
// snapshot.New, analytics.Open, approval.NewGate, metrics.NewServer); there
// is no package-level singleton.
package obslog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the process logger.
type Options struct {
	// Debug selects zap's development config (console encoding, debug
	// level, caller/stack on warn+) instead of the production JSON config.
	Debug bool

	// SessionID, when non-empty, is attached to every log line so
	// operators can correlate log output with a session's event log and
	// analytics rows.
	SessionID string
}

// New builds the process logger per Options. Callers that cannot tolerate
// a logger construction failure should fall back to zap.NewNop().
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("obslog: build logger: %w", err)
	}
	if opts.SessionID != "" {
		log = log.With(zap.String("session_id", opts.SessionID))
	}
	return log, nil
}

// Nop returns a logger that discards everything, for tests and callers
// that construct components without caring about their log output.
func Nop() *zap.Logger { return zap.NewNop() }
