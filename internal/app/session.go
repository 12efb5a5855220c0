package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/jcmd13/subagent-tracking/internal/clock"
)

// NewSessionID builds a session id as spec.md section 3 defines it: a UTC
// timestamp of session start plus a stable token derived from the process.
// The token mixes the pid (stable for the process's lifetime) with a short
// random suffix so two processes started in the same second never collide.
func NewSessionID(clk clock.Clock) string {
	return fmt.Sprintf("%s_%d_%s", clk.Now().Format("20060102T150405"), os.Getpid(), randToken(4))
}

func randToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is effectively unrecoverable on any real
		// platform; fall back to the pid alone rather than panicking.
		return "0000"
	}
	return hex.EncodeToString(b)
}
