package approval

import (
	"fmt"
	"path"
	"strings"

	"github.com/jcmd13/subagent-tracking/internal/config"
)

// Operation is the candidate tool call the gate scores before it runs.
type Operation struct {
	Tool      string
	Kind      string // read|write|edit|delete|shell|network, matches config.RiskProfile.OperationWeights
	Target    string
	DiffLines int
}

// Score computes op's risk under profile: a pure function, deterministic
// for identical inputs, per spec.md section 4.7. Returns a value in [0, 1]
// and an ordered list of human-readable reasons backing that value.
func Score(op Operation, profile config.RiskProfile) (float64, []string) {
	var score float64
	var reasons []string

	if weight, ok := profile.OperationWeights[op.Kind]; ok {
		score += weight
		if weight > 0 {
			reasons = append(reasons, fmt.Sprintf("operation %q base risk %.2f", op.Kind, weight))
		}
	}

	if matchesAny(profile.SensitivePathPatterns, op.Target) {
		score += profile.SensitivePathBonus
		reasons = append(reasons, fmt.Sprintf("sensitive path match on %q", op.Target))
	}

	if profile.TestProtectionEnabled && matchesAny(profile.TestPathPatterns, op.Target) {
		score += profile.TestPathBonus
		reasons = append(reasons, fmt.Sprintf("test path match on %q", op.Target))
	}

	if profile.DiffSizeThresholdLines > 0 && op.DiffLines > profile.DiffSizeThresholdLines {
		score += profile.DiffSizeBonus
		reasons = append(reasons, fmt.Sprintf("diff size %d exceeds threshold %d", op.DiffLines, profile.DiffSizeThresholdLines))
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, reasons
}

// matchesAny reports whether target matches any of patterns, tried first
// as a path.Match glob against the full target and then against its base
// name (so "test/*" matches "test/foo.go" while "*_test.go" matches a
// nested "pkg/sub/foo_test.go" the same way a flat glob would not), and
// finally, for a pattern containing '*', as a case-insensitive substring
// test of the pattern with its leading and trailing '*' trimmed.
func matchesAny(patterns []string, target string) bool {
	if target == "" {
		return false
	}
	base := path.Base(target)
	for _, pat := range patterns {
		if ok, _ := path.Match(pat, target); ok {
			return true
		}
		if ok, _ := path.Match(pat, base); ok {
			return true
		}
		if strings.Contains(pat, "*") {
			trimmed := strings.Trim(pat, "*")
			if trimmed != "" && strings.Contains(strings.ToLower(target), strings.ToLower(trimmed)) {
				return true
			}
		}
	}
	return false
}
