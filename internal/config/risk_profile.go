package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RiskProfile is the version-tagged, deterministic weighting used by the
// approval gate's risk-score function (SPEC_FULL.md / spec.md section 9's
// Open Question: the weighting must be documented and version-tagged so
// historical audits reproduce). Loaded from an operator-supplied YAML file;
// DefaultRiskProfile ships as the fallback.
type RiskProfile struct {
	Version string `yaml:"version"`

	// OperationWeights scores the base risk of an operation kind before
	// any path or size adjustment is applied.
	OperationWeights map[string]float64 `yaml:"operation_weights"`

	// SensitivePathPatterns are glob patterns (matched against the
	// operation's target path and its base name via path.Match, with a
	// case-insensitive substring fallback for '*' patterns) that add
	// SensitivePathBonus to the score and contribute a reason string.
	SensitivePathPatterns []string `yaml:"sensitive_path_patterns"`
	SensitivePathBonus    float64  `yaml:"sensitive_path_bonus"`

	// TestPathPatterns behave like SensitivePathPatterns but only apply
	// the bonus when TestProtectionEnabled is true.
	TestPathPatterns       []string `yaml:"test_path_patterns"`
	TestProtectionEnabled  bool     `yaml:"test_protection_enabled"`
	TestPathBonus          float64  `yaml:"test_path_bonus"`

	// DiffSizeThresholdLines and DiffSizeBonus: a write/edit whose diff
	// exceeds the threshold gets an additional bonus.
	DiffSizeThresholdLines int     `yaml:"diff_size_threshold_lines"`
	DiffSizeBonus          float64 `yaml:"diff_size_bonus"`
}

// DefaultRiskProfile is the built-in v1 weighting.
func DefaultRiskProfile() RiskProfile {
	return RiskProfile{
		Version: "risk-profile-v1",
		OperationWeights: map[string]float64{
			"read":    0.0,
			"write":   0.3,
			"edit":    0.25,
			"delete":  0.6,
			"shell":   0.55,
			"network": 0.45,
		},
		SensitivePathPatterns: []string{
			".env*", "*.pem", "*.key", "*credential*", "*secret*", "id_rsa*",
		},
		SensitivePathBonus: 0.4,

		TestPathPatterns:      []string{"*_test.go", "test/*", "tests/*", "spec/*"},
		TestProtectionEnabled: false,
		TestPathBonus:         0.2,

		DiffSizeThresholdLines: 200,
		DiffSizeBonus:          0.15,
	}
}

func (p RiskProfile) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("risk profile: version must not be empty")
	}
	if len(p.OperationWeights) == 0 {
		return fmt.Errorf("risk profile %s: operation_weights must not be empty", p.Version)
	}
	return nil
}

// LoadRiskProfile reads a YAML risk profile from path. A missing file is
// not an error; the default profile is returned instead, since most
// deployments never need a custom weighting.
func LoadRiskProfile(path string) (RiskProfile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultRiskProfile(), nil
	}
	if err != nil {
		return RiskProfile{}, fmt.Errorf("risk profile: read %s: %w", path, err)
	}

	profile := DefaultRiskProfile()
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return RiskProfile{}, fmt.Errorf("risk profile: parse %s: %w", path, err)
	}
	if err := profile.Validate(); err != nil {
		return RiskProfile{}, err
	}
	return profile, nil
}
