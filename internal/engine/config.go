package engine

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/mehrguard/mehrguard/internal/heuristic"
)

// WeightTolerance is how far the four weights may sum from 1.0.
const WeightTolerance = 1e-6

// Params is the raw, mutable form of a Config. JSON keys match the
// configuration document; missing keys keep their defaults.
type Params struct {
	SafeThreshold         int      `json:"safeThreshold" yaml:"safe_threshold"`
	SuspiciousThreshold   int      `json:"suspiciousThreshold" yaml:"suspicious_threshold"`
	HeuristicWeight       float64  `json:"heuristicWeight" yaml:"heuristic_weight"`
	MLWeight              float64  `json:"mlWeight" yaml:"ml_weight"`
	BrandWeight           float64  `json:"brandWeight" yaml:"brand_weight"`
	TLDWeight             float64  `json:"tldWeight" yaml:"tld_weight"`
	EnableML              bool     `json:"enableMl" yaml:"enable_ml"`
	EnableBrandDetection  bool     `json:"enableBrandDetection" yaml:"enable_brand_detection"`
	EnableTLDScoring      bool     `json:"enableTldScoring" yaml:"enable_tld_scoring"`
	EnableCounterfactuals bool     `json:"enableCounterfactuals" yaml:"enable_counterfactuals"`
	DisabledRuleGroups    []string `json:"disabledRuleGroups" yaml:"disabled_rule_groups"`
	DisabledRules         []string `json:"disabledRules" yaml:"disabled_rules"`
}

// DefaultParams returns the balanced preset's parameters.
func DefaultParams() Params {
	return Params{
		SafeThreshold:        20,
		SuspiciousThreshold:  60,
		HeuristicWeight:      0.45,
		MLWeight:             0.25,
		BrandWeight:          0.20,
		TLDWeight:            0.10,
		EnableML:             true,
		EnableBrandDetection: true,
		EnableTLDScoring:     true,
	}
}

// ConfigError reports the first invalid field of a Params.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid engine config: %s: %s", e.Field, e.Reason)
}

// Config is a validated, immutable engine configuration, safe to share
// between goroutines.
type Config struct {
	params Params
	scorer *heuristic.Scorer
}

// NewConfig validates p.
func NewConfig(p Params) (*Config, error) {
	weights := []struct {
		field string
		v     float64
	}{
		{"heuristicWeight", p.HeuristicWeight},
		{"mlWeight", p.MLWeight},
		{"brandWeight", p.BrandWeight},
		{"tldWeight", p.TLDWeight},
	}
	sum := 0.0
	for _, w := range weights {
		if math.IsNaN(w.v) || math.IsInf(w.v, 0) {
			return nil, &ConfigError{w.field, "must be finite"}
		}
		if w.v < 0 {
			return nil, &ConfigError{w.field, fmt.Sprintf("must be >= 0, got %g", w.v)}
		}
		sum += w.v
	}
	if math.Abs(sum-1) > WeightTolerance {
		return nil, &ConfigError{"weights", fmt.Sprintf("must sum to 1.0, got %g", sum)}
	}
	if p.SafeThreshold < 0 || p.SafeThreshold > 100 {
		return nil, &ConfigError{"safeThreshold", fmt.Sprintf("must be in [0,100], got %d", p.SafeThreshold)}
	}
	if p.SuspiciousThreshold < 0 || p.SuspiciousThreshold > 100 {
		return nil, &ConfigError{"suspiciousThreshold", fmt.Sprintf("must be in [0,100], got %d", p.SuspiciousThreshold)}
	}
	if p.SafeThreshold >= p.SuspiciousThreshold {
		return nil, &ConfigError{"safeThreshold", fmt.Sprintf("must be below suspiciousThreshold (%d >= %d)",
			p.SafeThreshold, p.SuspiciousThreshold)}
	}
	scorer, err := heuristic.NewScorer(nil, heuristic.Selection{
		DisabledGroups: p.DisabledRuleGroups,
		DisabledRules:  p.DisabledRules,
	})
	if err != nil {
		return nil, &ConfigError{"disabledRules", err.Error()}
	}

	p.DisabledRuleGroups = append([]string(nil), p.DisabledRuleGroups...)
	p.DisabledRules = append([]string(nil), p.DisabledRules...)
	return &Config{params: p, scorer: scorer}, nil
}

func mustConfig(p Params) *Config {
	c, err := NewConfig(p)
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultConfig is the balanced preset.
func DefaultConfig() *Config {
	return mustConfig(DefaultParams())
}

// StrictConfig flags earlier and reports counterfactuals.
func StrictConfig() *Config {
	p := DefaultParams()
	p.SafeThreshold = 10
	p.SuspiciousThreshold = 45
	p.EnableCounterfactuals = true
	return mustConfig(p)
}

// LenientConfig tolerates more risk before warning.
func LenientConfig() *Config {
	p := DefaultParams()
	p.SafeThreshold = 30
	p.SuspiciousThreshold = 75
	return mustConfig(p)
}

// Preset returns a named preset: "default", "strict" or "lenient".
func Preset(name string) (*Config, error) {
	switch name {
	case "", "default", "balanced":
		return DefaultConfig(), nil
	case "strict":
		return StrictConfig(), nil
	case "lenient":
		return LenientConfig(), nil
	default:
		return nil, &ConfigError{"preset", fmt.Sprintf("unknown preset %q", name)}
	}
}

// ParseConfigJSON builds a Config from a JSON document. Unknown keys are
// ignored and missing keys keep DefaultParams values.
func ParseConfigJSON(data []byte) (*Config, error) {
	p := DefaultParams()
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &ConfigError{"json", err.Error()}
	}
	return NewConfig(p)
}

// Params returns a copy of the parameters c was built from.
func (c *Config) Params() Params {
	p := c.params
	p.DisabledRuleGroups = append([]string(nil), c.params.DisabledRuleGroups...)
	p.DisabledRules = append([]string(nil), c.params.DisabledRules...)
	return p
}

// MarshalJSON encodes c as its parameters.
func (c *Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.params)
}

func (c *Config) SafeThreshold() int          { return c.params.SafeThreshold }
func (c *Config) SuspiciousThreshold() int    { return c.params.SuspiciousThreshold }
func (c *Config) HeuristicWeight() float64    { return c.params.HeuristicWeight }
func (c *Config) MLWeight() float64           { return c.params.MLWeight }
func (c *Config) BrandWeight() float64        { return c.params.BrandWeight }
func (c *Config) TLDWeight() float64          { return c.params.TLDWeight }
func (c *Config) MLEnabled() bool             { return c.params.EnableML }
func (c *Config) BrandDetectionEnabled() bool { return c.params.EnableBrandDetection }
func (c *Config) TLDScoringEnabled() bool     { return c.params.EnableTLDScoring }
func (c *Config) CounterfactualsEnabled() bool {
	return c.params.EnableCounterfactuals
}

// EnabledRules returns the IDs of the heuristic rules this config runs.
func (c *Config) EnabledRules() []string { return c.scorer.Enabled() }

// Verdict maps a score onto the threshold bands.
func (c *Config) Verdict(score int) Verdict {
	switch {
	case score <= c.params.SafeThreshold:
		return VerdictSafe
	case score < c.params.SuspiciousThreshold:
		return VerdictSuspicious
	default:
		return VerdictMalicious
	}
}

// effectiveWeights returns the component weights with disabled
// components' shares redistributed proportionally over the enabled ones.
// When every enabled weight is zero the heuristic carries the full weight.
func (c *Config) effectiveWeights() (h, m, b, t float64) {
	h = c.params.HeuristicWeight
	if c.params.EnableML {
		m = c.params.MLWeight
	}
	if c.params.EnableBrandDetection {
		b = c.params.BrandWeight
	}
	if c.params.EnableTLDScoring {
		t = c.params.TLDWeight
	}
	if c.params.EnableML && c.params.EnableBrandDetection && c.params.EnableTLDScoring {
		return h, m, b, t
	}
	sum := h + m + b + t
	if sum <= 0 {
		return 1, 0, 0, 0
	}
	return h / sum, m / sum, b / sum, t / sum
}
