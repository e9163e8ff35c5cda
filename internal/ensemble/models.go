package ensemble

import (
	f "github.com/mehrguard/mehrguard/internal/features"
)

// LogisticVersion identifies the bundled logistic weights. Bump it whenever
// the weights or bias change.
const LogisticVersion = "lr-2024.06"

// Logistic is σ(w·x + b).
type Logistic struct {
	Version string
	Weights [f.Size]float64
	Bias    float64
}

// DefaultLogistic returns the bundled weights, indexed in feature order.
func DefaultLogistic() Logistic {
	return Logistic{
		Version: LogisticVersion,
		Weights: [f.Size]float64{
			f.URLLength:      1.2,
			f.HostLength:     0.8,
			f.PathLength:     0.6,
			f.SubdomainCount: 1.5,
			f.HasHTTPS:       -1.8,
			f.IsIPHost:       2.5,
			f.HostEntropy:    1.0,
			f.PathEntropy:    0.4,
			f.ParamCount:     0.6,
			f.HasAt:          3.0,
			f.DotCount:       0.8,
			f.DashCount:      1.2,
			f.HasPort:        1.5,
			f.IsShortener:    2.0,
			f.SuspiciousTLD:  2.2,
		},
		Bias: -1.6,
	}
}

// Score returns the logistic probability for x, which must have f.Size
// elements.
func (l Logistic) Score(x []float64) float64 {
	z := l.Bias
	for i, w := range l.Weights {
		z += w * x[i]
	}
	return Sigmoid(z)
}

// Rule is a named, signed contribution applied when When holds.
type Rule struct {
	Name  string
	Delta float64
	When  func(x []float64) bool
}

// Boosted sums rule deltas onto a base logit and squashes the result.
type Boosted struct {
	Base   float64
	Stages []Rule
}

// DefaultBoosted returns the bundled boosting stages.
func DefaultBoosted() Boosted {
	return Boosted{
		Base: -2.0,
		Stages: []Rule{
			{"ip_without_https", 1.5, func(x []float64) bool { return x[f.IsIPHost] == 1 && x[f.HasHTTPS] == 0 }},
			{"shortener", 1.2, func(x []float64) bool { return x[f.IsShortener] == 1 }},
			{"at_symbol", 1.5, func(x []float64) bool { return x[f.HasAt] == 1 }},
			{"suspicious_tld_with_dashes", 1.0, func(x []float64) bool { return x[f.SuspiciousTLD] == 1 && x[f.DashCount] > 0 }},
			{"deep_subdomains", 0.8, func(x []float64) bool { return x[f.SubdomainCount] >= 0.6 && x[f.IsIPHost] == 0 }},
			{"random_long_host", 0.8, func(x []float64) bool { return x[f.HostEntropy] >= 0.8 && x[f.HostLength] >= 0.3 }},
			{"short_clean_https", -0.8, func(x []float64) bool {
				return x[f.HasHTTPS] == 1 && x[f.SuspiciousTLD] == 0 && x[f.IsShortener] == 0 && x[f.URLLength] < 0.2
			}},
		},
	}
}

// Score returns the boosted probability and the names of the stages that
// fired, in stage order.
func (b Boosted) Score(x []float64) (float64, []string) {
	z := b.Base
	var fired []string
	for _, s := range b.Stages {
		if s.When(x) {
			z += s.Delta
			fired = append(fired, "boost."+s.Name)
		}
	}
	return Sigmoid(z), fired
}

// maxStumpDelta bounds any single stump's contribution.
const maxStumpDelta = 0.3

// Stumps adds bounded contributions around a base probability.
type Stumps struct {
	Base  float64
	Rules []Rule
}

// DefaultStumps returns the bundled decision stumps.
func DefaultStumps() Stumps {
	return Stumps{
		Base: 0.25,
		Rules: []Rule{
			{"no_https", 0.2, func(x []float64) bool { return x[f.HasHTTPS] == 0 }},
			{"https", -0.1, func(x []float64) bool { return x[f.HasHTTPS] == 1 }},
			{"ip_host", 0.3, func(x []float64) bool { return x[f.IsIPHost] == 1 }},
			{"at_symbol", 0.3, func(x []float64) bool { return x[f.HasAt] == 1 }},
			{"suspicious_tld", 0.2, func(x []float64) bool { return x[f.SuspiciousTLD] == 1 }},
			{"deep_subdomains", 0.15, func(x []float64) bool { return x[f.SubdomainCount] >= 0.6 }},
			{"random_host", 0.15, func(x []float64) bool { return x[f.HostEntropy] >= 0.8 }},
			{"short_named_host", -0.1, func(x []float64) bool { return x[f.URLLength] <= 0.1 && x[f.IsIPHost] == 0 }},
			{"many_dashes", 0.1, func(x []float64) bool { return x[f.DashCount] >= 0.3 }},
		},
	}
}

// Score returns the stump probability, clamped to [0,1], and the names of
// the stumps that fired.
func (s Stumps) Score(x []float64) (float64, []string) {
	p := s.Base
	var fired []string
	for _, r := range s.Rules {
		if r.When(x) {
			d := r.Delta
			if d > maxStumpDelta {
				d = maxStumpDelta
			} else if d < -maxStumpDelta {
				d = -maxStumpDelta
			}
			p += d
			fired = append(fired, "stump."+r.Name)
		}
	}
	return clamp01(p), fired
}
