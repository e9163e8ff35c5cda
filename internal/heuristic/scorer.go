// Package heuristic scores a canonical URL against a table of independent
// rule predicates, each mapped to a stable reason code.
package heuristic

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/mehrguard/mehrguard/internal/canonical"
	"github.com/mehrguard/mehrguard/internal/reason"
)

// MaxScore caps the heuristic score.
const MaxScore = 100

// Selection disables rules without code changes. DisabledRules holds glob
// patterns over rule IDs, e.g. "obfuscation.*" or "transport.http".
type Selection struct {
	DisabledGroups []string `json:"disabledRuleGroups,omitempty" yaml:"disabled_rule_groups"`
	DisabledRules  []string `json:"disabledRules,omitempty" yaml:"disabled_rules"`
}

// Result is the heuristic outcome for one URL.
type Result struct {
	Score int           `json:"score"`
	Codes []reason.Code `json:"codes"`
	Rules []string      `json:"rules"`
}

// Scorer evaluates the enabled rules. It is immutable and safe for
// concurrent use.
type Scorer struct {
	rules []Rule
	lists *Lists
}

// CompileSelection validates sel and returns the enabled subset of the
// built-in rules.
func CompileSelection(sel Selection) ([]Rule, error) {
	known := make(map[string]bool)
	for _, g := range Groups() {
		known[g] = true
	}
	groups := make(map[string]bool, len(sel.DisabledGroups))
	for _, g := range sel.DisabledGroups {
		g = strings.ToLower(strings.TrimSpace(g))
		if !known[g] {
			return nil, fmt.Errorf("unknown rule group %q", g)
		}
		groups[g] = true
	}
	patterns := make([]glob.Glob, 0, len(sel.DisabledRules))
	for _, p := range sel.DisabledRules {
		g, err := glob.Compile(strings.ToLower(strings.TrimSpace(p)), '.')
		if err != nil {
			return nil, fmt.Errorf("compile rule pattern %q: %w", p, err)
		}
		patterns = append(patterns, g)
	}

	enabled := make([]Rule, 0, len(rules))
outer:
	for _, r := range rules {
		if groups[r.Group] {
			continue
		}
		for _, g := range patterns {
			if g.Match(r.ID) {
				continue outer
			}
		}
		enabled = append(enabled, r)
	}
	return enabled, nil
}

// NewScorer returns a scorer over lists with the selected rules disabled.
// A nil lists behaves as empty lists.
func NewScorer(lists *Lists, sel Selection) (*Scorer, error) {
	enabled, err := CompileSelection(sel)
	if err != nil {
		return nil, err
	}
	if lists == nil {
		lists = NewLists(ListConfig{})
	}
	return &Scorer{rules: enabled, lists: lists}, nil
}

// WithLists returns a scorer with the same rule selection over other lists.
func (s *Scorer) WithLists(lists *Lists) *Scorer {
	if lists == nil {
		lists = NewLists(ListConfig{})
	}
	return &Scorer{rules: s.rules, lists: lists}
}

// Enabled returns the IDs of the rules this scorer runs.
func (s *Scorer) Enabled() []string {
	ids := make([]string, len(s.rules))
	for i, r := range s.rules {
		ids[i] = r.ID
	}
	return ids
}

// Score runs every enabled rule against u. A nil u scores zero.
func (s *Scorer) Score(u *canonical.URL) Result {
	res := Result{Codes: []reason.Code{}, Rules: []string{}}
	if u == nil {
		return res
	}
	seen := make(map[reason.Code]bool)
	for _, r := range s.rules {
		if !r.Check(u, s.lists) {
			continue
		}
		res.Rules = append(res.Rules, r.ID)
		if seen[r.Code] {
			continue
		}
		seen[r.Code] = true
		res.Codes = append(res.Codes, r.Code)
		res.Score += r.Code.Points()
	}
	if res.Score > MaxScore {
		res.Score = MaxScore
	}
	return res
}
