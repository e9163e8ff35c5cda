// Package brand detects protected brand names abused in host names:
// combo-squats, typosquats, look-alike spellings and brands placed in the
// subdomains of an unrelated domain.
package brand

import (
	"strings"

	"golang.org/x/net/idna"

	"github.com/mehrguard/mehrguard/internal/canonical"
	"github.com/mehrguard/mehrguard/internal/reason"
	"github.com/mehrguard/mehrguard/internal/script"
)

// Scores reported for each kind of match.
const (
	ScoreExactLabel    = 75
	ScoreComboSquat    = 70
	ScoreSubstitution  = 90
	ScoreLookalike     = 90
	ScoreEditDistance  = 80
	ScoreImpersonation = 85
)

const (
	// minEditDistanceLen is the shortest brand term matched by edit distance.
	// Edit-distance hits also need a hyphenated combo label such as
	// "paypai-secure"; a lone near-miss word is too often a real one.
	minEditDistanceLen = 6
	// minPartialLen is the shortest brand term matched as a label prefix or
	// inside a subdomain label; shorter terms need an exact token.
	minPartialLen = 4
	// minPrefixRest is how much must follow a brand prefix, so that plain
	// inflections such as "applet" or "googler" do not match.
	minPrefixRest = 3
)

// Brand is one protected brand.
type Brand struct {
	Name    string   `json:"name"`
	Domains []string `json:"domains"`
	Aliases []string `json:"aliases,omitempty"`
}

// Match describes the brand a URL was found to abuse.
type Match struct {
	Brand         string      `json:"brand"`
	Term          string      `json:"term"`
	Label         string      `json:"label"`
	Method        string      `json:"method"`
	Code          reason.Code `json:"code"`
	Score         int         `json:"score"`
	Similarity    float64     `json:"similarity"`
	SubdomainOnly bool        `json:"subdomain_only"`
}

// Result is the matcher outcome. Match is nil when nothing matched.
type Result struct {
	Match *Match        `json:"match,omitempty"`
	Score int           `json:"score"`
	Codes []reason.Code `json:"codes"`
}

type entry struct {
	brand     Brand
	terms     []string
	skeletons []string
	official  []string
}

// Matcher is immutable and safe for concurrent use.
type Matcher struct {
	entries []entry
}

// NewMatcher prepares brands for matching. Brand order is significant:
// equal-score matches resolve to the earlier brand.
func NewMatcher(brands []Brand) *Matcher {
	m := &Matcher{entries: make([]entry, 0, len(brands))}
	for _, b := range brands {
		e := entry{brand: b}
		seen := make(map[string]bool)
		for _, t := range append([]string{b.Name}, b.Aliases...) {
			t = foldTerm(t)
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			e.terms = append(e.terms, t)
			e.skeletons = append(e.skeletons, script.Skeleton(t))
		}
		for _, d := range b.Domains {
			d = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
			if d != "" {
				e.official = append(e.official, d)
			}
		}
		if len(e.terms) > 0 {
			m.entries = append(m.entries, e)
		}
	}
	return m
}

// Len returns the number of brands.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// IsOfficial reports whether host is, or is a subdomain of, any brand's
// official domain.
func (m *Matcher) IsOfficial(host string) bool {
	if m == nil {
		return false
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, e := range m.entries {
		for _, d := range e.official {
			if host == d || strings.HasSuffix(host, "."+d) {
				return true
			}
		}
	}
	return false
}

// Match finds the strongest brand abuse in u's host. Only host labels are
// considered; path and query never count.
func (m *Matcher) Match(u *canonical.URL) Result {
	res := Result{Codes: []reason.Code{}}
	if m == nil || u == nil || u.IsIP || u.RegistrableDomain() == "" {
		return res
	}
	if m.IsOfficial(u.Host) || m.IsOfficial(u.RegistrableDomain()) {
		return res
	}

	label := decodeLabel(u.Suffix.Label())
	subs := u.Subdomains()

	var best *Match
	consider := func(c *Match) {
		if c != nil && (best == nil || c.Score > best.Score) {
			best = c
		}
	}
	for _, e := range m.entries {
		consider(e.matchRegistrable(label))
		for _, s := range subs {
			consider(e.matchSubdomain(decodeLabel(s)))
		}
	}
	if best == nil {
		return res
	}
	res.Match = best
	res.Score = best.Score
	res.Codes = append(res.Codes, best.Code)
	return res
}

func (e *entry) matchRegistrable(label string) *Match {
	if label == "" {
		return nil
	}
	tokens := tokenize(label)
	var best *Match
	keep := func(c *Match) {
		if best == nil || c.Score > best.Score {
			best = c
		}
	}
	for i, term := range e.terms {
		mk := func(tok, method string, code reason.Code, score int) *Match {
			return &Match{
				Brand: e.brand.Name, Term: term, Label: tok, Method: method,
				Code: code, Score: score, Similarity: NormalizedSimilarity(tok, term),
			}
		}
		if label == term {
			keep(mk(label, "exact", reason.BrandInDomain, ScoreExactLabel))
		}
		for _, tok := range tokens {
			if tok == term {
				if tok != label {
					keep(mk(tok, "token", reason.BrandInDomain, ScoreComboSquat))
				}
				continue
			}
			if substituted(tok, term) {
				keep(mk(tok, "substitution", reason.Typosquatting, ScoreSubstitution))
				continue
			}
			if !isPlainASCII(tok) && script.Skeleton(tok) == e.skeletons[i] {
				keep(mk(tok, "lookalike", reason.Typosquatting, ScoreLookalike))
				continue
			}
			if len(tokens) > 1 && len(term) >= minEditDistanceLen && len(tok) >= minEditDistanceLen &&
				levenshtein(tok, term) == 1 {
				keep(mk(tok, "edit_distance", reason.Typosquatting, ScoreEditDistance))
			}
		}
		if len(term) >= minPartialLen && strings.HasPrefix(label, term) && len(label)-len(term) >= minPrefixRest {
			keep(mk(label, "prefix", reason.BrandInDomain, ScoreComboSquat))
		}
	}
	return best
}

func (e *entry) matchSubdomain(label string) *Match {
	if label == "" {
		return nil
	}
	tokens := tokenize(label)
	for i, term := range e.terms {
		hit := ""
		for _, tok := range tokens {
			if tok == term || substituted(tok, term) ||
				(!isPlainASCII(tok) && script.Skeleton(tok) == e.skeletons[i]) {
				hit = tok
				break
			}
		}
		if hit == "" && len(term) >= minPartialLen && strings.Contains(label, term) {
			hit = label
		}
		if hit != "" {
			return &Match{
				Brand: e.brand.Name, Term: term, Label: hit, Method: "subdomain",
				Code: reason.BrandImpersonation, Score: ScoreImpersonation,
				Similarity: NormalizedSimilarity(hit, term), SubdomainOnly: true,
			}
		}
	}
	return nil
}

// substitutions undo the digit and symbol swaps typosquatters use.
// Each replacer is one consistent reading of ambiguous characters.
var substitutions = []*strings.Replacer{
	strings.NewReplacer("rn", "m", "vv", "w", "0", "o", "1", "l", "3", "e", "4", "a", "5", "s", "7", "t", "8", "b", "$", "s", "@", "a"),
	strings.NewReplacer("rn", "m", "vv", "w", "0", "o", "1", "i", "3", "e", "4", "a", "5", "s", "7", "t", "8", "b", "$", "s", "@", "a"),
}

// substituted reports whether tok differs from term only by look-alike
// character substitutions.
func substituted(tok, term string) bool {
	if tok == term {
		return false
	}
	for _, r := range substitutions {
		if r.Replace(tok) == term {
			return true
		}
	}
	return false
}

// tokenize splits a label on hyphens, keeping non-empty parts.
func tokenize(label string) []string {
	parts := strings.Split(label, "-")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decodeLabel returns the Unicode form of an xn-- label.
func decodeLabel(label string) string {
	if !strings.HasPrefix(label, "xn--") {
		return label
	}
	if u, err := idna.Punycode.ToUnicode(label); err == nil {
		return u
	}
	return label
}

// foldTerm lower-cases a brand term and drops everything but letters and
// digits: "Bank of America" -> "bankofamerica".
func foldTerm(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isPlainASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
