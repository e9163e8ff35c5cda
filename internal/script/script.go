// Package script inspects host names for script-mixing and look-alike
// character tricks used in homograph attacks.
package script

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mtibben/confusables"
	"golang.org/x/net/idna"
)

// Level is a coarse risk rating for the script analysis.
type Level string

const (
	LevelNone   Level = "none"
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Result is the outcome of analysing a host.
type Result struct {
	ASCII    string   `json:"ascii,omitempty"`
	Unicode  string   `json:"unicode,omitempty"`
	Skeleton string   `json:"skeleton,omitempty"`
	Scripts  []string `json:"scripts,omitempty"`

	Punycode    bool `json:"punycode"`
	MixedScript bool `json:"mixed_script"`
	Homograph   bool `json:"homograph"`
	ZeroWidth   bool `json:"zero_width"`

	// Confusables lists the distinct non-ASCII runes that render like ASCII,
	// in order of first appearance.
	Confusables []string `json:"confusables,omitempty"`
	// InvisibleCount is the number of zero-width or formatting code points
	// removed from the host.
	InvisibleCount int `json:"invisible_count,omitempty"`

	Risk        Level  `json:"risk"`
	SafeDisplay string `json:"safe_display,omitempty"`
	// Malformed is set when the host could not be analysed; all risk
	// signals are then reported as absent.
	Malformed bool `json:"malformed,omitempty"`
}

// IsInvisible reports whether r is a zero-width or formatting code point
// that renders as nothing.
func IsInvisible(r rune) bool {
	switch r {
	case '\u00AD', '\u034F', '\u061C', '\u115F', '\u1160', '\u17B4', '\u17B5',
		'\u180E', '\u3164', '\uFEFF', '\uFFA0':
		return true
	}
	switch {
	case r >= '\u200B' && r <= '\u200F':
		return true
	case r >= '\u202A' && r <= '\u202E':
		return true
	case r >= '\u2060' && r <= '\u2064':
		return true
	case r >= '\u2066' && r <= '\u206F':
		return true
	case r >= '\uFE00' && r <= '\uFE0F':
		return true
	}
	return false
}

// StripInvisible removes invisible code points and returns how many were
// dropped.
func StripInvisible(s string) (string, int) {
	n := 0
	out := strings.Map(func(r rune) rune {
		if IsInvisible(r) {
			n++
			return -1
		}
		return r
	}, s)
	return out, n
}

// Analyze inspects host. It never panics: invalid UTF-8 or a failure in the
// character tables yields a result with no risk and Malformed set.
func Analyze(host string) (res Result) {
	defer func() {
		if recover() != nil {
			res = Result{ASCII: host, Risk: LevelNone, Malformed: true}
		}
	}()

	if !utf8.ValidString(host) {
		return Result{Risk: LevelNone, Malformed: true}
	}
	if host == "" {
		return Result{Risk: LevelNone}
	}

	clean, invisible := StripInvisible(host)
	clean = strings.ToLower(clean)
	res.InvisibleCount = invisible
	res.ZeroWidth = invisible > 0

	res.ASCII = toASCII(clean)
	res.Unicode = toUnicode(clean)

	for _, label := range strings.Split(res.ASCII, ".") {
		if strings.HasPrefix(label, "xn--") {
			res.Punycode = true
			break
		}
	}

	scripts := make(map[string]struct{})
	seenConfusable := make(map[rune]bool)
	for _, label := range strings.Split(res.Unicode, ".") {
		ls := labelScripts(label)
		for s := range ls {
			scripts[s] = struct{}{}
		}
		if isMixed(ls) {
			res.MixedScript = true
		}

		var hasASCIILetter bool
		var lookalikes []rune
		for _, r := range label {
			if r < utf8.RuneSelf {
				if unicode.IsLetter(r) {
					hasASCIILetter = true
				}
				continue
			}
			if looksASCII(r) {
				lookalikes = append(lookalikes, r)
			}
		}
		if len(lookalikes) == 0 {
			continue
		}
		if hasASCIILetter || isASCII(skeleton(label)) {
			res.Homograph = true
			for _, r := range lookalikes {
				if !seenConfusable[r] {
					seenConfusable[r] = true
					res.Confusables = append(res.Confusables, string(r))
				}
			}
		}
	}

	res.Scripts = make([]string, 0, len(scripts))
	for s := range scripts {
		res.Scripts = append(res.Scripts, s)
	}
	sort.Strings(res.Scripts)

	res.Skeleton = skeleton(res.Unicode)
	res.Risk = level(res)
	res.SafeDisplay = SafeDisplay(res.ASCII, res.Unicode)
	return res
}

// SafeDisplay renders a host for UI use: the ASCII form, followed by the
// decoded form in brackets when the two differ.
func SafeDisplay(ascii, uni string) string {
	if uni == "" || uni == ascii {
		return ascii
	}
	return ascii + " [" + uni + "]"
}

// Skeleton returns the lower-cased confusable skeleton of s, the form two
// visually identical strings share.
func Skeleton(s string) string {
	return skeleton(strings.ToLower(s))
}

func skeleton(s string) string {
	return strings.ToLower(confusables.Skeleton(s))
}

func level(r Result) Level {
	switch {
	case r.Homograph || r.ZeroWidth:
		return LevelHigh
	case r.MixedScript:
		return LevelMedium
	case r.Punycode:
		return LevelLow
	default:
		return LevelNone
	}
}

func toASCII(host string) string {
	if a, err := idna.Lookup.ToASCII(host); err == nil && a != "" {
		return a
	}
	if a, err := idna.Punycode.ToASCII(host); err == nil && a != "" {
		return a
	}
	return host
}

func toUnicode(host string) string {
	if u, err := idna.Lookup.ToUnicode(host); err == nil && u != "" {
		return u
	}
	if u, err := idna.Punycode.ToUnicode(host); err == nil && u != "" {
		return u
	}
	return host
}

// looksASCII reports whether a non-ASCII letter or digit has an ASCII
// skeleton, i.e. renders like an ordinary Latin character.
func looksASCII(r rune) bool {
	if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
		return false
	}
	sk := confusables.Skeleton(string(r))
	return sk != "" && isASCII(sk)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// scriptTables is checked in order; the first match names the rune's script.
var scriptTables = []struct {
	name  string
	table *unicode.RangeTable
}{
	{"latin", unicode.Latin},
	{"cyrillic", unicode.Cyrillic},
	{"greek", unicode.Greek},
	{"armenian", unicode.Armenian},
	{"hebrew", unicode.Hebrew},
	{"arabic", unicode.Arabic},
	{"georgian", unicode.Georgian},
	{"cherokee", unicode.Cherokee},
	{"devanagari", unicode.Devanagari},
	{"thai", unicode.Thai},
	{"hangul", unicode.Hangul},
	{"han", unicode.Han},
	{"hiragana", unicode.Hiragana},
	{"katakana", unicode.Katakana},
}

func detectScript(r rune) string {
	if !unicode.IsLetter(r) {
		return ""
	}
	for _, st := range scriptTables {
		if unicode.Is(st.table, r) {
			return st.name
		}
	}
	return "other"
}

func labelScripts(label string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, r := range label {
		if s := detectScript(r); s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

var cjk = map[string]bool{"han": true, "hiragana": true, "katakana": true, "hangul": true}

// isMixed applies the mixing policy for a single label: CJK scripts combine
// freely with each other and with Latin; any other pairing is mixed.
func isMixed(scripts map[string]struct{}) bool {
	if len(scripts) < 2 {
		return false
	}
	var other int
	for s := range scripts {
		if s != "latin" && !cjk[s] {
			other++
		}
	}
	return other > 0
}
