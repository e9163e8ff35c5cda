package heuristic

import (
	"math"
	"sort"
	"strings"

	"golang.org/x/net/idna"

	"github.com/mehrguard/mehrguard/internal/canonical"
	"github.com/mehrguard/mehrguard/internal/reason"
)

// Thresholds used by individual rules.
const (
	MaxSubdomains        = 5
	LongURLLength        = 250
	HighEntropyBits      = 4.0
	MaxHyphensInLabel    = 3
	ExcessiveTriplets    = 10
	ExcessiveEncodedFrac = 0.3
)

// Rule is a single pure predicate over a canonical URL.
type Rule struct {
	// ID is "group.name" and is what disable patterns match against.
	ID    string
	Group string
	Code  reason.Code
	Check func(u *canonical.URL, l *Lists) bool
}

// rules run in this order and fired codes are reported in this order.
var rules = []Rule{
	{"transport.http", "transport", reason.HTTPNotHTTPS, func(u *canonical.URL, _ *Lists) bool {
		return !u.IsHTTPS()
	}},
	{"transport.suspicious_port", "transport", reason.SuspiciousPort, func(u *canonical.URL, l *Lists) bool {
		return u.Port != 0 && l.SuspiciousPort(u.Port)
	}},
	{"transport.nonstandard_port", "transport", reason.NonStandardPort, func(u *canonical.URL, l *Lists) bool {
		return u.Port != 0 && u.Port != 80 && u.Port != 443 && !l.SuspiciousPort(u.Port)
	}},

	{"host.ip", "host", reason.IPHost, func(u *canonical.URL, _ *Lists) bool {
		return u.IsIP && !u.IsObfuscatedIP
	}},
	{"host.obfuscated_ip", "host", reason.ObfuscatedIP, func(u *canonical.URL, _ *Lists) bool {
		return u.IsObfuscatedIP
	}},
	{"host.excessive_subdomains", "host", reason.ExcessiveSubdomains, func(u *canonical.URL, _ *Lists) bool {
		return u.SubdomainDepth() > MaxSubdomains
	}},
	{"host.embedded_domain", "host", reason.EmbeddedDomain, hasEmbeddedDomain},
	{"host.high_entropy", "host", reason.HighEntropyHost, func(u *canonical.URL, _ *Lists) bool {
		return !u.IsIP && Entropy(strings.ReplaceAll(u.Host, ".", "")) > HighEntropyBits
	}},
	{"host.hyphens", "host", reason.ExcessiveHyphens, func(u *canonical.URL, _ *Lists) bool {
		return !u.IsIP && strings.Count(unicodeLabel(u.Suffix.Label()), "-") >= MaxHyphensInLabel
	}},

	{"length.long_url", "length", reason.LongURL, func(u *canonical.URL, _ *Lists) bool {
		return u.Length() > LongURLLength
	}},

	{"credential.at_symbol", "credential", reason.AtSymbolInjection, func(u *canonical.URL, _ *Lists) bool {
		return u.Userinfo != ""
	}},
	{"credential.params", "credential", reason.CredentialParams, func(u *canonical.URL, l *Lists) bool {
		for _, p := range u.Params {
			if l.CredentialKey(p.Key) {
				return true
			}
		}
		return false
	}},
	{"credential.path_keyword", "credential", reason.SuspiciousPathKeyword, hasPathKeyword},

	{"shortener.domain", "shortener", reason.URLShortener, func(u *canonical.URL, l *Lists) bool {
		return !u.IsIP && l.IsShortener(u.Host, u.RegistrableDomain())
	}},

	{"file.dangerous_extension", "file", reason.DangerousExtension, func(u *canonical.URL, l *Lists) bool {
		exts := fileExtensions(u.Path)
		return len(exts) > 0 && l.DangerousExtension(exts[len(exts)-1])
	}},
	{"file.double_extension", "file", reason.DoubleExtension, func(u *canonical.URL, l *Lists) bool {
		exts := fileExtensions(u.Path)
		if len(exts) < 2 {
			return false
		}
		last, prev := exts[len(exts)-1], exts[len(exts)-2]
		return l.DangerousExtension(last) && (l.DocumentExtension(prev) || l.DangerousExtension(prev))
	}},

	{"obfuscation.excessive_encoding", "obfuscation", reason.ExcessiveEncoding, func(u *canonical.URL, _ *Lists) bool {
		if u.EncodedTriplets > ExcessiveTriplets {
			return true
		}
		n := u.Length()
		return u.EncodedTriplets >= 4 && n > 0 && float64(u.EncodedTriplets*3)/float64(n) > ExcessiveEncodedFrac
	}},
	{"obfuscation.double_encoding", "obfuscation", reason.DoubleEncoding, func(u *canonical.URL, _ *Lists) bool {
		return u.EncodingDepth >= 2
	}},
	{"obfuscation.encoded_host", "obfuscation", reason.EncodedHost, func(u *canonical.URL, _ *Lists) bool {
		return u.EncodedHost
	}},
	{"obfuscation.control_chars", "obfuscation", reason.ControlCharacters, func(u *canonical.URL, _ *Lists) bool {
		return u.ControlChars > 0
	}},

	{"redirect.param", "redirect", reason.RedirectParam, hasRedirectParam},

	{"fragment.smuggling", "fragment", reason.FragmentSmuggling, func(u *canonical.URL, _ *Lists) bool {
		if u.Fragment == "" {
			return false
		}
		f := strings.ToLower(canonical.Normalize(u.Fragment))
		return looksLikeURL(f) || strings.Contains(f, "javascript:") || strings.Contains(f, "data:") ||
			strings.Contains(f, "<") || strings.Contains(f, "@")
	}},

	{"script.punycode", "script", reason.Punycode, func(u *canonical.URL, _ *Lists) bool {
		return u.Script.Punycode
	}},
	{"script.mixed", "script", reason.MixedScript, func(u *canonical.URL, _ *Lists) bool {
		return u.Script.MixedScript
	}},
	{"script.homograph", "script", reason.Homograph, func(u *canonical.URL, _ *Lists) bool {
		return u.Script.Homograph
	}},
	{"script.zero_width", "script", reason.ZeroWidthChars, func(u *canonical.URL, _ *Lists) bool {
		return u.Script.ZeroWidth
	}},
}

// Rules returns the built-in rule table in evaluation order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Groups returns the distinct rule groups in evaluation order.
func Groups() []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range rules {
		if !seen[r.Group] {
			seen[r.Group] = true
			out = append(out, r.Group)
		}
	}
	return out
}

var embeddedTLDLabels = map[string]bool{
	"com": true, "net": true, "org": true, "gov": true, "edu": true,
	"co": true, "io": true, "info": true, "biz": true,
}

// hasEmbeddedDomain fires for hosts like "paypal.com.account-check.tk",
// where a subdomain chain spells out a second domain name.
func hasEmbeddedDomain(u *canonical.URL, _ *Lists) bool {
	subs := u.Subdomains()
	for i := 1; i < len(subs); i++ {
		if embeddedTLDLabels[subs[i]] {
			return true
		}
	}
	for _, s := range subs {
		for tld := range embeddedTLDLabels {
			if len(s) > len(tld)+1 && strings.HasSuffix(s, "-"+tld) {
				return true
			}
		}
	}
	return false
}

func hasPathKeyword(u *canonical.URL, l *Lists) bool {
	path := strings.ToLower(canonical.Normalize(u.Path))
	tokens := strings.FieldsFunc(path, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for _, tok := range tokens {
		for _, kw := range l.PathKeywords() {
			if tok == kw || (len(kw) >= 4 && strings.Contains(tok, kw)) {
				return true
			}
		}
	}
	return false
}

func hasRedirectParam(u *canonical.URL, l *Lists) bool {
	for _, p := range u.Params {
		v := strings.ToLower(canonical.Normalize(p.Value))
		if looksLikeURL(v) {
			return true
		}
		if l.RedirectKey(p.Key) && (strings.HasPrefix(v, "www.") || strings.Contains(v, ".")) {
			return true
		}
	}
	return false
}

func looksLikeURL(s string) bool {
	return strings.Contains(s, "://") || strings.HasPrefix(s, "//") || strings.HasPrefix(s, "www.")
}

// unicodeLabel decodes an xn-- label so the ACE prefix and the punycode
// delimiter are not counted as part of the name.
func unicodeLabel(label string) string {
	if !strings.HasPrefix(label, "xn--") {
		return label
	}
	if u, err := idna.Punycode.ToUnicode(label); err == nil {
		return u
	}
	return label
}

// fileExtensions returns the dot-separated extensions of the last path
// segment, in order: "/a/invoice.pdf.exe" -> ["pdf", "exe"].
func fileExtensions(path string) []string {
	seg := path
	if i := strings.LastIndexByte(seg, '/'); i >= 0 {
		seg = seg[i+1:]
	}
	seg = strings.ToLower(canonical.Normalize(seg))
	parts := strings.Split(seg, ".")
	if len(parts) < 2 || parts[0] == "" {
		return nil
	}
	exts := parts[1:]
	for i, e := range exts {
		exts[i] = strings.TrimSpace(e)
	}
	return exts
}

// Entropy returns the Shannon entropy of s in bits per character.
func Entropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	n := 0
	for _, r := range s {
		counts[r]++
		n++
	}
	// Summation order is fixed so the result is bit-for-bit reproducible.
	freq := make([]int, 0, len(counts))
	for _, c := range counts {
		freq = append(freq, c)
	}
	sort.Ints(freq)
	var h float64
	for _, c := range freq {
		p := float64(c) / float64(n)
		h -= p * math.Log2(p)
	}
	return h
}
