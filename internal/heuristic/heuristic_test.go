package heuristic

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehrguard/mehrguard/internal/canonical"
	"github.com/mehrguard/mehrguard/internal/reason"
)

func testLists() *Lists {
	return NewLists(ListConfig{
		Shorteners:          []string{"bit.ly", "tinyurl.com"},
		PathKeywords:        []string{"login", "signin", "verify", "update", "account"},
		CredentialKeys:      []string{"password", "pass", "token"},
		RedirectKeys:        []string{"redirect", "url", "next"},
		DangerousExtensions: []string{".exe", "scr", "apk"},
		DocumentExtensions:  []string{"pdf", "doc"},
		SuspiciousPorts:     []int{4444, 31337},
	})
}

func mustParse(t *testing.T, raw string) *canonical.URL {
	t.Helper()
	u, err := canonical.Parse(raw)
	require.NoError(t, err, raw)
	return u
}

func TestRuleTableWellFormed(t *testing.T) {
	ids := make(map[string]bool)
	for _, r := range Rules() {
		assert.False(t, ids[r.ID], "duplicate rule %s", r.ID)
		ids[r.ID] = true
		assert.True(t, strings.HasPrefix(r.ID, r.Group+"."), r.ID)
		_, ok := reason.Lookup(r.Code)
		assert.True(t, ok, "rule %s has unknown code", r.ID)
		assert.NotNil(t, r.Check)
	}
	assert.GreaterOrEqual(t, len(ids), 25)
}

func TestIndividualRules(t *testing.T) {
	s, err := NewScorer(testLists(), Selection{})
	require.NoError(t, err)

	tests := []struct {
		url  string
		want reason.Code
	}{
		{"http://example.com", reason.HTTPNotHTTPS},
		{"https://example.com:4444/", reason.SuspiciousPort},
		{"https://example.com:8081/", reason.NonStandardPort},
		{"https://10.0.0.1/", reason.IPHost},
		{"https://0x7f000001/", reason.ObfuscatedIP},
		{"https://a.b.c.d.e.f.example.com/", reason.ExcessiveSubdomains},
		{"https://paypal.com.account-check.tk/", reason.EmbeddedDomain},
		{"https://q8x7k2m9z4w1v6b3n5j0hf.example.com/", reason.HighEntropyHost},
		{"https://secure-login-paypal-verify.com/", reason.ExcessiveHyphens},
		{"https://example.com/" + strings.Repeat("a", 260), reason.LongURL},
		{"https://paypal.com@evil.example/", reason.AtSymbolInjection},
		{"https://example.com/?password=hunter2", reason.CredentialParams},
		{"https://example.com/account/login.php", reason.SuspiciousPathKeyword},
		{"https://bit.ly/abc", reason.URLShortener},
		{"https://example.com/setup.exe", reason.DangerousExtension},
		{"https://example.com/invoice.pdf.exe", reason.DoubleExtension},
		{"https://example.com/" + strings.Repeat("%41", 12), reason.ExcessiveEncoding},
		{"https://example.com/%252e%252e", reason.DoubleEncoding},
		{"https://%65xample.com/", reason.EncodedHost},
		{"https://exam\x07ple.com/", reason.ControlCharacters},
		{"https://example.com/?next=https%3A%2F%2Fevil.example", reason.RedirectParam},
		{"https://example.com/?redirect=evil.example", reason.RedirectParam},
		{"https://example.com/#https://evil.example", reason.FragmentSmuggling},
		{"https://xn--pypal-4ve.com/", reason.Punycode},
		{"https://xn--pypal-4ve.com/", reason.MixedScript},
		{"https://xn--pypal-4ve.com/", reason.Homograph},
		{"https://pay\u200bpal.com/", reason.ZeroWidthChars},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			res := s.Score(mustParse(t, tt.url))
			assert.Contains(t, res.Codes, tt.want)
		})
	}
}

func TestCleanURLFiresNothing(t *testing.T) {
	s, err := NewScorer(testLists(), Selection{})
	require.NoError(t, err)

	res := s.Score(mustParse(t, "https://www.google.com"))
	assert.Zero(t, res.Score)
	assert.Empty(t, res.Codes)

	res = s.Score(mustParse(t, "https://accounts.google.com/"))
	assert.Empty(t, res.Codes)
}

func TestHyphensCountedOnDecodedLabel(t *testing.T) {
	s, err := NewScorer(testLists(), Selection{})
	require.NoError(t, err)

	for _, raw := range []string{
		"https://xn--mnchen-3ya.de/",
		"https://münchen.de/",
		"https://xn--caf-dma.fr/",
		"https://straße.de/",
		"https://xn--pypal-4ve.com/",
	} {
		t.Run(raw, func(t *testing.T) {
			res := s.Score(mustParse(t, raw))
			assert.NotContains(t, res.Codes, reason.ExcessiveHyphens)
			assert.NotContains(t, res.Rules, "host.hyphens")
		})
	}

	res := s.Score(mustParse(t, "https://xn--sicher-anmelden-konto-prfen-53c.de/"))
	assert.Contains(t, res.Rules, "host.hyphens", "hyphens in the decoded name still count")
}

func TestScoreSumsPointsInTableOrder(t *testing.T) {
	s, err := NewScorer(testLists(), Selection{})
	require.NoError(t, err)

	res := s.Score(mustParse(t, "http://192.168.1.1/login.php"))
	assert.Equal(t, []reason.Code{reason.HTTPNotHTTPS, reason.IPHost, reason.SuspiciousPathKeyword}, res.Codes)
	assert.Equal(t, 15+30+15, res.Score)
	assert.Equal(t, []string{"transport.http", "host.ip", "credential.path_keyword"}, res.Rules)
}

func TestScoreCapped(t *testing.T) {
	s, err := NewScorer(testLists(), Selection{})
	require.NoError(t, err)

	res := s.Score(mustParse(t, "http://user@xn--pypal-4ve.com:4444/login/invoice.pdf.exe?password=x"))
	assert.Equal(t, MaxScore, res.Score)
}

func TestSelectionDisablesGroupsAndPatterns(t *testing.T) {
	s, err := NewScorer(testLists(), Selection{
		DisabledGroups: []string{"transport"},
		DisabledRules:  []string{"credential.*"},
	})
	require.NoError(t, err)

	res := s.Score(mustParse(t, "http://192.168.1.1/login.php"))
	assert.Equal(t, []reason.Code{reason.IPHost}, res.Codes)
	assert.NotContains(t, s.Enabled(), "transport.http")
	assert.NotContains(t, s.Enabled(), "credential.at_symbol")
	assert.Contains(t, s.Enabled(), "host.ip")
}

func TestSelectionErrors(t *testing.T) {
	_, err := NewScorer(nil, Selection{DisabledGroups: []string{"nope"}})
	assert.Error(t, err)

	_, err = NewScorer(nil, Selection{DisabledRules: []string{"[unterminated"}})
	assert.Error(t, err)
}

func TestNilInputs(t *testing.T) {
	s, err := NewScorer(nil, Selection{})
	require.NoError(t, err)
	assert.Zero(t, s.Score(nil).Score)

	// Without lists, list-driven rules stay quiet.
	res := s.Score(mustParse(t, "https://bit.ly/x"))
	assert.NotContains(t, res.Codes, reason.URLShortener)
}

func TestEntropy(t *testing.T) {
	assert.Zero(t, Entropy(""))
	assert.Zero(t, Entropy("aaaa"))
	assert.InDelta(t, 1.0, Entropy("abab"), 1e-12)
	assert.InDelta(t, 2.0, Entropy("abcd"), 1e-12)
	assert.Equal(t, Entropy("googlecom"), Entropy("googlecom"))
}

func TestFileExtensions(t *testing.T) {
	assert.Equal(t, []string{"pdf", "exe"}, fileExtensions("/a/invoice.pdf.exe"))
	assert.Nil(t, fileExtensions("/a/b"))
	assert.Nil(t, fileExtensions("/.hidden"))
	assert.Equal(t, []string{"exe"}, fileExtensions("/a/setup%2Eexe"))
}
