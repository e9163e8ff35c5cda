package brand

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehrguard/mehrguard/internal/canonical"
	"github.com/mehrguard/mehrguard/internal/reason"
)

func testMatcher() *Matcher {
	return NewMatcher([]Brand{
		{Name: "Apple", Domains: []string{"apple.com", "icloud.com"}},
		{Name: "Spotify", Domains: []string{"spotify.com"}},
		{Name: "PayPal", Domains: []string{"paypal.com", "paypal.me"}},
		{Name: "Google", Domains: []string{"google.com", "youtube.com"}, Aliases: []string{"gmail"}},
		{Name: "Microsoft", Domains: []string{"microsoft.com", "live.com"}},
		{Name: "UPS", Domains: []string{"ups.com"}},
		{Name: "Bank of America", Domains: []string{"bankofamerica.com"}},
	})
}

func match(t *testing.T, raw string) Result {
	t.Helper()
	u, err := canonical.Parse(raw)
	require.NoError(t, err)
	return testMatcher().Match(u)
}

func TestOfficialDomainsNeverMatch(t *testing.T) {
	for _, raw := range []string{
		"https://paypal.com/signin",
		"https://www.paypal.com",
		"https://accounts.google.com/",
		"https://mail.google.com/mail",
		"https://www.youtube.com/watch?v=paypal",
	} {
		t.Run(raw, func(t *testing.T) {
			res := match(t, raw)
			assert.Nil(t, res.Match)
			assert.Zero(t, res.Score)
			assert.Empty(t, res.Codes)
		})
	}
}

func TestMatchKinds(t *testing.T) {
	tests := []struct {
		url     string
		brand   string
		method  string
		code    reason.Code
		score   int
		subOnly bool
	}{
		{"https://secure-paypa1.com/verify", "PayPal", "substitution", reason.Typosquatting, ScoreSubstitution, false},
		{"https://rnicrosoft.com", "Microsoft", "substitution", reason.Typosquatting, ScoreSubstitution, false},
		{"https://g00gle.net", "Google", "substitution", reason.Typosquatting, ScoreSubstitution, false},
		{"https://xn--pypal-4ve.com/signin", "PayPal", "lookalike", reason.Typosquatting, ScoreLookalike, false},
		{"https://paypai-secure.com", "PayPal", "edit_distance", reason.Typosquatting, ScoreEditDistance, false},
		{"https://paypal-login.com", "PayPal", "token", reason.BrandInDomain, ScoreComboSquat, false},
		{"https://paypalsecure.net", "PayPal", "prefix", reason.BrandInDomain, ScoreComboSquat, false},
		{"https://paypal.tk", "PayPal", "exact", reason.BrandInDomain, ScoreExactLabel, false},
		{"https://gmail-support.xyz", "Google", "token", reason.BrandInDomain, ScoreComboSquat, false},
		{"https://bankofamerica-alerts.com", "Bank of America", "token", reason.BrandInDomain, ScoreComboSquat, false},
		{"https://paypal.attacker.tk/login", "PayPal", "subdomain", reason.BrandImpersonation, ScoreImpersonation, true},
		{"https://www.paypal-account.attacker.tk", "PayPal", "subdomain", reason.BrandImpersonation, ScoreImpersonation, true},
		{"https://ups.delivery-track.com", "UPS", "subdomain", reason.BrandImpersonation, ScoreImpersonation, true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			res := match(t, tt.url)
			require.NotNil(t, res.Match)
			assert.Equal(t, tt.brand, res.Match.Brand)
			assert.Equal(t, tt.method, res.Match.Method)
			assert.Equal(t, tt.code, res.Match.Code)
			assert.Equal(t, tt.score, res.Score)
			assert.Equal(t, tt.subOnly, res.Match.SubdomainOnly)
			assert.Equal(t, []reason.Code{tt.code}, res.Codes)
		})
	}
}

func TestNoFalsePositives(t *testing.T) {
	for _, raw := range []string{
		"https://example.com/paypal/login",
		"https://example.com/?next=google.com",
		"https://startups.io",
		"https://upsilon.org",
		"https://10.0.0.1/paypal",
		"https://wikipedia.org",
		"https://apply.com/",
		"https://applet.dev/",
		"https://spotifu.com/",
		"https://paypai.com",
	} {
		t.Run(raw, func(t *testing.T) {
			assert.Nil(t, match(t, raw).Match)
		})
	}
}

func TestShortBrandRequiresExactToken(t *testing.T) {
	assert.Nil(t, match(t, "https://upsx.com").Match)
	res := match(t, "https://ups-parcel.com")
	require.NotNil(t, res.Match)
	assert.Equal(t, "UPS", res.Match.Brand)
}

func TestMatchDeterministic(t *testing.T) {
	first := match(t, "https://paypal-google.com")
	require.NotNil(t, first.Match)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, match(t, "https://paypal-google.com"))
	}
	assert.Equal(t, "PayPal", first.Match.Brand, "equal scores resolve to the earlier brand")
}

func TestNilMatcher(t *testing.T) {
	var m *Matcher
	u, err := canonical.Parse("https://paypal.attacker.tk")
	require.NoError(t, err)
	assert.Nil(t, m.Match(u).Match)
	assert.Zero(t, m.Len())
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 0, levenshtein("paypal", "paypal"))
	assert.Equal(t, 1, levenshtein("paypal", "paypai"))
	assert.Equal(t, 1, levenshtein("paypal", "pаypal"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.InDelta(t, 1.0, NormalizedSimilarity("", ""), 1e-9)
	assert.InDelta(t, 5.0/6.0, NormalizedSimilarity("paypal", "paypai"), 1e-9)
}
