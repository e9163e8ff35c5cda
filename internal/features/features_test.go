package features

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehrguard/mehrguard/internal/canonical"
	"github.com/mehrguard/mehrguard/internal/heuristic"
	"github.com/mehrguard/mehrguard/internal/tld"
)

func testVectorizer() *Vectorizer {
	lists := heuristic.NewLists(heuristic.ListConfig{Shorteners: []string{"bit.ly"}})
	tlds, err := tld.NewBuilder().AddTld("tk", 85).AddTld("com", 5).Build()
	if err != nil {
		panic(err)
	}
	return NewVectorizer(lists, tlds)
}

func vec(t *testing.T, raw string) Vector {
	t.Helper()
	u, err := canonical.Parse(raw)
	require.NoError(t, err)
	return testVectorizer().Vectorize(u)
}

func TestVectorShapeAndBounds(t *testing.T) {
	inputs := []string{
		"https://www.google.com",
		"http://192.168.1.1/login.php",
		"https://bit.ly/abc",
		"https://user@a.b.c.d.e.f.g.evil-site.tk:8080/" + strings.Repeat("x", 900) + "?a=1&b=2",
	}
	for _, in := range inputs {
		x := vec(t, in)
		require.Len(t, x, Size)
		for i, v := range x {
			assert.False(t, math.IsNaN(v), "%s: %s is NaN", in, names[i])
			assert.GreaterOrEqual(t, v, 0.0, names[i])
			assert.LessOrEqual(t, v, 1.0, names[i])
		}
	}
}

func TestVectorValues(t *testing.T) {
	x := vec(t, "http://192.168.1.1/login.php")
	assert.Equal(t, 0.0, x[HasHTTPS])
	assert.Equal(t, 1.0, x[IsIPHost])
	assert.Equal(t, 0.0, x[SubdomainCount])
	assert.Equal(t, 0.0, x[IsShortener])
	assert.Equal(t, 0.0, x[SuspiciousTLD])
	assert.InDelta(t, float64(len("http://192.168.1.1/login.php"))/500, x[URLLength], 1e-12)
	assert.InDelta(t, 0.3, x[DotCount], 1e-12)

	x = vec(t, "https://bit.ly/abc")
	assert.Equal(t, 1.0, x[HasHTTPS])
	assert.Equal(t, 1.0, x[IsShortener])

	x = vec(t, "https://user@login.evil-site.tk:8080/")
	assert.Equal(t, 1.0, x[HasAt])
	assert.Equal(t, 1.0, x[HasPort])
	assert.Equal(t, 1.0, x[SuspiciousTLD])
	assert.InDelta(t, 0.2, x[SubdomainCount], 1e-12)
	assert.InDelta(t, 0.1, x[DashCount], 1e-12)
}

func TestSaturation(t *testing.T) {
	x := vec(t, "https://a.b.c.d.e.f.g.h.example.com/"+strings.Repeat("p", 400))
	assert.Equal(t, 1.0, x[SubdomainCount])
	assert.Equal(t, 1.0, x[PathLength])
}

func TestNilURLIsZeroVector(t *testing.T) {
	x := testVectorizer().Vectorize(nil)
	require.Len(t, x, Size)
	for _, v := range x {
		assert.Zero(t, v)
	}

	var v *Vectorizer
	assert.Len(t, v.Vectorize(nil), Size)
}

func TestNames(t *testing.T) {
	n := Names()
	require.Len(t, n, Size)
	assert.Equal(t, "url_length", n[URLLength])
	assert.Equal(t, "suspicious_tld", n[SuspiciousTLD])

	named := vec(t, "https://bit.ly/x").Named()
	assert.Equal(t, 1.0, named["is_shortener"])
}

func TestRatio(t *testing.T) {
	assert.Zero(t, ratio(math.NaN(), 10))
	assert.Zero(t, ratio(math.Inf(1), 10))
	assert.Zero(t, ratio(-3, 10))
	assert.Equal(t, 1.0, ratio(30, 10))
	assert.Equal(t, 0.5, ratio(5, 10))
}
