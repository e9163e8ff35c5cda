package tables

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalManifest = `{
  "version": 7,
  "brand_db": {"brands": [{"name": "Acme", "domains": ["acme.com"]}]},
  "heuristics": {
    "shorteners": ["sho.rt"],
    "suspicious_ports": [4444],
    "tld_weights": {"bad": 90, "com": 5}
  }
}`

func TestDefaultTables(t *testing.T) {
	s := Default()
	require.NotNil(t, s)
	assert.Equal(t, SourceBundled, s.Source)
	assert.GreaterOrEqual(t, s.Version, 1)
	assert.Len(t, s.Digest, 64)
	assert.True(t, s.Brands.IsOfficial("www.paypal.com"))
	assert.True(t, s.Lists.IsShortener("bit.ly", "bit.ly"))
	assert.Equal(t, 85, s.TLDs.Weight("tk"))
	assert.Equal(t, 5, s.TLDs.Weight("com"))
	assert.Equal(t, 0, s.TLDs.Weight("gov"))
	assert.True(t, s.TLDs.Suspicious("xyz"))
	assert.False(t, s.TLDs.Suspicious("io"))
	assert.Same(t, s, Default())
}

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(minimalManifest))
	require.NoError(t, err)
	assert.Equal(t, 7, m.Version)
	require.Len(t, m.BrandDB.Brands, 1)
	assert.Equal(t, "Acme", m.BrandDB.Brands[0].Name)
	assert.Equal(t, 90, m.Heuristics.TLDWeights["bad"])
}

func TestParseManifestRejects(t *testing.T) {
	cases := map[string]string{
		"not json":        `{`,
		"unknown field":   `{"version":1,"extra":true,"brand_db":{"brands":[{"name":"a","domains":["a.com"]}]}}`,
		"trailing data":   minimalManifest + `{}`,
		"zero version":    `{"version":0,"brand_db":{"brands":[{"name":"a","domains":["a.com"]}]}}`,
		"no brands":       `{"version":1,"brand_db":{"brands":[]}}`,
		"blank brand":     `{"version":1,"brand_db":{"brands":[{"name":" ","domains":["a.com"]}]}}`,
		"duplicate brand": `{"version":1,"brand_db":{"brands":[{"name":"A","domains":["a.com"]},{"name":"a","domains":["b.com"]}]}}`,
		"no domains":      `{"version":1,"brand_db":{"brands":[{"name":"a","domains":[]}]}}`,
		"bad domain":      `{"version":1,"brand_db":{"brands":[{"name":"a","domains":["not a domain"]}]}}`,
		"bad shortener":   `{"version":1,"brand_db":{"brands":[{"name":"a","domains":["a.com"]}]},"heuristics":{"shorteners":["nodot"]}}`,
		"empty keyword":   `{"version":1,"brand_db":{"brands":[{"name":"a","domains":["a.com"]}]},"heuristics":{"path_keywords":[""]}}`,
		"bad port":        `{"version":1,"brand_db":{"brands":[{"name":"a","domains":["a.com"]}]},"heuristics":{"suspicious_ports":[70000]}}`,
		"bad weight":      `{"version":1,"brand_db":{"brands":[{"name":"a","domains":["a.com"]}]},"heuristics":{"tld_weights":{"tk":101}}}`,
		"bad tld":         `{"version":1,"brand_db":{"brands":[{"name":"a","domains":["a.com"]}]},"heuristics":{"tld_weights":{"":10}}}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseManifest([]byte(in))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidManifest)
		})
	}
}

func TestManifestSizeCap(t *testing.T) {
	big := bytes.Repeat([]byte(" "), MaxManifestSize+1)
	_, err := ParseManifest(big)
	assert.ErrorIs(t, err, ErrManifestTooLarge)

	_, _, err = ReadManifest(bytes.NewReader(big))
	assert.ErrorIs(t, err, ErrManifestTooLarge)

	padded := minimalManifest + strings.Repeat(" ", MaxManifestSize-len(minimalManifest))
	m, raw, err := ReadManifest(strings.NewReader(padded))
	require.NoError(t, err)
	assert.Equal(t, 7, m.Version)
	assert.Len(t, raw, MaxManifestSize)
}

func TestCompile(t *testing.T) {
	s, err := Load([]byte(minimalManifest), "test")
	require.NoError(t, err)
	assert.Equal(t, 7, s.Version)
	assert.Equal(t, "test", s.Source)
	assert.Equal(t, 1, s.Brands.Len())
	assert.Equal(t, 90, s.TLDs.Weight("bad"))
	assert.True(t, s.Lists.SuspiciousPort(4444))
	assert.True(t, s.Lists.IsShortener("sho.rt", "sho.rt"))

	again, err := Load([]byte(minimalManifest), "test")
	require.NoError(t, err)
	assert.Equal(t, s.Digest, again.Digest)

	sum := s.Summary()
	assert.Equal(t, 7, sum.Version)
	assert.Equal(t, 1, sum.Brands)
	assert.Equal(t, 2, sum.TLDs)
	assert.Equal(t, 1, sum.Shorteners)
}

func TestDefaultManifestRoundTrip(t *testing.T) {
	raw := DefaultManifestJSON()
	m, err := ParseManifest(raw)
	require.NoError(t, err)
	assert.NotEmpty(t, m.Heuristics.TLDWeights)

	raw[0] = 'x'
	assert.Equal(t, byte('{'), DefaultManifestJSON()[0])
}

func TestStoreSwap(t *testing.T) {
	st := NewStore(nil)
	assert.Same(t, Default(), st.Current())

	var got []int
	st.OnSwap(func(prev, next *Snapshot) { got = append(got, prev.Version, next.Version) })

	next, err := st.Apply([]byte(minimalManifest), "file")
	require.NoError(t, err)
	assert.Same(t, next, st.Current())
	assert.Equal(t, []int{Default().Version, 7}, got)

	_, err = st.Swap(nil)
	assert.ErrorIs(t, err, ErrNilSnapshot)
	assert.Same(t, next, st.Current())
}

func TestStoreCompareAndSwap(t *testing.T) {
	st := NewStore(nil)
	base := st.Current()
	swaps := 0
	st.OnSwap(func(prev, next *Snapshot) { swaps++ })

	first, err := Load([]byte(minimalManifest), "file")
	require.NoError(t, err)
	second, err := Load([]byte(minimalManifest), "api")
	require.NoError(t, err)

	ok, err := st.CompareAndSwap(base, first)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Same(t, first, st.Current())

	ok, err = st.CompareAndSwap(base, second)
	require.NoError(t, err)
	assert.False(t, ok, "stale expected snapshot must not win")
	assert.Same(t, first, st.Current())
	assert.Equal(t, 1, swaps)

	_, err = st.CompareAndSwap(first, nil)
	assert.ErrorIs(t, err, ErrNilSnapshot)
}

func TestStoreApplyIsAllOrNothing(t *testing.T) {
	st := NewStore(nil)
	before := st.Current()

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(minimalManifest), &m))
	m["heuristics"].(map[string]any)["suspicious_ports"] = []int{0}
	bad, err := json.Marshal(m)
	require.NoError(t, err)

	_, err = st.Apply(bad, "file")
	require.ErrorIs(t, err, ErrInvalidManifest)
	assert.Same(t, before, st.Current())
}

func TestStoreConcurrentReaders(t *testing.T) {
	st := NewStore(nil)
	alt, err := Load([]byte(minimalManifest), "alt")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s := st.Current()
				assert.Equal(t, s.Version, s.Manifest.Version)
			}
		}()
	}
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			_, _ = st.Swap(alt)
		} else {
			_, _ = st.Swap(Default())
		}
	}
	wg.Wait()
}
