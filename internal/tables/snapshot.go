package tables

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/mehrguard/mehrguard/internal/brand"
	"github.com/mehrguard/mehrguard/internal/heuristic"
	"github.com/mehrguard/mehrguard/internal/tld"
)

// SourceBundled names the tables compiled into the binary.
const SourceBundled = "bundled"

//go:embed default.json
var defaultManifest []byte

// Snapshot is a compiled, immutable table set. Everything reachable from
// it is read-only and safe to share between goroutines.
type Snapshot struct {
	Version  int
	Source   string
	Digest   string
	LoadedAt time.Time
	Manifest *Manifest

	Brands *brand.Matcher
	TLDs   *tld.Table
	Lists  *heuristic.Lists
}

// Compile builds a snapshot from a validated manifest. raw is the exact
// manifest bytes and is only used for the digest.
func Compile(m *Manifest, raw []byte, source string) (*Snapshot, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	h := m.Heuristics
	tb := tld.NewBuilder()
	for t, w := range h.TLDWeights {
		tb.AddTld(t, w)
	}
	tlds, err := tb.Build()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	sum := sha256.Sum256(raw)
	return &Snapshot{
		Version:  m.Version,
		Source:   source,
		Digest:   hex.EncodeToString(sum[:]),
		LoadedAt: time.Now().UTC(),
		Manifest: m,
		Brands:   brand.NewMatcher(m.BrandDB.Brands),
		TLDs:     tlds,
		Lists: heuristic.NewLists(heuristic.ListConfig{
			Shorteners:          h.Shorteners,
			PathKeywords:        h.PathKeywords,
			CredentialKeys:      h.CredentialKeys,
			RedirectKeys:        h.RedirectKeys,
			DangerousExtensions: h.DangerousExtensions,
			DocumentExtensions:  h.DocumentExtensions,
			SuspiciousPorts:     h.SuspiciousPorts,
		}),
	}, nil
}

// Load parses and compiles raw manifest bytes.
func Load(raw []byte, source string) (*Snapshot, error) {
	m, err := ParseManifest(raw)
	if err != nil {
		return nil, err
	}
	return Compile(m, raw, source)
}

var bundled = sync.OnceValue(func() *Snapshot {
	s, err := Load(defaultManifest, SourceBundled)
	if err != nil {
		panic("tables: bundled manifest is invalid: " + err.Error())
	}
	return s
})

// Default returns the bundled tables. The result is shared.
func Default() *Snapshot {
	return bundled()
}

// DefaultManifestJSON returns a copy of the bundled manifest bytes.
func DefaultManifestJSON() []byte {
	out := make([]byte, len(defaultManifest))
	copy(out, defaultManifest)
	return out
}

// Summary is a printable description of a snapshot.
type Summary struct {
	Version    int       `json:"version"`
	Source     string    `json:"source"`
	Digest     string    `json:"digest"`
	LoadedAt   time.Time `json:"loaded_at"`
	Brands     int       `json:"brands"`
	TLDs       int       `json:"tlds"`
	Shorteners int       `json:"shorteners"`
}

// Summary describes s without its contents.
func (s *Snapshot) Summary() Summary {
	return Summary{
		Version:    s.Version,
		Source:     s.Source,
		Digest:     s.Digest,
		LoadedAt:   s.LoadedAt,
		Brands:     s.Brands.Len(),
		TLDs:       s.TLDs.Len(),
		Shorteners: len(s.Manifest.Heuristics.Shorteners),
	}
}
