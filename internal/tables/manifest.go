// Package tables holds the data the engine consults: the brand database,
// heuristic lists and TLD weights. A set of tables is described by a JSON
// manifest, compiled into an immutable Snapshot and published through a
// Store with an all-or-nothing swap.
package tables

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/miekg/dns"

	"github.com/mehrguard/mehrguard/internal/brand"
)

// MaxManifestSize is the largest manifest accepted, in bytes.
const MaxManifestSize = 500 * 1024

var (
	// ErrManifestTooLarge is returned for manifests over MaxManifestSize.
	ErrManifestTooLarge = errors.New("manifest exceeds maximum size")
	// ErrInvalidManifest wraps every decoding and validation failure.
	ErrInvalidManifest = errors.New("invalid manifest")
)

// Manifest is the wire form of a table set.
type Manifest struct {
	Version    int        `json:"version"`
	BrandDB    BrandDB    `json:"brand_db"`
	Heuristics Heuristics `json:"heuristics"`
}

// BrandDB lists protected brands in match-priority order.
type BrandDB struct {
	Brands []brand.Brand `json:"brands"`
}

// Heuristics holds the lists heuristic rules and TLD scoring consult.
type Heuristics struct {
	Shorteners          []string       `json:"shorteners"`
	PathKeywords        []string       `json:"path_keywords"`
	CredentialKeys      []string       `json:"credential_keys"`
	RedirectKeys        []string       `json:"redirect_keys"`
	DangerousExtensions []string       `json:"dangerous_extensions"`
	DocumentExtensions  []string       `json:"document_extensions"`
	SuspiciousPorts     []int          `json:"suspicious_ports"`
	TLDWeights          map[string]int `json:"tld_weights"`
}

// ParseManifest decodes and validates data. Unknown fields, trailing data
// and any invalid entry reject the whole manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) > MaxManifestSize {
		return nil, ErrManifestTooLarge
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after manifest", ErrInvalidManifest)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ReadManifest reads at most MaxManifestSize bytes from r and parses them.
// It returns ErrManifestTooLarge rather than a truncated manifest.
func ReadManifest(r io.Reader) (*Manifest, []byte, error) {
	lr := &io.LimitedReader{R: r, N: MaxManifestSize + 1}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}
	if len(data) > MaxManifestSize {
		return nil, nil, ErrManifestTooLarge
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, nil, err
	}
	return m, data, nil
}

// Validate checks m for structural errors.
func (m *Manifest) Validate() error {
	if m.Version < 1 {
		return invalid("version must be >= 1, got %d", m.Version)
	}
	if len(m.BrandDB.Brands) == 0 {
		return invalid("brand_db.brands is empty")
	}
	names := make(map[string]bool, len(m.BrandDB.Brands))
	for i, b := range m.BrandDB.Brands {
		name := strings.ToLower(strings.TrimSpace(b.Name))
		if name == "" {
			return invalid("brand_db.brands[%d]: name is empty", i)
		}
		if names[name] {
			return invalid("brand_db.brands[%d]: duplicate brand %q", i, b.Name)
		}
		names[name] = true
		if len(b.Domains) == 0 {
			return invalid("brand %q: no official domains", b.Name)
		}
		for _, d := range b.Domains {
			if !validDomain(d) {
				return invalid("brand %q: invalid domain %q", b.Name, d)
			}
		}
		for _, a := range b.Aliases {
			if strings.TrimSpace(a) == "" {
				return invalid("brand %q: empty alias", b.Name)
			}
		}
	}

	h := m.Heuristics
	for _, s := range h.Shorteners {
		if !validDomain(s) {
			return invalid("heuristics.shorteners: invalid domain %q", s)
		}
	}
	lists := []struct {
		field string
		items []string
	}{
		{"path_keywords", h.PathKeywords},
		{"credential_keys", h.CredentialKeys},
		{"redirect_keys", h.RedirectKeys},
		{"dangerous_extensions", h.DangerousExtensions},
		{"document_extensions", h.DocumentExtensions},
	}
	for _, l := range lists {
		for _, v := range l.items {
			if strings.TrimSpace(v) == "" {
				return invalid("heuristics.%s: empty entry", l.field)
			}
		}
	}
	for _, p := range h.SuspiciousPorts {
		if p < 1 || p > 65535 {
			return invalid("heuristics.suspicious_ports: port %d out of range", p)
		}
	}
	for _, t := range slices.Sorted(maps.Keys(h.TLDWeights)) {
		w := h.TLDWeights[t]
		name := strings.Trim(strings.ToLower(strings.TrimSpace(t)), ".")
		if _, ok := dns.IsDomainName(name); name == "" || !ok {
			return invalid("heuristics.tld_weights: invalid tld %q", t)
		}
		if w < 0 || w > 100 {
			return invalid("heuristics.tld_weights: weight %d for %q out of range", w, t)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidManifest, fmt.Sprintf(format, args...))
}

func validDomain(d string) bool {
	d = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
	if d == "" || !strings.Contains(d, ".") {
		return false
	}
	for i := 0; i < len(d); i++ {
		c := d[i]
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '.') {
			return false
		}
	}
	_, ok := dns.IsDomainName(d)
	return ok
}
