// Package tld holds the per-TLD risk weights used by the score combiner.
package tld

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidEntry is returned by Build when an entry had an empty TLD or a
// weight outside 0..100.
var ErrInvalidEntry = errors.New("invalid tld entry")

const (
	// DefaultWeight applies to any TLD not in the table.
	DefaultWeight = 10
	// SuspiciousWeight is the weight at and above which a TLD is reported
	// as high-abuse.
	SuspiciousWeight = 50
)

// Table is an immutable TLD -> weight map. Build one with NewBuilder.
type Table struct {
	weights map[string]int
}

// Builder accumulates entries for a Table. Later entries override earlier
// ones for the same TLD.
type Builder struct {
	weights map[string]int
	err     error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{weights: make(map[string]int)}
}

// AddTld sets the weight for one TLD. The TLD is lower-cased with any
// leading dot removed. A bad entry is skipped and reported by Build.
func (b *Builder) AddTld(tld string, weight int) *Builder {
	name := clean(tld)
	switch {
	case name == "":
		b.fail(fmt.Errorf("%w: empty tld", ErrInvalidEntry))
	case weight < 0 || weight > 100:
		b.fail(fmt.Errorf("%w: weight for %q must be in [0,100], got %d", ErrInvalidEntry, name, weight))
	default:
		b.weights[name] = weight
	}
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// AddTlds sets the same weight for every TLD in tlds.
func (b *Builder) AddTlds(tlds []string, weight int) *Builder {
	for _, t := range tlds {
		b.AddTld(t, weight)
	}
	return b
}

// Build returns the finished table, or the first invalid entry's error.
// The builder may be reused; the table does not share state with it.
func (b *Builder) Build() (*Table, error) {
	if b.err != nil {
		return nil, b.err
	}
	m := make(map[string]int, len(b.weights))
	for k, v := range b.weights {
		m[k] = v
	}
	return &Table{weights: m}, nil
}

// Weight returns the risk weight for tld, or DefaultWeight when unknown.
// Multi-label suffixes such as "co.uk" are looked up whole, then by their
// last label.
func (t *Table) Weight(tld string) int {
	if t == nil {
		return DefaultWeight
	}
	tld = clean(tld)
	if w, ok := t.weights[tld]; ok {
		return w
	}
	if i := strings.LastIndexByte(tld, '.'); i >= 0 {
		if w, ok := t.weights[tld[i+1:]]; ok {
			return w
		}
	}
	return DefaultWeight
}

// Suspicious reports whether tld is a high-abuse TLD.
func (t *Table) Suspicious(tld string) bool {
	return t.Weight(tld) >= SuspiciousWeight
}

// Len returns the number of explicit entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.weights)
}

// Entries returns a copy of the table sorted by descending weight, then name.
func (t *Table) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, 0, len(t.weights))
	for k, v := range t.weights {
		out = append(out, Entry{TLD: k, Weight: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].TLD < out[j].TLD
	})
	return out
}

// Entry is one row of a Table.
type Entry struct {
	TLD    string `json:"tld"`
	Weight int    `json:"weight"`
}

func clean(tld string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(tld)), ".")
}
