// Package features maps a canonical URL onto the fixed-length numeric vector
// the ensemble models were trained on.
package features

import (
	"math"
	"strings"

	"github.com/mehrguard/mehrguard/internal/canonical"
	"github.com/mehrguard/mehrguard/internal/heuristic"
	"github.com/mehrguard/mehrguard/internal/tld"
)

// Feature indexes. The order is part of the model contract.
const (
	URLLength = iota
	HostLength
	PathLength
	SubdomainCount
	HasHTTPS
	IsIPHost
	HostEntropy
	PathEntropy
	ParamCount
	HasAt
	DotCount
	DashCount
	HasPort
	IsShortener
	SuspiciousTLD

	Size
)

// Normalization caps; each raw value is divided by its cap and clipped
// to 1.
const (
	capURLLength  = 500
	capHostLength = 100
	capPathLength = 200
	capSubdomains = 5
	capEntropy    = 5
	capParams     = 10
	capDots       = 10
	capDashes     = 10
)

var names = [Size]string{
	"url_length", "host_length", "path_length", "subdomain_count",
	"has_https", "is_ip", "host_entropy", "path_entropy", "param_count",
	"has_at", "dot_count", "dash_count", "has_port", "is_shortener",
	"suspicious_tld",
}

// Names returns the feature names in vector order.
func Names() []string {
	out := make([]string, Size)
	copy(out, names[:])
	return out
}

// Vector is a normalized feature vector; every element is in [0,1].
type Vector []float64

// Vectorizer computes feature vectors using the active lists and TLD table.
type Vectorizer struct {
	lists *heuristic.Lists
	tlds  *tld.Table
}

// NewVectorizer returns a vectorizer. Either argument may be nil, in which
// case the shortener or suspicious-TLD feature is always zero.
func NewVectorizer(lists *heuristic.Lists, tlds *tld.Table) *Vectorizer {
	return &Vectorizer{lists: lists, tlds: tlds}
}

// Vectorize returns the feature vector for u. A nil u yields all zeros.
func (v *Vectorizer) Vectorize(u *canonical.URL) Vector {
	x := make(Vector, Size)
	if u == nil {
		return x
	}

	x[URLLength] = ratio(float64(u.Length()), capURLLength)
	x[HostLength] = ratio(float64(len(u.Host)), capHostLength)
	x[PathLength] = ratio(float64(len(u.Path)), capPathLength)
	x[SubdomainCount] = ratio(float64(u.SubdomainDepth()), capSubdomains)
	x[HasHTTPS] = flag(u.IsHTTPS())
	x[IsIPHost] = flag(u.IsIP)
	x[HostEntropy] = ratio(heuristic.Entropy(u.Host), capEntropy)
	x[PathEntropy] = ratio(heuristic.Entropy(u.Path), capEntropy)
	x[ParamCount] = ratio(float64(len(u.Params)), capParams)
	x[HasAt] = flag(u.Userinfo != "")
	x[DotCount] = ratio(float64(strings.Count(u.Host, ".")), capDots)
	x[DashCount] = ratio(float64(strings.Count(u.Host, "-")), capDashes)
	x[HasPort] = flag(u.Port != 0)
	if v != nil && v.lists != nil && !u.IsIP {
		x[IsShortener] = flag(v.lists.IsShortener(u.Host, u.RegistrableDomain()))
	}
	if v != nil && v.tlds != nil && !u.IsIP && u.EffectiveTLD() != "" {
		x[SuspiciousTLD] = flag(v.tlds.Suspicious(u.EffectiveTLD()))
	}
	return x
}

// Named returns the vector as a name -> value map for diagnostics.
func (x Vector) Named() map[string]float64 {
	m := make(map[string]float64, len(x))
	for i, val := range x {
		if i < Size {
			m[names[i]] = val
		}
	}
	return m
}

// ratio divides by limit and saturates at 1. Non-finite or negative input
// yields 0.
func ratio(val, limit float64) float64 {
	if math.IsNaN(val) || math.IsInf(val, 0) || val <= 0 || limit <= 0 {
		return 0
	}
	r := val / limit
	if r > 1 {
		return 1
	}
	return r
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
