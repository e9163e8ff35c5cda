// Package suffix derives the registrable domain, effective TLD and subdomain
// chain of a host from the public suffix list.
package suffix

import (
	"net/netip"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Result is the public-suffix breakdown of a host.
type Result struct {
	// RegistrableDomain is the eTLD+1, e.g. "example.co.uk". Empty for IP
	// literals and hosts that are themselves a public suffix.
	RegistrableDomain string `json:"registrable_domain,omitempty"`
	// EffectiveTLD is the public suffix, e.g. "co.uk".
	EffectiveTLD string `json:"effective_tld,omitempty"`
	// Subdomains are the labels left of the registrable domain, ordered as
	// written.
	Subdomains []string `json:"subdomains,omitempty"`
	// ICANN is true when the suffix came from the ICANN section of the list
	// rather than a private registration or the default rule.
	ICANN bool `json:"icann,omitempty"`
}

// Label returns the registrable label, e.g. "example" for "example.co.uk".
func (r Result) Label() string {
	if r.RegistrableDomain == "" {
		return ""
	}
	return strings.TrimSuffix(r.RegistrableDomain, "."+r.EffectiveTLD)
}

// TLD returns the last label of the effective TLD.
func (r Result) TLD() string {
	if i := strings.LastIndexByte(r.EffectiveTLD, '.'); i >= 0 {
		return r.EffectiveTLD[i+1:]
	}
	return r.EffectiveTLD
}

// Resolve breaks host down using the longest matching public suffix. Hosts
// with no matching rule fall back to treating the last label as the TLD.
// host must already be lower-cased; a trailing dot is ignored.
func Resolve(host string) Result {
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return Result{}
	}
	if _, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return Result{}
	}

	// PublicSuffix applies the implicit "*" rule when nothing matches, which
	// is exactly the last-label fallback.
	eTLD, icann := publicsuffix.PublicSuffix(host)
	if eTLD == host {
		return Result{EffectiveTLD: eTLD, ICANN: icann}
	}

	rest := strings.TrimSuffix(host, "."+eTLD)
	if rest == host || rest == "" {
		return Result{EffectiveTLD: eTLD, ICANN: icann}
	}
	labels := strings.Split(rest, ".")
	registrable := labels[len(labels)-1]
	if registrable == "" {
		return Result{EffectiveTLD: eTLD, ICANN: icann}
	}

	var subs []string
	for _, l := range labels[:len(labels)-1] {
		if l != "" {
			subs = append(subs, l)
		}
	}
	return Result{
		RegistrableDomain: registrable + "." + eTLD,
		EffectiveTLD:      eTLD,
		Subdomains:        subs,
		ICANN:             icann,
	}
}
