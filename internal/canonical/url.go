// Package canonical turns raw, possibly hostile URL text into a bounded,
// validated URL value that every scoring component reads from.
package canonical

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/mehrguard/mehrguard/internal/script"
	"github.com/mehrguard/mehrguard/internal/suffix"
)

// Length caps. Inputs longer than MaxURLLength are rejected; the path,
// query and fragment are truncated to their caps.
const (
	MaxURLLength      = 2048
	MaxHostLength     = 255
	MaxPathLength     = 1024
	MaxQueryLength    = 1024
	MaxFragmentLength = 256
	MaxParams         = 50
)

// Param is one decoded query parameter.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// URL is an immutable canonical URL. Values are created by Parse and must
// not be modified afterwards.
type URL struct {
	Scheme   string
	Userinfo string
	// Host is lower-case and, for domain names, in IDNA ASCII form.
	Host string
	// Port is zero when the input named none.
	Port     int
	Path     string
	RawQuery string
	Params   []Param
	Fragment string

	IP             netip.Addr
	IsIP           bool
	IsObfuscatedIP bool

	Suffix suffix.Result
	Script script.Result

	// Facts recorded while cleaning the input.
	ControlChars    int
	EncodedHost     bool
	EncodingDepth   int
	EncodedTriplets int
	Truncated       bool
}

// RegistrableDomain returns the eTLD+1, empty for IP hosts.
func (u *URL) RegistrableDomain() string { return u.Suffix.RegistrableDomain }

// EffectiveTLD returns the public suffix of the host.
func (u *URL) EffectiveTLD() string { return u.Suffix.EffectiveTLD }

// Subdomains returns the labels left of the registrable domain.
func (u *URL) Subdomains() []string { return u.Suffix.Subdomains }

// SubdomainDepth returns the number of subdomain labels.
func (u *URL) SubdomainDepth() int { return len(u.Suffix.Subdomains) }

// IsPunycode reports whether any host label carries the xn-- prefix.
func (u *URL) IsPunycode() bool { return u.Script.Punycode }

// IsHTTPS reports whether the scheme is https.
func (u *URL) IsHTTPS() bool { return u.Scheme == "https" }

// DisplayHost returns the host in a form safe to show users.
func (u *URL) DisplayHost() string {
	if u.IsIP || u.Script.SafeDisplay == "" {
		return u.Host
	}
	return u.Script.SafeDisplay
}

// Param returns the first value for key, compared case-insensitively.
func (u *URL) Param(key string) (string, bool) {
	for _, p := range u.Params {
		if strings.EqualFold(p.Key, key) {
			return p.Value, true
		}
	}
	return "", false
}

// String renders the canonical form.
func (u *URL) String() string {
	var b strings.Builder
	b.Grow(len(u.Host) + len(u.Path) + len(u.RawQuery) + len(u.Fragment) + 16)
	b.WriteString(u.Scheme)
	b.WriteString("://")
	if u.Userinfo != "" {
		b.WriteString(u.Userinfo)
		b.WriteByte('@')
	}
	if u.IsIP && u.IP.Is6() && !u.IsObfuscatedIP {
		b.WriteByte('[')
		b.WriteString(u.Host)
		b.WriteByte(']')
	} else {
		b.WriteString(u.Host)
	}
	if u.Port != 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(u.Port))
	}
	b.WriteString(u.Path)
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.Fragment)
	}
	return b.String()
}

// Length returns the length in bytes of the canonical form.
func (u *URL) Length() int { return len(u.String()) }
