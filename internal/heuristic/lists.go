package heuristic

import (
	"strings"
)

// ListConfig is the raw form of the lists rules consult. It maps one to one
// onto the heuristics section of a table manifest.
type ListConfig struct {
	Shorteners          []string
	PathKeywords        []string
	CredentialKeys      []string
	RedirectKeys        []string
	DangerousExtensions []string
	DocumentExtensions  []string
	SuspiciousPorts     []int
}

// Lists is the immutable, lookup-ready form of a ListConfig.
type Lists struct {
	shorteners     map[string]struct{}
	pathKeywords   []string
	credentialKeys map[string]struct{}
	redirectKeys   map[string]struct{}
	dangerousExt   map[string]struct{}
	documentExt    map[string]struct{}
	suspPorts      map[int]struct{}
}

// NewLists normalizes c (lower-case, trimmed, leading dots removed from
// extensions) and builds lookup sets.
func NewLists(c ListConfig) *Lists {
	kw := make([]string, 0, len(c.PathKeywords))
	seen := make(map[string]bool, len(c.PathKeywords))
	for _, k := range c.PathKeywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && !seen[k] {
			seen[k] = true
			kw = append(kw, k)
		}
	}
	ports := make(map[int]struct{}, len(c.SuspiciousPorts))
	for _, p := range c.SuspiciousPorts {
		ports[p] = struct{}{}
	}
	return &Lists{
		shorteners:     toSet(c.Shorteners, ""),
		pathKeywords:   kw,
		credentialKeys: toSet(c.CredentialKeys, ""),
		redirectKeys:   toSet(c.RedirectKeys, ""),
		dangerousExt:   toSet(c.DangerousExtensions, "."),
		documentExt:    toSet(c.DocumentExtensions, "."),
		suspPorts:      ports,
	}
}

func toSet(items []string, trimPrefix string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = strings.ToLower(strings.TrimSpace(it))
		if trimPrefix != "" {
			it = strings.TrimPrefix(it, trimPrefix)
		}
		if it != "" {
			m[it] = struct{}{}
		}
	}
	return m
}

// IsShortener reports whether host, or the registrable domain it belongs
// to, is a known URL shortener.
func (l *Lists) IsShortener(host, registrable string) bool {
	if l == nil {
		return false
	}
	if _, ok := l.shorteners[strings.TrimPrefix(host, "www.")]; ok {
		return true
	}
	_, ok := l.shorteners[registrable]
	return ok
}

// CredentialKey reports whether key names a credential field.
func (l *Lists) CredentialKey(key string) bool {
	_, ok := l.credentialKeys[strings.ToLower(key)]
	return ok
}

// RedirectKey reports whether key names a redirect target.
func (l *Lists) RedirectKey(key string) bool {
	_, ok := l.redirectKeys[strings.ToLower(key)]
	return ok
}

// DangerousExtension reports whether ext (without dot) is executable.
func (l *Lists) DangerousExtension(ext string) bool {
	_, ok := l.dangerousExt[strings.ToLower(ext)]
	return ok
}

// DocumentExtension reports whether ext (without dot) is a document type
// commonly used as a decoy.
func (l *Lists) DocumentExtension(ext string) bool {
	_, ok := l.documentExt[strings.ToLower(ext)]
	return ok
}

// SuspiciousPort reports whether port is associated with attack tooling.
func (l *Lists) SuspiciousPort(port int) bool {
	_, ok := l.suspPorts[port]
	return ok
}

// PathKeywords returns the configured keywords in configuration order.
func (l *Lists) PathKeywords() []string {
	return l.pathKeywords
}
