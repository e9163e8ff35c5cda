package suffix

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		host        string
		registrable string
		etld        string
		subs        []string
		label       string
	}{
		{"www.google.com", "google.com", "com", []string{"www"}, "google"},
		{"google.com", "google.com", "com", nil, "google"},
		{"a.b.example.co.uk", "example.co.uk", "co.uk", []string{"a", "b"}, "example"},
		{"paypal.attacker.tk", "attacker.tk", "tk", []string{"paypal"}, "attacker"},
		{"login.example.unknowntld", "example.unknowntld", "unknowntld", []string{"login"}, "example"},
		{"example.com.", "example.com", "com", nil, "example"},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			r := Resolve(tt.host)
			assert.Equal(t, tt.registrable, r.RegistrableDomain)
			assert.Equal(t, tt.etld, r.EffectiveTLD)
			assert.Equal(t, tt.subs, r.Subdomains)
			assert.Equal(t, tt.label, r.Label())
		})
	}
}

func TestResolveNoRegistrableDomain(t *testing.T) {
	for _, host := range []string{"", "192.168.1.1", "[::1]", "::1", "localhost", "co.uk"} {
		t.Run(host, func(t *testing.T) {
			r := Resolve(host)
			assert.Empty(t, r.RegistrableDomain)
			assert.Empty(t, r.Subdomains)
		})
	}
}

func TestTLD(t *testing.T) {
	assert.Equal(t, "uk", Resolve("example.co.uk").TLD())
	assert.Equal(t, "com", Resolve("example.com").TLD())
	assert.Equal(t, "", Resolve("10.0.0.1").TLD())
}
