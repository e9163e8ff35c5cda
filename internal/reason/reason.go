// Package reason defines the closed vocabulary of risk signals reported by the
// engine. Identifiers are persisted and compared across platforms, so they
// are never renamed or reused.
package reason

import (
	"fmt"
	"strings"
)

// Severity indicates how serious a signal is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Weight returns a numeric weight for severity ordering.
// Higher values indicate more severe signals.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	case SeverityInfo:
		return 0
	default:
		return 5 // unknown severities fail closed (stricter than critical)
	}
}

// Band returns the inclusive range of nominal points a code of this
// severity may contribute.
func (s Severity) Band() (lo, hi int) {
	switch s {
	case SeverityCritical:
		return 40, 50
	case SeverityHigh:
		return 20, 30
	case SeverityMedium:
		return 10, 20
	case SeverityLow:
		return 5, 10
	default:
		return 0, 0
	}
}

// Category groups codes by the component that raises them.
type Category string

const (
	CategoryInput       Category = "input"
	CategoryTransport   Category = "transport"
	CategoryHost        Category = "host"
	CategoryLength      Category = "length"
	CategoryCredential  Category = "credential"
	CategoryShortener   Category = "shortener"
	CategoryFile        Category = "file"
	CategoryObfuscation Category = "obfuscation"
	CategoryRedirect    Category = "redirect"
	CategoryFragment    Category = "fragment"
	CategoryScript      Category = "script"
	CategoryBrand       Category = "brand"
	CategoryTLD         Category = "tld"
	CategoryML          Category = "ml"
)

// Code is a stable reason identifier.
type Code string

const (
	Unparseable Code = "UNPARSEABLE"

	HTTPNotHTTPS    Code = "HTTP_NOT_HTTPS"
	SuspiciousPort  Code = "SUSPICIOUS_PORT"
	NonStandardPort Code = "NON_STANDARD_PORT"

	IPHost              Code = "IP_HOST"
	ObfuscatedIP        Code = "OBFUSCATED_IP"
	ExcessiveSubdomains Code = "EXCESSIVE_SUBDOMAINS"
	EmbeddedDomain      Code = "EMBEDDED_DOMAIN"
	HighEntropyHost     Code = "HIGH_ENTROPY_HOST"
	ExcessiveHyphens    Code = "EXCESSIVE_HYPHENS"

	LongURL Code = "LONG_URL"

	AtSymbolInjection     Code = "AT_SYMBOL_INJECTION"
	CredentialParams      Code = "CREDENTIAL_PARAMS"
	SuspiciousPathKeyword Code = "SUSPICIOUS_PATH_KEYWORD"

	URLShortener Code = "URL_SHORTENER"

	DangerousExtension Code = "DANGEROUS_EXTENSION"
	DoubleExtension    Code = "DOUBLE_EXTENSION"

	ExcessiveEncoding Code = "EXCESSIVE_ENCODING"
	DoubleEncoding    Code = "DOUBLE_ENCODING"
	EncodedHost       Code = "ENCODED_HOST"
	ControlCharacters Code = "CONTROL_CHARACTERS"

	RedirectParam Code = "REDIRECT_PARAM"

	FragmentSmuggling Code = "FRAGMENT_SMUGGLING"

	Punycode       Code = "PUNYCODE"
	MixedScript    Code = "MIXED_SCRIPT"
	Homograph      Code = "HOMOGRAPH"
	ZeroWidthChars Code = "ZERO_WIDTH_CHARS"

	BrandImpersonation Code = "BRAND_IMPERSONATION"
	Typosquatting      Code = "TYPOSQUATTING"
	BrandInDomain      Code = "BRAND_IN_DOMAIN"

	SuspiciousTLD Code = "SUSPICIOUS_TLD"

	MLHighRisk Code = "ML_HIGH_RISK"
)

// Info is the static metadata attached to a code.
type Info struct {
	Code        Code     `json:"code"`
	Severity    Severity `json:"severity"`
	Category    Category `json:"category"`
	Points      int      `json:"points"`
	Title       string   `json:"title"`
	Explanation string   `json:"explanation"`
}

// catalog is ordered; All returns it in this order.
var catalog = []Info{
	{Unparseable, SeverityInfo, CategoryInput, 0, "Unparseable URL",
		"The text could not be read as a web address, or it uses a scheme that can run code instead of opening a page."},

	{HTTPNotHTTPS, SeverityMedium, CategoryTransport, 15, "Unencrypted connection",
		"The link uses plain HTTP, so anything you type can be read or changed in transit."},
	{SuspiciousPort, SeverityHigh, CategoryTransport, 25, "Attack-associated port",
		"The link points at a network port commonly used by remote-access tools or malware rather than web sites."},
	{NonStandardPort, SeverityLow, CategoryTransport, 10, "Non-standard port",
		"The link points at an unusual network port, which legitimate public sites rarely use."},

	{IPHost, SeverityHigh, CategoryHost, 30, "IP address instead of domain",
		"The link uses a raw IP address, hiding who operates the site."},
	{ObfuscatedIP, SeverityCritical, CategoryHost, 45, "Obfuscated IP address",
		"The IP address is written in decimal, hexadecimal or octal form to disguise it, a common phishing trick."},
	{ExcessiveSubdomains, SeverityMedium, CategoryHost, 15, "Excessive subdomains",
		"The address is stacked with many subdomains, often used to push the real domain out of view."},
	{EmbeddedDomain, SeverityHigh, CategoryHost, 25, "Domain embedded in subdomain",
		"A second domain name appears inside the subdomains, making the link look like it belongs to another site."},
	{HighEntropyHost, SeverityMedium, CategoryHost, 15, "Random-looking host",
		"The host name looks randomly generated, typical of throwaway malicious domains."},
	{ExcessiveHyphens, SeverityLow, CategoryHost, 10, "Hyphen-stuffed domain",
		"The domain strings several words together with hyphens, a pattern used to mimic trusted names."},

	{LongURL, SeverityLow, CategoryLength, 10, "Very long URL",
		"The link is unusually long, which can hide its true destination."},

	{AtSymbolInjection, SeverityCritical, CategoryCredential, 45, "@ symbol injection",
		"Everything before the @ sign is ignored by the browser; the link really goes to the host after it."},
	{CredentialParams, SeverityHigh, CategoryCredential, 25, "Credential parameters",
		"The link carries password, token or card fields in its query string."},
	{SuspiciousPathKeyword, SeverityMedium, CategoryCredential, 15, "Sensitive action keywords",
		"The page path mentions login, verification or account updates, typical of credential-harvesting pages."},

	{URLShortener, SeverityHigh, CategoryShortener, 30, "Shortened link",
		"The link goes through a URL shortener, so its real destination is hidden until you open it."},

	{DangerousExtension, SeverityHigh, CategoryFile, 30, "Executable download",
		"The link downloads a file type that can install software or run code."},
	{DoubleExtension, SeverityCritical, CategoryFile, 45, "Double file extension",
		"The file name disguises an executable behind a harmless-looking extension such as .pdf."},

	{ExcessiveEncoding, SeverityMedium, CategoryObfuscation, 15, "Heavy percent-encoding",
		"Large parts of the link are percent-encoded, which hides what it contains."},
	{DoubleEncoding, SeverityHigh, CategoryObfuscation, 25, "Double encoding",
		"The link is encoded more than once, a technique used to slip past filters."},
	{EncodedHost, SeverityHigh, CategoryObfuscation, 25, "Encoded host name",
		"The host name itself is percent-encoded, which legitimate links never need."},
	{ControlCharacters, SeverityMedium, CategoryObfuscation, 10, "Hidden control characters",
		"The text contained invisible control characters that were removed before analysis."},

	{RedirectParam, SeverityMedium, CategoryRedirect, 15, "Open redirect parameter",
		"The link carries another URL as a redirect target, so you may end up somewhere else."},

	{FragmentSmuggling, SeverityMedium, CategoryFragment, 15, "Smuggled fragment content",
		"The part after # carries a URL, script or credentials instead of a page anchor."},

	{Punycode, SeverityHigh, CategoryScript, 20, "Punycode domain",
		"The domain is internationalized (xn--); what you see may differ from the letters you expect."},
	{MixedScript, SeverityHigh, CategoryScript, 25, "Mixed alphabets",
		"The domain mixes letters from different alphabets, for example Latin and Cyrillic."},
	{Homograph, SeverityCritical, CategoryScript, 45, "Look-alike characters",
		"The domain uses characters that look identical to ordinary letters to impersonate another name."},
	{ZeroWidthChars, SeverityCritical, CategoryScript, 40, "Invisible characters",
		"The host contains zero-width or invisible characters meant to defeat visual checks."},

	{BrandImpersonation, SeverityCritical, CategoryBrand, 45, "Brand impersonation",
		"A well-known brand name appears in the subdomain of a domain that brand does not own."},
	{Typosquatting, SeverityCritical, CategoryBrand, 45, "Typosquatted brand",
		"The domain is a misspelling or character swap of a well-known brand."},
	{BrandInDomain, SeverityHigh, CategoryBrand, 30, "Brand name in unofficial domain",
		"The domain combines a well-known brand with extra words but is not owned by that brand."},

	{SuspiciousTLD, SeverityMedium, CategoryTLD, 15, "High-abuse top-level domain",
		"The domain ending is frequently used for free or throwaway malicious sites."},

	{MLHighRisk, SeverityInfo, CategoryML, 0, "Model risk",
		"The statistical model rates the overall shape of this link as high risk."},
}

var byCode = func() map[Code]Info {
	m := make(map[Code]Info, len(catalog))
	for _, info := range catalog {
		if _, dup := m[info.Code]; dup {
			panic(fmt.Sprintf("reason: duplicate code %s", info.Code))
		}
		m[info.Code] = info
	}
	return m
}()

// All returns every known code's metadata in catalog order.
func All() []Info {
	out := make([]Info, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns the metadata for c.
func Lookup(c Code) (Info, bool) {
	info, ok := byCode[c]
	return info, ok
}

// Parse resolves a stable identifier, accepting any letter case.
func Parse(s string) (Code, error) {
	c := Code(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := byCode[c]; !ok {
		return "", fmt.Errorf("unknown reason code %q", s)
	}
	return c, nil
}

// String returns the stable identifier.
func (c Code) String() string { return string(c) }

// Severity returns the code's static severity. Unknown codes report
// SeverityInfo.
func (c Code) Severity() Severity {
	if info, ok := byCode[c]; ok {
		return info.Severity
	}
	return SeverityInfo
}

// Points returns the nominal score contribution of the code.
func (c Code) Points() int {
	return byCode[c].Points
}

// Critical reports whether c forces a malicious verdict.
func (c Code) Critical() bool {
	return c.Severity() == SeverityCritical
}

// HighestSeverity returns the most severe severity among codes, or
// SeverityInfo for an empty list.
func HighestSeverity(codes []Code) Severity {
	highest := SeverityInfo
	for _, c := range codes {
		if s := c.Severity(); s.Weight() > highest.Weight() {
			highest = s
		}
	}
	return highest
}
