package canonical

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/miekg/dns"

	"github.com/mehrguard/mehrguard/internal/script"
	"github.com/mehrguard/mehrguard/internal/suffix"
)

var (
	ErrEmpty             = errors.New("empty url")
	ErrTooLong           = errors.New("url exceeds maximum length")
	ErrDangerousScheme   = errors.New("dangerous scheme")
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	ErrInvalidHost       = errors.New("invalid host")
	ErrInvalidPort       = errors.New("invalid port")
)

var dangerousSchemes = map[string]bool{
	"javascript": true,
	"vbscript":   true,
	"data":       true,
}

// Parse canonicalizes raw. It is a pure function of its input; any error
// means the text cannot be analysed as a web URL.
func Parse(raw string) (*URL, error) {
	if len(raw) > 4*MaxURLLength {
		return nil, ErrTooLong
	}
	cleaned, ctrl := stripControl(raw)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return nil, ErrEmpty
	}
	if len(cleaned) > MaxURLLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLong, len(cleaned))
	}

	u := &URL{ControlChars: ctrl}
	u.EncodedTriplets = countTriplets(cleaned)
	u.EncodingDepth = encodingDepth(cleaned)

	s := strings.ReplaceAll(cleaned, " ", "%20")

	scheme, rest, err := splitScheme(s)
	if err != nil {
		return nil, err
	}
	u.Scheme = scheme

	end := strings.IndexAny(rest, "/?#\\")
	authority, remainder := rest, ""
	if end >= 0 {
		authority, remainder = rest[:end], rest[end:]
	}
	if at := strings.LastIndexByte(authority, '@'); at >= 0 {
		u.Userinfo = authority[:at]
		authority = authority[at+1:]
	}

	rawHost, port, bracketed, err := splitHostPort(authority)
	if err != nil {
		return nil, err
	}
	u.Port = port
	if err := u.setHost(rawHost, bracketed); err != nil {
		return nil, err
	}

	u.splitRemainder(remainder)
	return u, nil
}

// splitScheme finds the scheme and returns the text after "scheme://".
func splitScheme(s string) (scheme, rest string, err error) {
	if strings.HasPrefix(s, "//") || strings.HasPrefix(s, `\\`) {
		return "https", strings.TrimLeft(s, `/\`), nil
	}

	i := strings.IndexAny(s, ":/?#\\")
	if i <= 0 || s[i] != ':' {
		return "http", s, nil
	}
	candidate := strings.ToLower(s[:i])
	after := s[i+1:]

	if dangerousSchemes[candidate] {
		return "", "", fmt.Errorf("%w: %s", ErrDangerousScheme, candidate)
	}
	if candidate == "http" || candidate == "https" {
		return candidate, strings.TrimLeft(after, `/\`), nil
	}
	if !validSchemeToken(candidate) {
		return "http", s, nil
	}
	if strings.HasPrefix(after, "//") {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, candidate)
	}
	// "example.com:8080/..." or "localhost:3000" are host:port with no scheme.
	if after != "" && (isDigit(after[0]) || strings.ContainsRune(candidate, '.')) {
		return "http", s, nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, candidate)
}

func validSchemeToken(s string) bool {
	if s == "" || !isAlpha(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if !isAlpha(c) && !isDigit(c) && c != '+' && c != '-' && c != '.' {
			return false
		}
	}
	return true
}

func splitHostPort(authority string) (host string, port int, bracketed bool, err error) {
	portStr := ""
	if strings.HasPrefix(authority, "[") {
		closeIdx := strings.IndexByte(authority, ']')
		if closeIdx < 0 {
			return "", 0, false, fmt.Errorf("%w: unterminated ipv6 literal", ErrInvalidHost)
		}
		host = authority[1:closeIdx]
		tail := authority[closeIdx+1:]
		if tail != "" {
			if tail[0] != ':' {
				return "", 0, false, fmt.Errorf("%w: junk after ipv6 literal", ErrInvalidHost)
			}
			portStr = tail[1:]
		}
		bracketed = true
	} else {
		host = authority
		if c := strings.LastIndexByte(authority, ':'); c >= 0 {
			if strings.Count(authority, ":") > 1 {
				return "", 0, false, fmt.Errorf("%w: unbracketed ipv6 literal", ErrInvalidHost)
			}
			host, portStr = authority[:c], authority[c+1:]
		}
	}

	if portStr != "" {
		if len(portStr) > 5 {
			return "", 0, false, fmt.Errorf("%w: %q", ErrInvalidPort, portStr)
		}
		for i := 0; i < len(portStr); i++ {
			if !isDigit(portStr[i]) {
				return "", 0, false, fmt.Errorf("%w: %q", ErrInvalidPort, portStr)
			}
		}
		port, _ = strconv.Atoi(portStr)
		if port < 1 || port > 65535 {
			return "", 0, false, fmt.Errorf("%w: %d", ErrInvalidPort, port)
		}
	}
	return host, port, bracketed, nil
}

func (u *URL) setHost(raw string, bracketed bool) error {
	host := raw
	if strings.IndexByte(host, '%') >= 0 {
		decoded, err := url.PathUnescape(host)
		if err != nil {
			return fmt.Errorf("%w: bad escape", ErrInvalidHost)
		}
		u.EncodedHost = decoded != host
		host = decoded
	}
	if !utf8.ValidString(host) {
		return fmt.Errorf("%w: not utf-8", ErrInvalidHost)
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")

	if bracketed {
		addr, err := netip.ParseAddr(host)
		if err != nil || !addr.Is6() {
			return fmt.Errorf("%w: %q", ErrInvalidHost, host)
		}
		u.Host, u.IP, u.IsIP = addr.String(), addr, true
		u.Script = script.Result{ASCII: u.Host, Risk: script.LevelNone}
		return nil
	}

	u.Script = script.Analyze(host)
	host, _ = script.StripInvisible(host)
	if host == "" || len(host) > MaxHostLength {
		return fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.Is6() {
			return fmt.Errorf("%w: unbracketed ipv6 literal", ErrInvalidHost)
		}
		u.Host, u.IP, u.IsIP = addr.String(), addr, true
		return nil
	}
	if addr, ok := parseLooseIPv4(host); ok {
		u.Host, u.IP, u.IsIP, u.IsObfuscatedIP = host, addr, true, true
		return nil
	}

	ascii := u.Script.ASCII
	if ascii == "" || u.Script.Malformed {
		ascii = host
	}
	if !validHostname(ascii) {
		return fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}
	u.Host = ascii
	u.Suffix = suffix.Resolve(ascii)
	return nil
}

// validHostname accepts LDH labels (plus underscore, which real hosts
// carry) that also pass DNS length rules.
func validHostname(h string) bool {
	if h == "" || len(h) > MaxHostLength {
		return false
	}
	for _, label := range strings.Split(h, ".") {
		if label == "" {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if !isAlpha(c) && !isDigit(c) && c != '-' && c != '_' {
				return false
			}
		}
	}
	_, ok := dns.IsDomainName(h)
	return ok
}

func (u *URL) splitRemainder(rem string) {
	if i := strings.IndexByte(rem, '#'); i >= 0 {
		u.Fragment = u.truncate(rem[i+1:], MaxFragmentLength)
		rem = rem[:i]
	}
	if i := strings.IndexByte(rem, '?'); i >= 0 {
		u.RawQuery = u.truncate(rem[i+1:], MaxQueryLength)
		rem = rem[:i]
	}
	path := strings.ReplaceAll(rem, `\`, "/")
	if path == "" {
		path = "/"
	}
	u.Path = u.truncate(path, MaxPathLength)
	u.Params = parseParams(u.RawQuery)
}

func (u *URL) truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	u.Truncated = true
	s = s[:limit]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

func parseParams(rawQuery string) []Param {
	if rawQuery == "" {
		return nil
	}
	var params []Param
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		if len(params) == MaxParams {
			break
		}
		key, value, _ := strings.Cut(part, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		params = append(params, Param{Key: key, Value: value})
	}
	return params
}

// stripControl removes C0, DEL and C1 control characters along with
// invalid UTF-8, returning how many were dropped. Tabs and newlines count.
func stripControl(s string) (string, int) {
	n := 0
	if !utf8.ValidString(s) {
		fixed := strings.ToValidUTF8(s, "")
		n += len(s) - len(fixed)
		s = fixed
	}
	out := strings.Map(func(r rune) rune {
		if isControl(r) {
			n++
			return -1
		}
		return r
	}, s)
	return out, n
}

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f || (r >= 0x80 && r <= 0x9f)
}

func isAlpha(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }
