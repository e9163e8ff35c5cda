package canonical

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/mehrguard/mehrguard/internal/script"
)

// maxNormalizeRounds bounds Normalize on pathological input. Every round
// that changes the string removes at least one character, so real input
// settles in far fewer.
const maxNormalizeRounds = 64

// Normalize is the adversarial-defense normalizer. It removes control and
// invisible characters, percent-decodes until nothing changes, and applies
// NFKC. The result is a fixed point: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	for i := 0; i < maxNormalizeRounds; i++ {
		next, _ := stripControl(s)
		next, _ = script.StripInvisible(next)
		next = decodeAll(next)
		next = norm.NFKC.String(next)
		if next == s {
			return s
		}
		s = next
	}
	return s
}

// decodeOnce decodes every valid %XX triplet in s, leaving malformed ones
// as written. It reports whether anything was decoded.
func decodeOnce(s string) (string, bool) {
	if strings.IndexByte(s, '%') < 0 {
		return s, false
	}
	var b strings.Builder
	b.Grow(len(s))
	changed := false
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			changed = true
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String(), changed
}

func decodeAll(s string) string {
	for {
		next, changed := decodeOnce(s)
		if !changed {
			return s
		}
		s = next
	}
}

// encodingDepth counts how many decode passes change s, capped at 8.
// A depth of two or more means some content was encoded twice.
func encodingDepth(s string) int {
	depth := 0
	for depth < 8 {
		next, changed := decodeOnce(s)
		if !changed {
			break
		}
		depth++
		s = next
	}
	return depth
}

// countTriplets counts the well-formed %XX sequences in s.
func countTriplets(s string) int {
	n := 0
	for i := 0; i+2 < len(s); i++ {
		if s[i] == '%' && isHex(s[i+1]) && isHex(s[i+2]) {
			n++
			i += 2
		}
	}
	return n
}

func isHex(c byte) bool {
	return isDigit(c) || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case isDigit(c):
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
