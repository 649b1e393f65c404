// Package identifier classifies the single opaque string the freshly
// installed app recovers from the store referrer channel. The channel
// routinely truncates or rewrites the value, so resolution needs to know
// whether the caller handed it a full reference (UUID-shaped) or only the
// short fallback code — without a second store round-trip to find out.
package identifier

import (
	"strings"

	"github.com/google/uuid"
)

// ShortCodeLen is the fixed length of attribution short codes.
const ShortCodeLen = 8

// Kind is the result of classifying a caller-supplied identifier.
type Kind int

const (
	// KindUnknown means the string matches neither shape; resolution may
	// only proceed via the recency or IP fallbacks.
	KindUnknown Kind = iota
	// KindReference is a full UUID-shaped attribution reference.
	KindReference
	// KindShortCode is a fixed-length uppercase+digit fallback code.
	KindShortCode
)

// Classify inspects s (after trimming surrounding whitespace) and reports
// which claim key it plausibly is. Short codes are matched
// case-insensitively because some store channels lowercase query values;
// use Canonical for the lookup value.
func Classify(s string) Kind {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return KindUnknown
	case isReference(s):
		return KindReference
	case isShortCode(s):
		return KindShortCode
	default:
		return KindUnknown
	}
}

// Canonical returns the form of s used for store lookups: trimmed, and
// uppercased when it classifies as a short code. References are returned
// lowercased in the canonical UUID text form.
func Canonical(s string) string {
	s = strings.TrimSpace(s)
	switch Classify(s) {
	case KindReference:
		u, err := uuid.Parse(s)
		if err != nil {
			return s
		}
		return u.String()
	case KindShortCode:
		return strings.ToUpper(s)
	default:
		return s
	}
}

// isReference reports whether s parses as a canonical 36-char UUID. The
// length gate rejects the hex and URN forms uuid.Parse would accept, which
// never appear in store referrer strings.
func isReference(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// isShortCode reports whether s is exactly ShortCodeLen characters drawn
// from A-Z, a-z, 0-9.
func isShortCode(s string) bool {
	if len(s) != ShortCodeLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
