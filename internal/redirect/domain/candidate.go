package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// CandidateURL is a navigation destination before any rewrite decision,
// paired with the origin of the page that produced it.
type CandidateURL struct {
	Raw    string
	Origin OriginContext
}

// Resolve returns the absolute form of the candidate. Absolute URLs are
// returned unchanged (byte for byte); relative ones are resolved against base,
// which must be an absolute URL (typically the page URL, falling back to the
// origin when base is empty).
func (c CandidateURL) Resolve(base string) (string, error) {
	raw := strings.TrimSpace(c.Raw)
	if raw == "" {
		return "", ErrEmptyURL
	}
	ref, err := url.Parse(raw)
	if err != nil {
		// Browsers follow hrefs with stray '%' signs; keep absolute ones
		// verbatim and escape the stray signs in relative ones.
		if hasScheme(raw) {
			if _, ok := Hostname(raw); ok || !isHierarchical(raw) {
				return raw, nil
			}
			return "", fmt.Errorf("parse candidate %q: %w", raw, err)
		}
		if ref, err = url.Parse(escapeStrayPercent(raw)); err != nil {
			return "", fmt.Errorf("parse candidate %q: %w", raw, err)
		}
	}
	if ref.IsAbs() {
		return raw, nil
	}
	if base == "" {
		if !c.Origin.Present {
			return "", ErrNoOrigin
		}
		base = c.Origin.Value + "/"
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base %q: %w", base, err)
	}
	if !b.IsAbs() {
		return "", fmt.Errorf("base %q: %w", base, ErrNotAbsolute)
	}
	return b.ResolveReference(ref).String(), nil
}

// hasScheme reports whether s starts with an RFC 3986 scheme followed by ':'.
func hasScheme(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z':
		case i > 0 && ('0' <= c && c <= '9' || c == '+' || c == '-' || c == '.'):
		case i > 0 && c == ':':
			return true
		default:
			return false
		}
	}
	return false
}

func isHierarchical(s string) bool {
	return strings.Contains(s, "://")
}

// escapeStrayPercent turns every '%' not followed by two hex digits into "%25".
func escapeStrayPercent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && (i+2 >= len(s) || !isHex(s[i+1]) || !isHex(s[i+2])) {
			b.WriteString("%25")
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}
