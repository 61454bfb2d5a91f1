package domain

import (
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// Hostname returns the lower-cased ASCII (punycode) host of an absolute URL.
//
// Browsers accept URLs that net/url rejects, such as a stray '%' in the path.
// When parsing fails the host is cut out of the authority directly, so such
// URLs still have a host. ok is false when no usable host exists.
func Hostname(rawURL string) (string, bool) {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Hostname()
	} else {
		host = authorityHost(rawURL)
	}
	if host == "" || !validHost(host) {
		return "", false
	}
	return CanonicalHost(host), true
}

// CanonicalHost lower-cases s and converts internationalized labels to their
// punycode form, which is what browsers report as the hostname. Input that is
// not a valid IDN is only lower-cased.
func CanonicalHost(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if isASCII(s) {
		return s
	}
	if a, err := idna.Lookup.ToASCII(s); err == nil {
		return a
	}
	return s
}

// authorityHost extracts the host between "//" and the next '/', '?', '#'
// or '\', dropping userinfo and port.
func authorityHost(raw string) string {
	_, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return ""
	}
	if i := strings.IndexAny(rest, "/?#\\"); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.LastIndexByte(rest, '@'); i >= 0 {
		rest = rest[i+1:]
	}
	if strings.HasPrefix(rest, "[") {
		if i := strings.IndexByte(rest, ']'); i > 0 {
			return rest[1:i]
		}
		return ""
	}
	if i := strings.LastIndexByte(rest, ':'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// validHost rejects hosts a browser would refuse: whitespace and control characters.
func validHost(h string) bool {
	for i := 0; i < len(h); i++ {
		if h[i] <= ' ' || h[i] == 0x7f {
			return false
		}
	}
	return true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// HasQuery reports whether rawURL carries a non-empty query string, judged on
// the raw text so URLs net/url rejects are handled too. "?" alone is empty.
func HasQuery(rawURL string) bool {
	s, _, _ := strings.Cut(rawURL, "#")
	_, q, ok := strings.Cut(s, "?")
	return ok && q != ""
}
