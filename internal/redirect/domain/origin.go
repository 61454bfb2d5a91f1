package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrEmptyURL is returned when an empty string is given where a URL is required.
	ErrEmptyURL = errors.New("empty url")
	// ErrNotAbsolute is returned when a URL lacks a scheme or host.
	ErrNotAbsolute = errors.New("url is not absolute")
	// ErrNoOrigin is returned when a relative URL has no origin to resolve against.
	ErrNoOrigin = errors.New("no origin to resolve against")
)

// OriginContext is the origin of the page or tab that produced a navigation.
// The zero value means "no referring origin" and is always treated as cross-origin.
type OriginContext struct {
	Value   string // scheme://host[:port], no trailing slash
	Present bool
}

// NewOrigin wraps an origin string as-is.
func NewOrigin(s string) OriginContext {
	return OriginContext{Value: s, Present: true}
}

// NoOrigin returns the absent origin.
func NoOrigin() OriginContext { return OriginContext{} }

// ParseOrigin reduces an absolute URL to its origin (scheme://host[:port]).
// The host keeps the case it was given; only the scheme is lower-cased, the way
// browsers serialize it.
func ParseOrigin(raw string) (OriginContext, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return NoOrigin(), ErrEmptyURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return NoOrigin(), fmt.Errorf("parse origin %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return NoOrigin(), fmt.Errorf("origin %q: %w", raw, ErrNotAbsolute)
	}
	return NewOrigin(strings.ToLower(u.Scheme) + "://" + u.Host), nil
}

// String returns the origin value or "null" when absent.
func (o OriginContext) String() string {
	if !o.Present {
		return "null"
	}
	return o.Value
}

// Contains reports whether rawURL byte-prefix-matches this origin. An absent
// origin contains nothing.
func (o OriginContext) Contains(rawURL string) bool {
	return o.Present && strings.HasPrefix(rawURL, o.Value)
}
