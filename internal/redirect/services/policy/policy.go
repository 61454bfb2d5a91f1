// Package policy decides whether a navigation URL is rerouted through the
// privacy redirect service. The decision is a pure function of the URL, the
// originating page and the current internal-redirect rules.
package policy

import (
	"fmt"
	"strings"

	"github.com/haukened/privacy-redirect/internal/redirect/common/log"
	"github.com/haukened/privacy-redirect/internal/redirect/domain"
)

// RuleMatcher reports whether any internal-redirect rule matches a raw URL.
type RuleMatcher interface {
	MatchesInternalRedirect(rawURL string) bool
}

// Policy is the URL rewrite policy. It is safe for concurrent use.
type Policy struct {
	prefix string
	rules  RuleMatcher
	logger log.Logger
}

// Prefix builds the redirect-service prefix "{server}/?" for a server base URL.
func Prefix(server string) string {
	return strings.TrimRight(server, "/") + "/?"
}

// New constructs a Policy for the given server base URL. rules may be nil, in
// which case same-origin URLs are never rewritten.
func New(server string, rules RuleMatcher, logger log.Logger) *Policy {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Policy{prefix: Prefix(server), rules: rules, logger: logger}
}

// ServicePrefix returns the prefix prepended to rewritten URLs.
func (p *Policy) ServicePrefix() string { return p.prefix }

// Decide computes the rewrite for rawURL navigated from origin.
//
// Order: already wrapped → non-HTTP(S) → no usable host → cross-origin (rewrite) →
// same-origin with query and a matching internal-redirect rule (rewrite) →
// unchanged. Faults never escape: they are logged and yield Unchanged.
func (p *Policy) Decide(rawURL string, origin domain.OriginContext) (res domain.RewriteResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(map[string]any{"url": rawURL, "origin": origin.String(), "panic": fmt.Sprint(r)}, "rewrite decision panicked")
			res = domain.Unchanged()
		}
	}()

	if strings.HasPrefix(rawURL, p.prefix) {
		return domain.Unchanged()
	}
	if !hasHTTPScheme(rawURL) {
		return domain.Unchanged()
	}
	if _, ok := domain.Hostname(rawURL); !ok {
		p.logger.Warn(map[string]any{"url": rawURL}, "candidate url has no usable host")
		return domain.Unchanged()
	}

	res = p.decide(rawURL, origin)
	if res.IsRewritten() {
		return res
	}
	if domain.HasQuery(rawURL) && p.rules != nil && p.rules.MatchesInternalRedirect(rawURL) {
		p.logger.Debug(map[string]any{"url": rawURL}, "internal redirect rule matched")
		return p.decide(rawURL, domain.NoOrigin())
	}
	return domain.Unchanged()
}

// decide applies the origin comparison only. The caller has already checked the
// prefix and scheme.
func (p *Policy) decide(rawURL string, origin domain.OriginContext) domain.RewriteResult {
	if origin.Contains(rawURL) {
		return domain.Unchanged()
	}
	return domain.Rewritten(p.prefix + rawURL)
}

func hasHTTPScheme(s string) bool {
	return hasPrefixFold(s, "http://") || hasPrefixFold(s, "https://")
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
