package allowlist

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/haukened/privacy-redirect/internal/redirect/domain"
)

// snapshot is an immutable view of one allow-list generation. It is never
// modified after construction; the store swaps whole snapshots.
type snapshot struct {
	hosts       []string
	rules       []*regexp2.Regexp
	ruleSources []string
	version     uint64
	updatedUnix int64
}

var emptySnapshot = &snapshot{}

// buildSnapshot sanitizes hosts and compiles every rule. A single rule that
// fails to compile rejects the whole payload.
func buildSnapshot(p domain.AllowListPayload, matchTimeout time.Duration, version uint64, updatedUnix int64) (*snapshot, error) {
	rules := make([]*regexp2.Regexp, 0, len(p.InternalRedirects))
	sources := make([]string, 0, len(p.InternalRedirects))
	for i, src := range p.InternalRedirects {
		re, err := regexp2.Compile(src, regexp2.ECMAScript)
		if err != nil {
			return nil, fmt.Errorf("internal_redirect[%d] %q: %w", i, src, err)
		}
		if matchTimeout > 0 {
			re.MatchTimeout = matchTimeout
		}
		rules = append(rules, re)
		sources = append(sources, src)
	}
	return &snapshot{
		hosts:       normalizeHosts(p.Hosts),
		rules:       rules,
		ruleSources: sources,
		version:     version,
		updatedUnix: updatedUnix,
	}, nil
}

// normalizeHosts canonicalizes entries the way hosts are (lower-cased,
// punycode), drops blanks since an empty substring would allow every host, and
// de-duplicates in first-seen order.
func normalizeHosts(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, h := range in {
		h = domain.CanonicalHost(h)
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

func (s *snapshot) payload() domain.AllowListPayload {
	hosts := make([]string, len(s.hosts))
	copy(hosts, s.hosts)
	rules := make([]string, len(s.ruleSources))
	copy(rules, s.ruleSources)
	return domain.AllowListPayload{Hosts: hosts, InternalRedirects: rules}
}

// allows reports whether hostname (already lower-cased) contains any entry.
func (s *snapshot) allows(hostname string) (string, bool) {
	for _, h := range s.hosts {
		if strings.Contains(hostname, h) {
			return h, true
		}
	}
	return "", false
}
