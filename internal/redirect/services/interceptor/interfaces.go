package interceptor

import (
	"context"

	"github.com/haukened/privacy-redirect/internal/redirect/domain"
)

// AllowList reports whether a URL's host is known to break without a referrer.
type AllowList interface {
	IsAllowed(rawURL string) bool
}

// LoopGuard remembers URLs that were just rewritten.
type LoopGuard interface {
	Seen(url string) bool
	MarkSeen(url string)
}

// Rewriter is the rewrite policy.
type Rewriter interface {
	Decide(rawURL string, origin domain.OriginContext) domain.RewriteResult
}

// Handler is what navigation sources deliver events to. *Interceptor
// satisfies it.
type Handler interface {
	HandleNavigation(ctx context.Context, req domain.NavigationRequest) domain.NavigationDecision
	HandleClick(ctx context.Context, c ClickCandidate) domain.RewriteResult
}

// NavigationSource is an adapter that turns platform events (browser request
// descriptors, anchor clicks) into Handler calls.
type NavigationSource interface {
	// Name identifies the source in logs and stats.
	Name() string
}

// ClickCandidate is an anchor destination, already resolved to an absolute
// URL, together with the origin of the page it was clicked on.
type ClickCandidate struct {
	URL    string
	Origin domain.OriginContext
	// Source names the NavigationSource that delivered the click; it is
	// carried into logs.
	Source string
}
