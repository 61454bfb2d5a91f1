// Package interceptor adapts interception events into rewrite decisions.
//
// Both entry points recover every fault at the boundary and fail open: a
// problem here yields "no redirect", never a blocked navigation.
package interceptor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/haukened/privacy-redirect/internal/redirect/common/log"
	"github.com/haukened/privacy-redirect/internal/redirect/domain"
)

// SkipReason names why a navigation was let through unchanged.
type SkipReason string

const (
	SkipMethod      SkipReason = "method"
	SkipResource    SkipReason = "resource_type"
	SkipSubResource SkipReason = "sub_resource"
	SkipSelf        SkipReason = "self"
	SkipAllowList   SkipReason = "allow_list"
	SkipLoopGuard   SkipReason = "loop_guard"
	SkipUnchanged   SkipReason = "unchanged"
	SkipFault       SkipReason = "fault"
)

// ErrNoPolicy is returned by New when Options.Policy is nil.
var ErrNoPolicy = errors.New("interceptor: policy is required")

var skipReasons = []SkipReason{
	SkipMethod, SkipResource, SkipSubResource, SkipSelf,
	SkipAllowList, SkipLoopGuard, SkipUnchanged, SkipFault,
}

// Options configures an Interceptor. Policy is required; AllowList and
// LoopGuard may be nil to disable their checks.
type Options struct {
	Policy    Rewriter
	AllowList AllowList
	LoopGuard LoopGuard
	Logger    log.Logger
	// Server is the redirect service base URL; navigations originating
	// from it are never rewritten.
	Server string
	// ClickChecks applies the allow-list and loop-guard checks to clicks too.
	ClickChecks bool
}

// Stats reports cumulative interceptor counters.
type Stats struct {
	Navigations   uint64            `json:"navigations"`
	Redirects     uint64            `json:"redirects"`
	Skips         map[string]uint64 `json:"skips"`
	Clicks        uint64            `json:"clicks"`
	ClickRewrites uint64            `json:"click_rewrites"`
	Faults        uint64            `json:"faults"`
}

// Interceptor runs the navigation-request and click paths against one policy.
type Interceptor struct {
	policy      Rewriter
	allow       AllowList
	guard       LoopGuard
	logger      log.Logger
	server      string
	clickChecks bool

	navigations   atomic.Uint64
	redirects     atomic.Uint64
	clicks        atomic.Uint64
	clickRewrites atomic.Uint64
	faults        atomic.Uint64
	skips         map[SkipReason]*atomic.Uint64
}

// New constructs an Interceptor.
func New(opts Options) (*Interceptor, error) {
	if opts.Policy == nil {
		return nil, ErrNoPolicy
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	skips := make(map[SkipReason]*atomic.Uint64, len(skipReasons))
	for _, r := range skipReasons {
		skips[r] = new(atomic.Uint64)
	}
	return &Interceptor{
		policy:      opts.Policy,
		allow:       opts.AllowList,
		guard:       opts.LoopGuard,
		logger:      opts.Logger,
		server:      strings.TrimRight(opts.Server, "/"),
		clickChecks: opts.ClickChecks,
		skips:       skips,
	}, nil
}

// HandleNavigation decides whether a browser navigation request is redirected.
// Checks run in order: GET only, frame navigations only, no sub-resources or
// requests from the redirect service itself, allow list, loop guard, policy.
func (i *Interceptor) HandleNavigation(ctx context.Context, req domain.NavigationRequest) (dec domain.NavigationDecision) {
	i.navigations.Add(1)
	defer func() {
		if r := recover(); r != nil {
			i.fault(map[string]any{"url": req.URL}, fmt.Errorf("panic: %v", r))
			dec = domain.AllowNavigation()
		}
	}()

	if !req.IsGet() {
		return i.skip(SkipMethod)
	}
	if !req.ResourceType.IsNavigation() {
		return i.skip(SkipResource)
	}
	if req.DocumentURL != "" {
		return i.skip(SkipSubResource)
	}
	if i.server != "" && strings.HasPrefix(req.Referrer(), i.server) {
		return i.skip(SkipSelf)
	}
	if i.allow != nil && i.allow.IsAllowed(req.URL) {
		i.logger.Debug(map[string]any{"url": req.URL}, "skipping allow-listed url")
		return i.skip(SkipAllowList)
	}
	if i.guard != nil && i.guard.Seen(req.URL) {
		i.logger.Debug(map[string]any{"url": req.URL}, "skipping recently processed url")
		return i.skip(SkipLoopGuard)
	}

	origin, err := req.Origin()
	if err != nil {
		i.fault(map[string]any{"url": req.URL}, err)
		return domain.AllowNavigation()
	}
	res := i.policy.Decide(req.URL, origin)
	if !res.IsRewritten() {
		return i.skip(SkipUnchanged)
	}
	if i.guard != nil {
		i.guard.MarkSeen(req.URL)
	}
	i.redirects.Add(1)
	redirect := res.URL(req.URL)
	i.logger.Debug(map[string]any{"url": req.URL, "redirect": redirect, "origin": origin.String()}, "redirecting navigation")
	return domain.RedirectTo(redirect)
}

// HandleClick decides whether an anchor's destination is rewritten. Unless
// ClickChecks is set, the allow list and loop guard are not consulted.
func (i *Interceptor) HandleClick(ctx context.Context, c ClickCandidate) (res domain.RewriteResult) {
	i.clicks.Add(1)
	defer func() {
		if r := recover(); r != nil {
			i.fault(map[string]any{"url": c.URL, "source": c.Source}, fmt.Errorf("panic: %v", r))
			res = domain.Unchanged()
		}
	}()

	if i.clickChecks {
		if i.allow != nil && i.allow.IsAllowed(c.URL) {
			i.logger.Debug(map[string]any{"url": c.URL, "source": c.Source}, "skipping allow-listed click")
			return domain.Unchanged()
		}
		if i.guard != nil && i.guard.Seen(c.URL) {
			i.logger.Debug(map[string]any{"url": c.URL, "source": c.Source}, "skipping recently processed click")
			return domain.Unchanged()
		}
	}
	res = i.policy.Decide(c.URL, c.Origin)
	if res.IsRewritten() {
		if i.clickChecks && i.guard != nil {
			i.guard.MarkSeen(c.URL)
		}
		i.clickRewrites.Add(1)
		i.logger.Debug(map[string]any{"url": c.URL, "rewritten": res.URL(c.URL), "source": c.Source}, "rewriting click")
	}
	return res
}

// Stats returns the current counters.
func (i *Interceptor) Stats() Stats {
	skips := make(map[string]uint64, len(i.skips))
	for r, n := range i.skips {
		skips[string(r)] = n.Load()
	}
	return Stats{
		Navigations:   i.navigations.Load(),
		Redirects:     i.redirects.Load(),
		Skips:         skips,
		Clicks:        i.clicks.Load(),
		ClickRewrites: i.clickRewrites.Load(),
		Faults:        i.faults.Load(),
	}
}

func (i *Interceptor) skip(r SkipReason) domain.NavigationDecision {
	i.skips[r].Add(1)
	return domain.AllowNavigation()
}

func (i *Interceptor) fault(fields map[string]any, err error) {
	i.faults.Add(1)
	i.skips[SkipFault].Add(1)
	fields["error"] = err.Error()
	i.logger.Warn(fields, "handle error")
}

var _ Handler = (*Interceptor)(nil)
