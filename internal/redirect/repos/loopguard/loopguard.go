// Package loopguard suppresses immediate re-processing of a URL that was just
// rewritten, which would otherwise loop when the redirect re-triggers
// interception for the same URL.
//
// The membership set is cleared wholesale every window; there is no per-entry
// TTL. A URL marked just before a purge is forgotten almost at once, one marked
// just after is remembered for nearly the full window.
package loopguard

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/privacy-redirect/internal/redirect/common/clock"
	"github.com/haukened/privacy-redirect/internal/redirect/common/log"
)

const (
	// DefaultWindow is the bulk purge interval.
	DefaultWindow = 2 * time.Second
	// DefaultCapacity bounds the set between purges.
	DefaultCapacity = 10000
)

// Options configures a Guard. Zero values take the defaults.
type Options struct {
	Capacity int
	Window   time.Duration
	Clock    clock.Clock
	Logger   log.Logger
}

// Stats reports cumulative guard counters.
type Stats struct {
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
	WindowMS  int64  `json:"window_ms"`
	Marks     uint64 `json:"marks"`
	Hits      uint64 `json:"hits"`
	Purges    uint64 `json:"purges"`
	Evictions uint64 `json:"evictions"` // includes purge-induced removals
}

// Guard is an LRU-backed set of recently processed URLs.
type Guard struct {
	lru      *lru.Cache[string, time.Time]
	clock    clock.Clock
	logger   log.Logger
	window   time.Duration
	capacity int

	marks     atomic.Uint64
	hits      atomic.Uint64
	purges    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a Guard. It does not start purging until Run is called.
func New(opts Options) (*Guard, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	g := &Guard{
		clock:    opts.Clock,
		logger:   opts.Logger,
		window:   opts.Window,
		capacity: opts.Capacity,
	}
	cache, err := lru.NewWithEvict(opts.Capacity, func(string, time.Time) {
		g.evictions.Add(1)
	})
	if err != nil {
		return nil, err
	}
	g.lru = cache
	return g, nil
}

// Seen reports whether url was marked since the last purge.
func (g *Guard) Seen(url string) bool {
	if g.lru.Contains(url) {
		g.hits.Add(1)
		return true
	}
	return false
}

// MarkSeen records url as processed now.
func (g *Guard) MarkSeen(url string) {
	g.lru.Add(url, g.clock.Now())
	g.marks.Add(1)
}

// Evict clears the whole set.
func (g *Guard) Evict() {
	g.lru.Purge()
	g.purges.Add(1)
}

// Run purges the set every window until ctx is cancelled.
func (g *Guard) Run(ctx context.Context) {
	ticker := g.clock.NewTicker(g.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			g.logger.Debug(nil, "loop guard stopping due to context cancellation")
			return
		case <-ticker.C():
			g.Evict()
		}
	}
}

// Len returns the number of URLs currently marked.
func (g *Guard) Len() int { return g.lru.Len() }

// Stats returns the current counters.
func (g *Guard) Stats() Stats {
	return Stats{
		Size:      g.lru.Len(),
		Capacity:  g.capacity,
		WindowMS:  g.window.Milliseconds(),
		Marks:     g.marks.Load(),
		Hits:      g.hits.Load(),
		Purges:    g.purges.Load(),
		Evictions: g.evictions.Load(),
	}
}
