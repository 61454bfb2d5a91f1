package allowlist

import (
	"context"
	"time"

	"github.com/haukened/privacy-redirect/internal/redirect/common/clock"
	"github.com/haukened/privacy-redirect/internal/redirect/common/log"
)

// DefaultRefreshInterval is how often the remote list is re-fetched.
const DefaultRefreshInterval = 30 * time.Minute

// Refreshable is what the Refresher drives; *Store satisfies it.
type Refreshable interface {
	Refresh(ctx context.Context) error
}

// Refresher refreshes a store once at start and then on every tick. Failures
// are logged and retried on the next tick only; there is no backoff.
type Refresher struct {
	store    Refreshable
	clock    clock.Clock
	interval time.Duration
	logger   log.Logger
}

// NewRefresher constructs a Refresher. A non-positive interval uses DefaultRefreshInterval.
func NewRefresher(store Refreshable, clk clock.Clock, interval time.Duration, logger log.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Refresher{store: store, clock: clk, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug(nil, "allow list refresher stopping due to context cancellation")
			return
		case <-ticker.C():
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	if err := r.store.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn(map[string]any{"error": err.Error(), "next_in": r.interval.String()}, "error updating allow list")
	}
}
