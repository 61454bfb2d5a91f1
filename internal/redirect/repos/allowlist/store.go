package allowlist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haukened/privacy-redirect/internal/redirect/common/clock"
	"github.com/haukened/privacy-redirect/internal/redirect/common/log"
	"github.com/haukened/privacy-redirect/internal/redirect/domain"
)

// ErrNoFetcher is returned by Refresh when the store was built without a Fetcher.
var ErrNoFetcher = errors.New("allow list has no fetcher")

// DefaultMatchTimeout bounds a single internal-redirect rule evaluation so a
// pathological remote pattern cannot stall a navigation decision.
const DefaultMatchTimeout = 50 * time.Millisecond

// Store holds the allow list and the internal-redirect rules.
//
// Reads are lock-free against an immutable snapshot published through an
// atomic pointer; refreshes are serialized and swap the whole snapshot, so a
// reader sees either the previous or the next generation, never a mix.
type Store struct {
	current atomic.Pointer[snapshot]

	refreshMu sync.Mutex
	fetcher   Fetcher
	persister Persister
	clock     clock.Clock
	logger    log.Logger
	timeout   time.Duration

	refreshes atomic.Uint64
	failures  atomic.Uint64
	lastErr   atomic.Value // string
}

// Options configures a Store. Fetcher is required for Refresh; Persister is optional.
type Options struct {
	Fetcher      Fetcher
	Persister    Persister
	Clock        clock.Clock
	Logger       log.Logger
	MatchTimeout time.Duration
}

// New constructs an empty Store.
func New(opts Options) *Store {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.MatchTimeout <= 0 {
		opts.MatchTimeout = DefaultMatchTimeout
	}
	s := &Store{
		fetcher:   opts.Fetcher,
		persister: opts.Persister,
		clock:     opts.Clock,
		logger:    opts.Logger,
		timeout:   opts.MatchTimeout,
	}
	s.current.Store(emptySnapshot)
	s.lastErr.Store("")
	return s
}

// IsAllowed reports whether the hostname of rawURL contains any allow-list
// entry. Hosts are compared lower-cased and in punycode form. URLs without a
// usable host are not allowed.
func (s *Store) IsAllowed(rawURL string) bool {
	host, ok := domain.Hostname(rawURL)
	if !ok {
		return false
	}
	entry, ok := s.current.Load().allows(host)
	if ok {
		s.logger.Debug(map[string]any{"url": rawURL, "entry": entry}, "allow list match")
	}
	return ok
}

// MatchesInternalRedirect reports whether any internal-redirect rule matches
// rawURL. A rule that errors (match timeout) counts as no match.
func (s *Store) MatchesInternalRedirect(rawURL string) bool {
	snap := s.current.Load()
	for i, re := range snap.rules {
		ok, err := re.MatchString(rawURL)
		if err != nil {
			s.logger.Warn(map[string]any{"url": rawURL, "rule": snap.ruleSources[i], "error": err.Error()}, "internal redirect rule failed")
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// Refresh fetches the remote list, compiles it and swaps it in. On any
// failure the previous snapshot is kept and the error is returned.
func (s *Store) Refresh(ctx context.Context) error {
	if s.fetcher == nil {
		return s.fail(ErrNoFetcher)
	}
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	payload, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return s.fail(fmt.Errorf("fetch allow list: %w", err))
	}
	if payload.IsEmpty() {
		s.logger.Warn(nil, "remote allow list is empty; every navigation will be rewritten")
	}
	prev := s.current.Load()
	next, err := buildSnapshot(payload, s.timeout, prev.version+1, s.clock.Now().Unix())
	if err != nil {
		return s.fail(fmt.Errorf("parse allow list: %w", err))
	}
	s.current.Store(next)
	s.refreshes.Add(1)
	s.lastErr.Store("")

	s.logger.Info(map[string]any{
		"version":           next.version,
		"hosts":             next.hosts,
		"internal_redirect": len(next.rules),
	}, "allow list updated; these domains are skipped as they break without a referrer")

	if s.persister != nil {
		meta := Meta{Version: next.version, UpdatedUnix: next.updatedUnix}
		if err := s.persister.Save(next.payload(), meta); err != nil {
			s.logger.Warn(map[string]any{"error": err.Error()}, "failed to persist allow list snapshot")
		}
	}
	return nil
}

// Restore seeds the store from the Persister. It is a no-op without one or
// when nothing was saved yet; a stored payload that no longer compiles is
// reported and the store stays empty.
func (s *Store) Restore() error {
	if s.persister == nil {
		return nil
	}
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	payload, meta, ok, err := s.persister.Load()
	if err != nil {
		return fmt.Errorf("load allow list snapshot: %w", err)
	}
	if !ok {
		return nil
	}
	snap, err := buildSnapshot(payload, s.timeout, meta.Version, meta.UpdatedUnix)
	if err != nil {
		return fmt.Errorf("restore allow list snapshot: %w", err)
	}
	s.current.Store(snap)
	s.logger.Info(map[string]any{"version": meta.Version, "hosts": len(snap.hosts), "internal_redirect": len(snap.rules)}, "allow list restored from snapshot")
	return nil
}

// Snapshot returns a copy of the current list in payload form.
func (s *Store) Snapshot() domain.AllowListPayload {
	return s.current.Load().payload()
}

// Stats returns the current counters.
func (s *Store) Stats() Stats {
	snap := s.current.Load()
	return Stats{
		Version:     snap.version,
		UpdatedUnix: snap.updatedUnix,
		Hosts:       len(snap.hosts),
		Rules:       len(snap.rules),
		Refreshes:   s.refreshes.Load(),
		Failures:    s.failures.Load(),
		LastError:   s.lastErr.Load().(string),
	}
}

func (s *Store) fail(err error) error {
	s.failures.Add(1)
	s.lastErr.Store(err.Error())
	return err
}
