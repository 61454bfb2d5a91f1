package allowlist

import (
	"context"

	"github.com/haukened/privacy-redirect/internal/redirect/domain"
)

// Fetcher retrieves the current allow list from its remote source.
type Fetcher interface {
	Fetch(ctx context.Context) (domain.AllowListPayload, error)
}

// Meta carries snapshot metadata alongside a persisted payload.
type Meta struct {
	Version     uint64
	UpdatedUnix int64 // seconds since epoch
}

// Persister stores the last good payload so a restart does not begin empty.
// Optional: a nil Persister disables persistence.
type Persister interface {
	Save(p domain.AllowListPayload, meta Meta) error
	Load() (domain.AllowListPayload, Meta, bool, error)
	Close() error
}

// Stats reports store counters. All fields are best-effort snapshots.
type Stats struct {
	Version     uint64 `json:"version"`      // incremented on every successful swap
	UpdatedUnix int64  `json:"updated_unix"` // last successful swap (0 if never)
	Hosts       int    `json:"hosts"`
	Rules       int    `json:"rules"`
	Refreshes   uint64 `json:"refreshes"` // successful refreshes since construction
	Failures    uint64 `json:"failures"`  // failed refreshes since construction
	LastError   string `json:"last_error,omitempty"`
}
