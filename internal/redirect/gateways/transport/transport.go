// Package transport is the navigation-request adapter. It exposes the
// interceptor over a small local HTTP API so a browser extension (or any
// other hook) can ask for a decision per request descriptor.
package transport

import (
	"context"

	"github.com/haukened/privacy-redirect/internal/redirect/domain"
	"github.com/haukened/privacy-redirect/internal/redirect/services/interceptor"
)

// ServerTransport is a navigation source that runs as a server.
type ServerTransport interface {
	interceptor.NavigationSource

	// Start begins serving and delivering requests to handler.
	Start(ctx context.Context, handler interceptor.Handler) error

	// Stop gracefully shuts the server down.
	Stop() error

	// Address returns the address the transport is bound to.
	Address() string
}

// SnapshotSource exposes the current allow list.
type SnapshotSource interface {
	Snapshot() domain.AllowListPayload
}

// StatsFunc returns the counters served on the stats endpoint.
type StatsFunc func() map[string]any

// API routes.
const (
	PathNavigation  = "/api/v1/navigation"
	PathLinks       = "/api/v1/links"
	PathAllowedList = "/api/v1/allowed-list"
	PathHealthcheck = "/api/v1/healthcheck"
	PathStats       = "/api/v1/stats"
)
