// Package remote fetches the allow list from the redirect service.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/haukened/privacy-redirect/internal/redirect/domain"
	"github.com/haukened/privacy-redirect/internal/redirect/repos/allowlist"
)

// AllowListPath is the remote endpoint serving the allow list.
const AllowListPath = "/api/v1/allowed-list"

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

// Error message constants for consistent error handling
const (
	errServerRequired = "allow list server is required"
	errBuildRequest   = "build request: %w"
	errRequestFailed  = "request failed: %w"
	errReadFailed     = "read failed: %w"
	errDecodeFailed   = "decode failed: %w"
	errInvalidPayload = "invalid payload: %w"
)

// ErrUnexpectedStatus is returned for any non-2xx response.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Doer is the part of *http.Client the fetcher needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AllowListResponse is the wire form of the allow list.
type AllowListResponse struct {
	Result           []string `json:"result" validate:"required"`
	InternalRedirect []string `json:"internal_redirect" validate:"required"`
}

// Payload converts the wire form into the domain payload.
func (r AllowListResponse) Payload() domain.AllowListPayload {
	return domain.AllowListPayload{Hosts: r.Result, InternalRedirects: r.InternalRedirect}
}

// FromPayload converts a domain payload into the wire form. Nil lists are
// encoded as empty arrays so the output always validates.
func FromPayload(p domain.AllowListPayload) AllowListResponse {
	r := AllowListResponse{Result: p.Hosts, InternalRedirect: p.InternalRedirects}
	if r.Result == nil {
		r.Result = []string{}
	}
	if r.InternalRedirect == nil {
		r.InternalRedirect = []string{}
	}
	return r
}

// Options configures a Fetcher.
type Options struct {
	// Server is the redirect service base URL, e.g. https://privacydir.com.
	Server  string
	Timeout time.Duration
	// Client may be injected for testing; defaults to a plain *http.Client.
	Client Doer
}

// Fetcher implements allowlist.Fetcher over HTTP.
type Fetcher struct {
	endpoint string
	timeout  time.Duration
	client   Doer
	validate *validator.Validate
}

// NewFetcher creates a Fetcher. Timeout defaults to 10 seconds.
func NewFetcher(opts Options) (*Fetcher, error) {
	server := strings.TrimRight(strings.TrimSpace(opts.Server), "/")
	if server == "" {
		return nil, errors.New(errServerRequired)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	return &Fetcher{
		endpoint: server + AllowListPath,
		timeout:  opts.Timeout,
		client:   opts.Client,
		validate: validator.New(),
	}, nil
}

// Endpoint returns the URL the fetcher requests.
func (f *Fetcher) Endpoint() string { return f.endpoint }

// Fetch requests the allow list. Transport errors, non-2xx statuses,
// non-JSON bodies and missing fields are all returned as errors.
func (f *Fetcher) Fetch(ctx context.Context) (domain.AllowListPayload, error) {
	var zero domain.AllowListPayload

	ctx, cancel := f.ensureContextDeadline(ctx)
	if cancel != nil {
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return zero, fmt.Errorf(errBuildRequest, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return zero, fmt.Errorf(errRequestFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return zero, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return zero, fmt.Errorf(errReadFailed, err)
	}
	var wire AllowListResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return zero, fmt.Errorf(errDecodeFailed, err)
	}
	if err := f.validate.Struct(wire); err != nil {
		return zero, fmt.Errorf(errInvalidPayload, err)
	}
	return wire.Payload(), nil
}

// ensureContextDeadline applies the default timeout when ctx has no deadline.
func (f *Fetcher) ensureContextDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); !ok {
		return context.WithTimeout(ctx, f.timeout)
	}
	return ctx, nil
}

var _ allowlist.Fetcher = (*Fetcher)(nil)
