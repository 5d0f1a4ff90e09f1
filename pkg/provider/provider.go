// Package provider turns stored credentials into usage snapshots.
//
// Each usage source implements Provider and is looked up by id through a
// Registry, so the scheduler and the CLI never switch on provider names.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/forest6511/aipulse/pkg/usage"
	"github.com/forest6511/aipulse/pkg/vault"
)

// Errors
var (
	ErrMissingCredentials = errors.New("provider: missing credentials")
	ErrInvalidCredentials = errors.New("provider: invalid credentials")
	ErrUnknownProvider    = errors.New("provider: unknown provider")
	ErrMalformedResponse  = errors.New("provider: malformed usage response")
)

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 512

// HTTPError is a non-2xx response from a provider API.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("provider: HTTP %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsSessionError reports whether err means the session was rejected and the
// user has to refresh their credentials.
func IsSessionError(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusUnauthorized || he.StatusCode == http.StatusForbidden
	}
	return false
}

// Provider is a usage source.
type Provider interface {
	// ID is the provider key used in accounts, e.g. "claude".
	ID() string
	// Name is shown to users.
	Name() string
	ValidateCredentials(c vault.Credentials) bool
	FetchUsage(ctx context.Context, c vault.Credentials) (*usage.Snapshot, error)
}

// Registry maps provider ids to implementations.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns a registry holding ps.
func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Register adds p, replacing any provider with the same id.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get returns the provider with id.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return p, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
