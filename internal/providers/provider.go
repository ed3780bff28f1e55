// Package providers defines the metadata-source contract and the concrete
// clients that fetch titles, artwork, and trailer listings.
package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"curator/internal/assets"
	"curator/internal/ratelimit"
)

// Capabilities advertises what one provider can answer so callers skip
// providers that cannot help instead of collecting errors.
type Capabilities struct {
	Metadata   bool
	Images     bool
	Videos     bool
	AssetTypes []assets.AssetType
	RateLimit  ratelimit.Limit
}

// SupportsAssetType reports whether the provider offers the given slot.
func (c Capabilities) SupportsAssetType(t assets.AssetType) bool {
	for _, at := range c.AssetTypes {
		if at == t {
			return true
		}
	}
	return false
}

// SearchResult is one title match from a provider search.
type SearchResult struct {
	ProviderID  int64
	Title       string
	Year        int
	Overview    string
	Popularity  float64
	VoteAverage float64
	VoteCount   int64
}

// Metadata is the textual record for one entity.
type Metadata struct {
	ProviderID       int64
	Title            string
	Year             int
	Overview         string
	OriginalLanguage string
	VoteAverage      float64
	VoteCount        int64
}

// Video is a provider-hosted video listing, typically a trailer.
type Video struct {
	ProviderVideoID string
	Site            string
	Name            string
	Kind            string
	Official        bool
	URL             string
}

// Person is one cast member with an optional profile image.
type Person struct {
	ProviderID int64
	Name       string
	Character  string
	Order      int
	ProfileURL string
}

// CreditLister is the optional cast listing a provider may offer; callers
// discover it by type assertion.
type CreditLister interface {
	GetCredits(ctx context.Context, entityType assets.EntityType, providerID int64) ([]Person, error)
}

// Client is the provider contract. Implementations return ErrRateLimited
// (possibly wrapped) when the upstream throttles, so callers can
// distinguish backoff from hard failure.
type Client interface {
	Name() string
	Capabilities() Capabilities
	Search(ctx context.Context, query string, year int) ([]SearchResult, error)
	GetMetadata(ctx context.Context, entityType assets.EntityType, providerID int64) (*Metadata, error)
	GetAssets(ctx context.Context, entityType assets.EntityType, providerID int64, assetTypes []assets.AssetType) ([]*assets.Candidate, error)
	GetVideos(ctx context.Context, entityType assets.EntityType, providerID int64) ([]Video, error)
}

// Registry holds registered providers and the shared limiter so every call
// path paces requests the same way.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client
	limiters *ratelimit.Registry
}

// NewRegistry builds an empty registry around a limiter registry.
func NewRegistry(limiters *ratelimit.Registry) *Registry {
	return &Registry{
		clients:  make(map[string]Client),
		limiters: limiters,
	}
}

// Register adds a client and configures its advertised rate limit. A second
// registration under the same name replaces the first.
func (r *Registry) Register(client Client) error {
	if client == nil {
		return errors.New("client is nil")
	}
	name := client.Name()
	if name == "" {
		return errors.New("client has no name")
	}
	r.mu.Lock()
	r.clients[name] = client
	r.mu.Unlock()
	if r.limiters != nil {
		r.limiters.Configure(name, client.Capabilities().RateLimit)
	}
	return nil
}

// Get returns a client by name.
func (r *Registry) Get(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", name)
	}
	return client, nil
}

// All returns registered clients in stable name order.
func (r *Registry) All() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Client, 0, len(names))
	for _, name := range names {
		out = append(out, r.clients[name])
	}
	return out
}

// Acquire blocks until the named provider's limiter grants a token.
func (r *Registry) Acquire(ctx context.Context, name string) error {
	if r.limiters == nil {
		return nil
	}
	return r.limiters.Acquire(ctx, name)
}
