// Package providers defines the capability set every cloud adapter implements
// and the registry the orchestrator resolves adapters from.
package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// DiscoveryRequest scopes one discovery task.
type DiscoveryRequest struct {
	Account      model.CloudAccount
	Region       string
	ResourceType string
}

// Period is a billing window, end exclusive.
type Period struct {
	Start time.Time
	End   time.Time
}

// Adapter is the capability set shared by every provider variant.
type Adapter interface {
	Provider() string
	// ResourceTypes lists the native types this adapter discovers.
	ResourceTypes() []string
	Discover(ctx context.Context, req DiscoveryRequest) ([]model.Resource, []model.Warning, error)
	GetPricing(ctx context.Context, res model.Resource, pricingModel string) (model.RawPriceQuote, error)
}

// BillingExporter is implemented by adapters that can read billed totals.
type BillingExporter interface {
	GetBillingExport(ctx context.Context, acct model.CloudAccount, period Period) (model.BillingExport, error)
}

// MetricsProvider is implemented by adapters with a utilization source.
type MetricsProvider interface {
	MetricNames(res model.Resource) []string
	FetchMetric(ctx context.Context, res model.Resource, metric string, start, end time.Time) ([]model.UtilizationSample, error)
}

// Verifier is implemented by adapters that can preflight account credentials.
type Verifier interface {
	VerifyAccount(ctx context.Context, acct model.CloudAccount) error
}

// Registry maps provider kinds to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter, replacing any previous one for the same provider.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Provider()] = a
}

// Get returns the adapter for provider.
func (r *Registry) Get(provider string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q: %w", provider, model.ErrNotFound)
	}
	return a, nil
}

// Providers lists registered provider kinds, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
