// Package mock is a deterministic in-memory provider used by tests and the
// credential-free demo scan. Faults can be injected per region or resource.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers"
)

// Adapter serves fixture data through the safety guard like a real provider.
type Adapter struct {
	guard *safety.Guard

	mu        sync.RWMutex
	resources map[string][]model.Resource // account/region
	prices    map[string]model.RawPriceQuote
	billing   map[string]model.BillingExport
	samples   map[string]map[string][]model.UtilizationSample

	authFail    map[string]bool // region or account id
	rateLimited map[string]int  // region -> remaining throttled calls, <0 forever
	unsafe      map[string]bool // region issues a mutating call
	hang        map[string]bool // region blocks until the context ends
	priceFail   map[string]bool // resource id
	pricingDown bool
	delay       time.Duration

	discoverCalls atomic.Int64
}

var _ providers.Adapter = (*Adapter)(nil)
var _ providers.BillingExporter = (*Adapter)(nil)
var _ providers.MetricsProvider = (*Adapter)(nil)
var _ providers.Verifier = (*Adapter)(nil)

// New returns an empty fixture adapter.
func New(guard *safety.Guard) *Adapter {
	return &Adapter{
		guard:       guard,
		resources:   map[string][]model.Resource{},
		prices:      map[string]model.RawPriceQuote{},
		billing:     map[string]model.BillingExport{},
		samples:     map[string]map[string][]model.UtilizationSample{},
		authFail:    map[string]bool{},
		rateLimited: map[string]int{},
		unsafe:      map[string]bool{},
		hang:        map[string]bool{},
		priceFail:   map[string]bool{},
	}
}

func (a *Adapter) Provider() string { return model.ProviderMock }

func (a *Adapter) ResourceTypes() []string {
	return []string{
		model.TypeCompute, model.TypeStorage, model.TypeNetwork, model.TypeDatabase,
		model.TypeServerless, model.TypeContainer, model.TypeCache, model.TypeCommitment,
	}
}

// AddResource registers a resource under account/region and fills its identity fields.
func (a *Adapter) AddResource(account, region string, r model.Resource) model.Resource {
	r.Provider = model.ProviderMock
	r.AccountID = account
	r.Region = region
	if r.NativeID == "" {
		r.NativeID = r.Name
	}
	r.ID = model.QualifiedID(r.Provider, account, region, r.NativeID)
	if r.State == "" {
		r.State = model.StateRunning
	}
	a.mu.Lock()
	a.resources[account+"/"+region] = append(a.resources[account+"/"+region], r)
	a.mu.Unlock()
	return r
}

// SetPrice registers the live quote for a SKU.
func (a *Adapter) SetPrice(sku string, q model.RawPriceQuote) {
	a.mu.Lock()
	defer a.mu.Unlock()
	q.SKU = sku
	if q.Currency == "" {
		q.Currency = "USD"
	}
	if q.PricingModel == "" {
		q.PricingModel = model.PricingOnDemand
	}
	a.prices[sku] = q
}

// SetBilling registers the billed totals for an account.
func (a *Adapter) SetBilling(account string, totals map[string]float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.billing[account] = model.BillingExport{Provider: model.ProviderMock, AccountID: account, Currency: "USD", Totals: totals}
}

// SetSamples registers metric samples for a resource id.
func (a *Adapter) SetSamples(resourceID, metric string, samples []model.UtilizationSample) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.samples[resourceID] == nil {
		a.samples[resourceID] = map[string][]model.UtilizationSample{}
	}
	a.samples[resourceID][metric] = samples
}

// FailAuth makes every call for the region (or account id) fail authentication.
func (a *Adapter) FailAuth(scope string) { a.mu.Lock(); a.authFail[scope] = true; a.mu.Unlock() }

// Throttle makes the next n discovery calls in region fail with a rate limit; n<0 never recovers.
func (a *Adapter) Throttle(region string, n int) {
	a.mu.Lock()
	a.rateLimited[region] = n
	a.mu.Unlock()
}

// Unsafe makes discovery in region attempt a mutating call.
func (a *Adapter) Unsafe(region string) { a.mu.Lock(); a.unsafe[region] = true; a.mu.Unlock() }

// Hang makes discovery in region block until its context ends.
func (a *Adapter) Hang(region string) { a.mu.Lock(); a.hang[region] = true; a.mu.Unlock() }

// FailPricing makes pricing fail for one resource id, or for all when id is "".
func (a *Adapter) FailPricing(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id == "" {
		a.pricingDown = true
		return
	}
	a.priceFail[id] = true
}

// SetDelay adds latency to every discovery call.
func (a *Adapter) SetDelay(d time.Duration) { a.mu.Lock(); a.delay = d; a.mu.Unlock() }

// DiscoverCalls reports how many discovery calls were executed.
func (a *Adapter) DiscoverCalls() int64 { return a.discoverCalls.Load() }

func (a *Adapter) Discover(ctx context.Context, req providers.DiscoveryRequest) ([]model.Resource, []model.Warning, error) {
	acct := req.Account.ID
	region := req.Region

	a.mu.Lock()
	unsafe := a.unsafe[region]
	hang := a.hang[region]
	auth := a.authFail[region] || a.authFail[acct]
	delay := a.delay
	throttled := false
	if n, ok := a.rateLimited[region]; ok && n != 0 {
		throttled = true
		if n > 0 {
			a.rateLimited[region] = n - 1
		}
	}
	a.mu.Unlock()

	if unsafe {
		// a buggy adapter trying to clean up after itself
		err := a.guard.Do(ctx, safety.Call(model.ProviderMock, "mock", "DeleteResources"), func(ctx context.Context) error { return nil })
		if err != nil {
			return nil, nil, err
		}
	}

	call := safety.Call(model.ProviderMock, "mock", "ListResources").With("region", region).With("type", req.ResourceType)
	var out []model.Resource
	err := a.guard.Do(ctx, call, func(ctx context.Context) error {
		a.discoverCalls.Add(1)
		if hang {
			<-ctx.Done()
			return ctx.Err()
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		switch {
		case auth:
			return &model.ProviderAuthError{Provider: model.ProviderMock, Account: acct, Region: region, Err: errors.New("invalid credentials")}
		case throttled:
			return &model.RateLimitError{Provider: model.ProviderMock, Account: acct, Region: region, Call: "mock:ListResources", Err: errors.New("throttled")}
		}
		a.mu.RLock()
		defer a.mu.RUnlock()
		for _, r := range a.resources[acct+"/"+region] {
			if r.Type == req.ResourceType {
				out = append(out, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil, nil
}

func (a *Adapter) GetPricing(ctx context.Context, res model.Resource, pricingModel string) (model.RawPriceQuote, error) {
	call := safety.Call(model.ProviderMock, "mock", "GetPrice").With("sku", res.SKU).With("region", res.Region)
	return safety.DoValue(ctx, a.guard, call, func(ctx context.Context) (model.RawPriceQuote, error) {
		a.mu.RLock()
		defer a.mu.RUnlock()
		if a.pricingDown || a.priceFail[res.ID] {
			return model.RawPriceQuote{}, errors.New("pricing api unavailable")
		}
		q, ok := a.prices[res.SKU]
		if !ok {
			return model.RawPriceQuote{}, fmt.Errorf("no price for sku %s: %w", res.SKU, model.ErrNotFound)
		}
		q.Region = res.Region
		return q, nil
	})
}

func (a *Adapter) GetBillingExport(ctx context.Context, acct model.CloudAccount, period providers.Period) (model.BillingExport, error) {
	call := safety.Call(model.ProviderMock, "mock", "GetBillingExport").With("account", acct.ID)
	return safety.DoValue(ctx, a.guard, call, func(ctx context.Context) (model.BillingExport, error) {
		a.mu.RLock()
		defer a.mu.RUnlock()
		b, ok := a.billing[acct.ID]
		if !ok {
			return model.BillingExport{}, fmt.Errorf("billing export for %s: %w", acct.ID, model.ErrNotFound)
		}
		b.PeriodStart, b.PeriodEnd = period.Start, period.End
		return b, nil
	})
}

func (a *Adapter) MetricNames(res model.Resource) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.samples[res.ID]))
	for m := range a.samples[res.ID] {
		names = append(names, m)
	}
	sort.Strings(names)
	if len(names) == 0 && res.Type == model.TypeCompute {
		return []string{"cpu"}
	}
	return names
}

func (a *Adapter) FetchMetric(ctx context.Context, res model.Resource, metric string, start, end time.Time) ([]model.UtilizationSample, error) {
	call := safety.Call(model.ProviderMock, "mock", "GetMetric").With("resource", res.ID).With("metric", metric)
	return safety.DoValue(ctx, a.guard, call, func(ctx context.Context) ([]model.UtilizationSample, error) {
		a.mu.RLock()
		defer a.mu.RUnlock()
		var out []model.UtilizationSample
		for _, s := range a.samples[res.ID][metric] {
			if !s.Timestamp.Before(start) && s.Timestamp.Before(end) {
				out = append(out, s)
			}
		}
		return out, nil
	})
}

func (a *Adapter) VerifyAccount(ctx context.Context, acct model.CloudAccount) error {
	call := safety.Call(model.ProviderMock, "mock", "GetAccount").With("account", acct.ID)
	return a.guard.Do(ctx, call, func(ctx context.Context) error {
		a.mu.RLock()
		defer a.mu.RUnlock()
		if a.authFail[acct.ID] {
			return &model.ProviderAuthError{Provider: model.ProviderMock, Account: acct.ID, Err: errors.New("account credentials rejected")}
		}
		return nil
	})
}
