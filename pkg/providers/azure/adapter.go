// Package azure discovers, prices and measures Azure resources through the
// ARM SDK, the Retail Prices API and Azure Monitor.
package azure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers"
)

const (
	retailPricesEndpoint = "https://prices.azure.com/api/retail/prices"
	managementEndpoint   = "https://management.azure.com"
)

// ClientFactory builds the ARM clients for a subscription.
type ClientFactory func(subscriptionID string, cred azcore.TokenCredential, opts *arm.ClientOptions) (*Clients, error)

// Adapter is the Azure provider. Account ids are subscription ids and the
// credential handle is an optional tenant id.
type Adapter struct {
	guard      *safety.Guard
	logger     *slog.Logger
	now        func() time.Time
	factory    ClientFactory
	transport  policy.Transporter
	cred       azcore.TokenCredential
	retailURL  string
	management string

	mu      sync.Mutex
	creds   map[string]azcore.TokenCredential // tenant -> credential
	clients map[string]*Clients               // subscription -> clients
	tenants map[string]string                 // subscription -> tenant
	retail  *runtime.Pipeline
	monitor map[string]*runtime.Pipeline // tenant -> pipeline
}

var _ providers.Adapter = (*Adapter)(nil)
var _ providers.BillingExporter = (*Adapter)(nil)
var _ providers.MetricsProvider = (*Adapter)(nil)
var _ providers.Verifier = (*Adapter)(nil)

type Option func(*Adapter)

func WithLogger(l *slog.Logger) Option { return func(a *Adapter) { a.logger = l } }

func WithClock(now func() time.Time) Option { return func(a *Adapter) { a.now = now } }

// WithClientFactory replaces ARM client construction, mostly for tests.
func WithClientFactory(f ClientFactory) Option { return func(a *Adapter) { a.factory = f } }

// WithCredential uses cred for every subscription instead of the default chain.
func WithCredential(cred azcore.TokenCredential) Option { return func(a *Adapter) { a.cred = cred } }

// WithTransport sends every request through t.
func WithTransport(t policy.Transporter) Option { return func(a *Adapter) { a.transport = t } }

// WithEndpoints overrides the Retail Prices and ARM base URLs.
func WithEndpoints(retail, management string) Option {
	return func(a *Adapter) {
		a.retailURL = retail
		a.management = strings.TrimSuffix(management, "/")
	}
}

func New(guard *safety.Guard, opts ...Option) *Adapter {
	a := &Adapter{
		guard:      guard,
		logger:     slog.Default(),
		now:        time.Now,
		factory:    NewClients,
		retailURL:  retailPricesEndpoint,
		management: managementEndpoint,
		creds:      map[string]azcore.TokenCredential{},
		clients:    map[string]*Clients{},
		tenants:    map[string]string{},
		monitor:    map[string]*runtime.Pipeline{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Provider() string { return model.ProviderAzure }

func (a *Adapter) ResourceTypes() []string {
	return []string{model.TypeCompute, model.TypeStorage, model.TypeNetwork, model.TypeCommitment}
}

// credential returns the token credential for tenant. Callers hold a.mu.
func (a *Adapter) credential(tenant string) (azcore.TokenCredential, error) {
	if a.cred != nil {
		return a.cred, nil
	}
	if c, ok := a.creds[tenant]; ok {
		return c, nil
	}
	// DefaultAzureCredential covers environment variables, managed identity
	// and the Azure CLI login.
	c, err := azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{
		ClientOptions: a.clientOptions(),
		TenantID:      tenant,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	a.creds[tenant] = c
	return c, nil
}

func (a *Adapter) clientsFor(acct model.CloudAccount) (*Clients, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tenant := acct.Credential.Value()
	a.tenants[acct.ID] = tenant
	if c, ok := a.clients[acct.ID]; ok {
		return c, nil
	}
	cred, err := a.credential(tenant)
	if err != nil {
		return nil, err
	}
	c, err := a.factory(acct.ID, cred, a.armOptions())
	if err != nil {
		return nil, err
	}
	a.clients[acct.ID] = c
	return c, nil
}

// guarded runs one ARM call through the guard, classifying its error.
func (a *Adapter) guarded(ctx context.Context, call safety.CallDescriptor, fn func(ctx context.Context) error) error {
	return a.guard.Do(ctx, call, func(ctx context.Context) error {
		return classify(ctx, call.Name(), fn(ctx))
	})
}

// eachPage drains a pager, guarding every page fetch as its own call.
func eachPage[T any](ctx context.Context, a *Adapter, call safety.CallDescriptor, pager *runtime.Pager[T], fn func(T)) error {
	for pager.More() {
		var page T
		err := a.guarded(ctx, call, func(ctx context.Context) error {
			var err error
			page, err = pager.NextPage(ctx)
			return err
		})
		if err != nil {
			return err
		}
		fn(page)
	}
	return nil
}

func (a *Adapter) Discover(ctx context.Context, req providers.DiscoveryRequest) ([]model.Resource, []model.Warning, error) {
	c, err := a.clientsFor(req.Account)
	if err != nil {
		return nil, nil, &model.ProviderAuthError{Provider: model.ProviderAzure, Account: req.Account.ID, Region: req.Region, Err: err}
	}
	d := &discovery{a: a, c: c, account: req.Account, region: req.Region}

	var res []model.Resource
	var warns []model.Warning
	switch req.ResourceType {
	case model.TypeCompute:
		res, warns, err = d.virtualMachines(ctx)
	case model.TypeStorage:
		res, err = d.disks(ctx)
	case model.TypeNetwork:
		res, err = d.publicIPs(ctx)
	case model.TypeCommitment:
		res, err = d.reservations(ctx)
	default:
		return nil, nil, fmt.Errorf("azure: unsupported resource type %q: %w", req.ResourceType, model.ErrNotFound)
	}
	if err != nil {
		return nil, warns, err
	}
	return res, warns, nil
}

// VerifyAccount checks the subscription is visible to the credential and enabled.
func (a *Adapter) VerifyAccount(ctx context.Context, acct model.CloudAccount) error {
	c, err := a.clientsFor(acct)
	if err != nil {
		return &model.ProviderAuthError{Provider: model.ProviderAzure, Account: acct.ID, Err: err}
	}
	var sub armsubscriptions.ClientGetResponse
	err = a.guarded(ctx, safety.Call(model.ProviderAzure, "subscriptions", "GetSubscription"), func(ctx context.Context) error {
		var err error
		sub, err = c.Subscriptions.Get(ctx, acct.ID, nil)
		return err
	})
	if err != nil {
		var auth *model.ProviderAuthError
		if errors.As(err, &auth) || model.IsSafetyViolation(err) {
			return err
		}
		return &model.ProviderAuthError{Provider: model.ProviderAzure, Account: acct.ID, Err: fmt.Errorf("failed to get subscription info: %w", err)}
	}
	if sub.State != nil && *sub.State != armsubscriptions.SubscriptionStateEnabled {
		return &model.ProviderAuthError{Provider: model.ProviderAzure, Account: acct.ID,
			Err: fmt.Errorf("subscription is %s", *sub.State)}
	}
	name := acct.ID
	if sub.DisplayName != nil {
		name = *sub.DisplayName
	}
	a.logger.Debug("azure subscription verified", "account", acct.ID, "name", name)
	return nil
}
