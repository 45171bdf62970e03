// Package gcp discovers, prices and measures Google Cloud resources. Account
// ids are project ids; the credential handle is an optional service account
// key file, falling back to application default credentials.
package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/cloudbilling/v1"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/monitoring/v3"
	"google.golang.org/api/option"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers"
)

// scopes are the read-only grants the scanner asks for. BigQuery has no
// read-only scope that can run a query job.
var scopes = []string{
	compute.ComputeReadonlyScope,
	cloudbilling.CloudBillingReadonlyScope,
	monitoring.MonitoringReadScope,
	bigquery.Scope,
}

// services are the API clients sharing one guarded HTTP client.
type services struct {
	http       *http.Client
	compute    *compute.Service
	billing    *cloudbilling.APIService
	monitoring *monitoring.Service
}

// BillingQuery reads billed cost rows for a project over a period.
type BillingQuery func(ctx context.Context, acct model.CloudAccount, period providers.Period) ([]CostRow, error)

// Adapter is the GCP provider.
type Adapter struct {
	guard          *safety.Guard
	logger         *slog.Logger
	now            func() time.Time
	transport      http.RoundTripper
	endpoint       string
	billingProject string
	billingTable   string
	query          BillingQuery

	mu       sync.Mutex
	services map[string]*services // credential path -> services
	creds    map[string]string    // project -> credential path
	bq       map[string]*bigquery.Client
	catalog  skuCatalog
}

var _ providers.Adapter = (*Adapter)(nil)
var _ providers.BillingExporter = (*Adapter)(nil)
var _ providers.MetricsProvider = (*Adapter)(nil)
var _ providers.Verifier = (*Adapter)(nil)

type Option func(*Adapter)

func WithLogger(l *slog.Logger) Option { return func(a *Adapter) { a.logger = l } }

func WithClock(now func() time.Time) Option { return func(a *Adapter) { a.now = now } }

// WithEndpoint points every REST client at base without authentication,
// for emulators and tests.
func WithEndpoint(base string, transport http.RoundTripper) Option {
	return func(a *Adapter) {
		a.endpoint = base
		a.transport = transport
	}
}

// WithBillingExport names the BigQuery billing export table and the project
// query jobs run in. Without a table, billing validation is unavailable.
func WithBillingExport(project, table string) Option {
	return func(a *Adapter) {
		a.billingProject = project
		a.billingTable = table
	}
}

// WithBillingQuery replaces the BigQuery billing reader.
func WithBillingQuery(q BillingQuery) Option { return func(a *Adapter) { a.query = q } }

func New(guard *safety.Guard, opts ...Option) *Adapter {
	a := &Adapter{
		guard:     guard,
		logger:    slog.Default(),
		now:       time.Now,
		transport: http.DefaultTransport,
		services:  map[string]*services{},
		creds:     map[string]string{},
		bq:        map[string]*bigquery.Client{},
	}
	a.query = a.queryBigQuery
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Provider() string { return model.ProviderGCP }

func (a *Adapter) ResourceTypes() []string {
	return []string{model.TypeCompute, model.TypeStorage, model.TypeNetwork}
}

// httpClient is the guarded client every API shares. Token refresh is bound
// to the adapter's lifetime, not to a scan context.
func (a *Adapter) httpClient(credPath string) (*http.Client, error) {
	rt := &readOnlyTransport{base: a.transport}
	if a.endpoint != "" {
		return &http.Client{Transport: rt}, nil
	}
	ctx := context.Background()
	var creds *google.Credentials
	var err error
	if credPath != "" {
		data, rerr := os.ReadFile(credPath)
		if rerr != nil {
			return nil, fmt.Errorf("failed to read GCP credentials file: %w", rerr)
		}
		creds, err = google.CredentialsFromJSON(ctx, data, scopes...)
	} else {
		creds, err = google.FindDefaultCredentials(ctx, scopes...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load GCP credentials: %w", err)
	}
	return &http.Client{Transport: &oauth2.Transport{Source: creds.TokenSource, Base: rt}}, nil
}

func (a *Adapter) endpointOpt(path string) []option.ClientOption {
	if a.endpoint == "" {
		return nil
	}
	return []option.ClientOption{option.WithEndpoint(a.endpoint + path)}
}

// servicesFor returns cached clients for the account's credential and
// remembers it for pricing and metric calls on the project's resources.
func (a *Adapter) servicesFor(acct model.CloudAccount) (*services, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	credPath := acct.Credential.Value()
	a.creds[acct.ID] = credPath
	return a.servicesLocked(credPath)
}

func (a *Adapter) servicesForProject(project string) (*services, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.servicesLocked(a.creds[project])
}

func (a *Adapter) servicesLocked(credPath string) (*services, error) {
	if s, ok := a.services[credPath]; ok {
		return s, nil
	}
	hc, err := a.httpClient(credPath)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	base := []option.ClientOption{option.WithHTTPClient(hc)}

	cs, err := compute.NewService(ctx, append(base, a.endpointOpt("/compute/v1/")...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Compute client: %w", err)
	}
	bs, err := cloudbilling.NewService(ctx, append(base, a.endpointOpt("/")...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud Billing client: %w", err)
	}
	ms, err := monitoring.NewService(ctx, append(base, a.endpointOpt("/")...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Monitoring client: %w", err)
	}
	s := &services{http: hc, compute: cs, billing: bs, monitoring: ms}
	a.services[credPath] = s
	return s, nil
}

// guarded runs one API call through the guard, classifying its error.
func (a *Adapter) guarded(ctx context.Context, call safety.CallDescriptor, fn func(ctx context.Context) error) error {
	return a.guard.Do(ctx, call, func(ctx context.Context) error {
		return classify(ctx, call.Name(), fn(ctx))
	})
}

func (a *Adapter) Discover(ctx context.Context, req providers.DiscoveryRequest) ([]model.Resource, []model.Warning, error) {
	s, err := a.servicesFor(req.Account)
	if err != nil {
		return nil, nil, &model.ProviderAuthError{Provider: model.ProviderGCP, Account: req.Account.ID, Region: req.Region, Err: err}
	}
	d := &discovery{a: a, s: s, project: req.Account.ID, region: req.Region}

	switch req.ResourceType {
	case model.TypeCompute:
		return d.perZone(ctx, "instances", d.instances)
	case model.TypeStorage:
		return d.perZone(ctx, "disks", d.disks)
	case model.TypeNetwork:
		res, err := d.addresses(ctx)
		return res, nil, err
	}
	return nil, nil, fmt.Errorf("gcp: unsupported resource type %q: %w", req.ResourceType, model.ErrNotFound)
}

// VerifyAccount checks the project is visible to the credential.
func (a *Adapter) VerifyAccount(ctx context.Context, acct model.CloudAccount) error {
	s, err := a.servicesFor(acct)
	if err != nil {
		return &model.ProviderAuthError{Provider: model.ProviderGCP, Account: acct.ID, Err: err}
	}
	var project *compute.Project
	err = a.guarded(ctx, safety.Call(model.ProviderGCP, "compute", "GetProject"), func(ctx context.Context) error {
		var err error
		project, err = s.compute.Projects.Get(acct.ID).Context(ctx).Do()
		return err
	})
	if err != nil {
		var auth *model.ProviderAuthError
		if errors.As(err, &auth) || model.IsSafetyViolation(err) {
			return err
		}
		return &model.ProviderAuthError{Provider: model.ProviderGCP, Account: acct.ID, Err: fmt.Errorf("failed to get project: %w", err)}
	}
	a.logger.Debug("gcp project verified", "account", acct.ID, "number", strconv.FormatUint(project.Id, 10))
	return nil
}

// Close releases the BigQuery clients.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for k, c := range a.bq {
		errs = append(errs, c.Close())
		delete(a.bq, k)
	}
	return errors.Join(errs...)
}
