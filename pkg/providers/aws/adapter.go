// Package aws discovers, prices and measures AWS resources. Every SDK
// operation passes through the safety guard as a stack middleware.
package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers"
)

// ClientFactory builds the service clients for a credential profile and region.
type ClientFactory func(ctx context.Context, profile, region string) (*Clients, error)

// Adapter is the AWS provider.
type Adapter struct {
	guard     *safety.Guard
	logger    *slog.Logger
	now       func() time.Time
	calibrate bool
	factory   ClientFactory

	mu          sync.Mutex
	configs     map[string]aws.Config
	clients     map[string]*Clients
	profiles    map[string]string // account id -> profile
	calibrators map[string]*Calibrator
}

var _ providers.Adapter = (*Adapter)(nil)
var _ providers.BillingExporter = (*Adapter)(nil)
var _ providers.MetricsProvider = (*Adapter)(nil)
var _ providers.Verifier = (*Adapter)(nil)

type Option func(*Adapter)

func WithLogger(l *slog.Logger) Option { return func(a *Adapter) { a.logger = l } }

func WithClock(now func() time.Time) Option { return func(a *Adapter) { a.now = now } }

// WithCalibration scales on-demand compute rates by the account's
// amortized/unblended ratio from Cost Explorer.
func WithCalibration(on bool) Option { return func(a *Adapter) { a.calibrate = on } }

// WithClientFactory replaces SDK client construction, mostly for tests.
func WithClientFactory(f ClientFactory) Option { return func(a *Adapter) { a.factory = f } }

func New(guard *safety.Guard, opts ...Option) *Adapter {
	a := &Adapter{
		guard:       guard,
		logger:      slog.Default(),
		now:         time.Now,
		configs:     map[string]aws.Config{},
		clients:     map[string]*Clients{},
		profiles:    map[string]string{},
		calibrators: map[string]*Calibrator{},
	}
	a.factory = a.sdkClients
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Provider() string { return model.ProviderAWS }

func (a *Adapter) ResourceTypes() []string {
	return []string{
		model.TypeCompute, model.TypeStorage, model.TypeNetwork, model.TypeDatabase,
		model.TypeServerless, model.TypeContainer, model.TypeCache, model.TypeCommitment,
	}
}

func (a *Adapter) sdkClients(ctx context.Context, profile, region string) (*Clients, error) {
	cfg, ok := a.configs[profile]
	if !ok {
		var err error
		cfg, err = LoadConfig(ctx, a.guard, profile)
		if err != nil {
			return nil, err
		}
		a.configs[profile] = cfg
	}
	return NewClients(cfg, region), nil
}

// clientsFor returns cached clients for (profile, region).
func (a *Adapter) clientsFor(ctx context.Context, profile, region string) (*Clients, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := profile + "|" + region
	if c, ok := a.clients[key]; ok {
		return c, nil
	}
	c, err := a.factory(ctx, profile, region)
	if err != nil {
		return nil, err
	}
	a.clients[key] = c
	return c, nil
}

// remember records which profile serves an account so pricing and metric
// calls for its resources use the same credentials.
func (a *Adapter) remember(acct model.CloudAccount) string {
	p := profileOf(acct.Credential.Value())
	a.mu.Lock()
	a.profiles[acct.ID] = p
	a.mu.Unlock()
	return p
}

func (a *Adapter) profileFor(accountID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.profiles[accountID]
}

// apiRegion resolves the placeholder region of region-less accounts.
func apiRegion(region string) string {
	if region == "" || region == "global" {
		return defaultRegion
	}
	return region
}

type subScan struct {
	name string
	run  func(ctx context.Context) ([]model.Resource, error)
}

func (a *Adapter) Discover(ctx context.Context, req providers.DiscoveryRequest) ([]model.Resource, []model.Warning, error) {
	profile := a.remember(req.Account)
	region := apiRegion(req.Region)
	c, err := a.clientsFor(ctx, profile, region)
	if err != nil {
		return nil, nil, &model.ProviderAuthError{Provider: model.ProviderAWS, Account: req.Account.ID, Region: req.Region, Err: err}
	}
	d := &discovery{c: c, account: req.Account.ID, region: region, now: a.now}

	var scans []subScan
	switch req.ResourceType {
	case model.TypeCompute:
		scans = []subScan{{"ec2:instances", d.instances}}
	case model.TypeStorage:
		scans = []subScan{{"ec2:volumes", d.volumes}, {"ec2:snapshots", d.snapshots}, {"s3:buckets", d.buckets}, {"logs:groups", d.logGroups}, {"ecr:repositories", d.repositories}}
	case model.TypeNetwork:
		scans = []subScan{{"ec2:addresses", d.addresses}, {"ec2:nat", d.natGateways}, {"elb:loadbalancers", d.loadBalancers}, {"route53:zones", d.hostedZones}}
	case model.TypeDatabase:
		scans = []subScan{{"rds:instances", d.dbInstances}, {"dynamodb:tables", d.tables}, {"redshift:clusters", d.warehouses}}
	case model.TypeServerless:
		scans = []subScan{{"lambda:functions", d.functions}}
	case model.TypeContainer:
		scans = []subScan{{"eks:clusters", d.eksClusters}, {"ecs:clusters", d.ecsClusters}}
	case model.TypeCache:
		scans = []subScan{{"elasticache:clusters", d.cacheClusters}}
	case model.TypeCommitment:
		scans = []subScan{{"ec2:reserved", d.reservations}}
	default:
		return nil, nil, fmt.Errorf("aws: unsupported resource type %q: %w", req.ResourceType, model.ErrNotFound)
	}

	var out []model.Resource
	var warns []model.Warning
	var authErr error
	authFailures := 0
	for _, s := range scans {
		res, err := s.run(ctx)
		if err == nil {
			out = append(out, res...)
			continue
		}
		if fatal(err) {
			return nil, warns, err
		}
		var auth *model.ProviderAuthError
		if errors.As(err, &auth) {
			authErr = err
			authFailures++
		}
		a.logger.Warn("aws sub-scan failed", "account", req.Account.ID, "region", region, "scan", s.name, "error", err)
		warns = append(warns, model.AsWarning(err, model.Warning{
			Kind:       model.WarnPartialDiscovery,
			ScopeLevel: model.ScopeRegion,
			Scope:      model.RegionScope(model.ProviderAWS, req.Account.ID, req.Region),
		}))
	}
	// every service refusing the credentials is a region-level auth failure
	if authFailures == len(scans) {
		return nil, nil, authErr
	}
	return out, warns, nil
}

// fatal errors end the whole discovery task: the engine retries throttling
// and aborts the scan on a safety violation.
func fatal(err error) bool {
	var rl *model.RateLimitError
	return errors.As(err, &rl) || model.IsSafetyViolation(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// VerifyAccount checks the credentials resolve to the declared account.
func (a *Adapter) VerifyAccount(ctx context.Context, acct model.CloudAccount) error {
	profile := a.remember(acct)
	c, err := a.clientsFor(ctx, profile, defaultRegion)
	if err != nil {
		return &model.ProviderAuthError{Provider: model.ProviderAWS, Account: acct.ID, Err: err}
	}
	out, err := c.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		var auth *model.ProviderAuthError
		if errors.As(err, &auth) || model.IsSafetyViolation(err) {
			return err
		}
		return &model.ProviderAuthError{Provider: model.ProviderAWS, Account: acct.ID, Err: err}
	}
	if got := aws.ToString(out.Account); got != acct.ID {
		return &model.ProviderAuthError{Provider: model.ProviderAWS, Account: acct.ID,
			Err: fmt.Errorf("credentials belong to account %s", got)}
	}
	a.logger.Debug("aws account verified", "account", acct.ID, "arn", aws.ToString(out.Arn))
	return nil
}
