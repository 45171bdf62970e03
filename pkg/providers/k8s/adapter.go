// Package k8s discovers and measures the billable infrastructure of a
// Kubernetes cluster: nodes, persistent volumes and load balancer services.
// Account ids name clusters; the credential handle is a kubeconfig context.
package k8s

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/config"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/version"
)

const (
	// resync keeps the informer caches eventually consistent.
	resync      = 10 * time.Minute
	syncTimeout = 30 * time.Second
)

// Clients are the API clients for one cluster. Metrics is nil when
// metrics-server is not reachable.
type Clients struct {
	Kube    kubernetes.Interface
	Metrics metricsclient.Interface
}

// ClientFactory builds the clients for an account.
type ClientFactory func(acct model.CloudAccount) (*Clients, error)

// Adapter is the Kubernetes provider.
type Adapter struct {
	guard       *safety.Guard
	logger      *slog.Logger
	now         func() time.Time
	kubeconfig  string
	rates       config.RateCard
	prom        promv1.API
	factory     ClientFactory
	syncTimeout time.Duration

	mu       sync.Mutex
	clusters map[string]*cluster // account id -> cluster
}

var _ providers.Adapter = (*Adapter)(nil)
var _ providers.MetricsProvider = (*Adapter)(nil)
var _ providers.Verifier = (*Adapter)(nil)

type Option func(*Adapter)

func WithLogger(l *slog.Logger) Option { return func(a *Adapter) { a.logger = l } }

func WithClock(now func() time.Time) Option { return func(a *Adapter) { a.now = now } }

// WithKubeconfig sets the kubeconfig path. Empty uses the default loading
// rules ($KUBECONFIG, then ~/.kube/config).
func WithKubeconfig(path string) Option { return func(a *Adapter) { a.kubeconfig = path } }

// WithRateCard sets the unit rates cluster resources are priced at.
func WithRateCard(r config.RateCard) Option { return func(a *Adapter) { a.rates = r } }

// WithClientFactory replaces kubeconfig client construction.
func WithClientFactory(f ClientFactory) Option { return func(a *Adapter) { a.factory = f } }

// WithSyncTimeout bounds the first cache fill of each informer.
func WithSyncTimeout(d time.Duration) Option { return func(a *Adapter) { a.syncTimeout = d } }

// WithPrometheus reads utilization history from a Prometheus server.
func WithPrometheus(address string) Option {
	return func(a *Adapter) {
		if address == "" {
			return
		}
		client, err := api.NewClient(api.Config{
			Address:      address,
			RoundTripper: &readOnlyTransport{base: api.DefaultRoundTripper, posts: promQueryPaths},
		})
		if err != nil {
			a.logger.Warn("prometheus disabled", "address", address, "error", err)
			return
		}
		a.prom = promv1.NewAPI(client)
	}
}

func New(guard *safety.Guard, opts ...Option) *Adapter {
	a := &Adapter{
		guard:       guard,
		logger:      slog.Default(),
		now:         time.Now,
		rates:       config.Default().Kubernetes.RateCard,
		syncTimeout: syncTimeout,
		clusters:    map[string]*cluster{},
	}
	a.factory = a.kubeconfigClients
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Provider() string { return model.ProviderKubernetes }

func (a *Adapter) ResourceTypes() []string {
	return []string{model.TypeCompute, model.TypeStorage, model.TypeNetwork}
}

// restConfig resolves the account's kubeconfig context.
func (a *Adapter) restConfig(acct model.CloudAccount) (*rest.Config, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if a.kubeconfig != "" {
		rules.ExplicitPath = a.kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: acct.Credential.Value()}
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	cfg.UserAgent = "cloudmind/" + version.Current
	cfg.WrapTransport = func(rt http.RoundTripper) http.RoundTripper {
		return &readOnlyTransport{base: rt}
	}
	return cfg, nil
}

func (a *Adapter) kubeconfigClients(acct model.CloudAccount) (*Clients, error) {
	cfg, err := a.restConfig(acct)
	if err != nil {
		return nil, err
	}
	kube, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	c := &Clients{Kube: kube}
	if mc, err := metricsclient.NewForConfig(cfg); err == nil {
		c.Metrics = mc
	} else {
		a.logger.Debug("metrics client unavailable", "account", acct.ID, "error", err)
	}
	return c, nil
}

// clusterFor returns the cached cluster of an account, building its clients
// and informer factory on first use.
func (a *Adapter) clusterFor(acct model.CloudAccount) (*cluster, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clusters[acct.ID]; ok {
		return c, nil
	}
	clients, err := a.factory(acct)
	if err != nil {
		return nil, err
	}
	c := newCluster(clients, informers.NewSharedInformerFactory(clients.Kube, resync))
	a.clusters[acct.ID] = c
	return c, nil
}

func (a *Adapter) clusterByID(account string) (*cluster, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.clusters[account]
	if !ok {
		return nil, fmt.Errorf("kubernetes: cluster %s not discovered: %w", account, model.ErrNotFound)
	}
	return c, nil
}

// guarded runs one API call through the guard, classifying its error.
func (a *Adapter) guarded(ctx context.Context, call safety.CallDescriptor, fn func(ctx context.Context) error) error {
	return a.guard.Do(ctx, call, func(ctx context.Context) error {
		return classify(ctx, call.Name(), fn(ctx))
	})
}

func (a *Adapter) Discover(ctx context.Context, req providers.DiscoveryRequest) ([]model.Resource, []model.Warning, error) {
	c, err := a.clusterFor(req.Account)
	if err != nil {
		return nil, nil, &model.ProviderAuthError{Provider: model.ProviderKubernetes, Account: req.Account.ID, Region: req.Region, Err: err}
	}
	d := &discovery{a: a, c: c, acct: req.Account, region: req.Region}

	switch req.ResourceType {
	case model.TypeCompute:
		return d.nodes(ctx)
	case model.TypeStorage:
		res, err := d.volumes(ctx)
		return res, nil, err
	case model.TypeNetwork:
		res, err := d.loadBalancers(ctx)
		return res, nil, err
	}
	return nil, nil, fmt.Errorf("kubernetes: unsupported resource type %q: %w", req.ResourceType, model.ErrNotFound)
}

// VerifyAccount checks the API server answers with the context's credentials.
func (a *Adapter) VerifyAccount(ctx context.Context, acct model.CloudAccount) error {
	c, err := a.clusterFor(acct)
	if err != nil {
		return &model.ProviderAuthError{Provider: model.ProviderKubernetes, Account: acct.ID, Err: err}
	}
	err = a.guarded(ctx, safety.Call(model.ProviderKubernetes, "core", "GetServerVersion"), func(ctx context.Context) error {
		v, err := c.clients.Kube.Discovery().ServerVersion()
		if err != nil {
			return err
		}
		a.logger.Debug("kubernetes cluster verified", "account", acct.ID, "version", v.GitVersion)
		return nil
	})
	if err != nil {
		var auth *model.ProviderAuthError
		if errors.As(err, &auth) || model.IsSafetyViolation(err) {
			return err
		}
		return &model.ProviderAuthError{Provider: model.ProviderKubernetes, Account: acct.ID, Err: fmt.Errorf("failed to get server version: %w", err)}
	}
	return nil
}

// Close stops every informer.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, c := range a.clusters {
		c.shutdown()
		delete(a.clusters, id)
	}
	return nil
}
