// Package app assembles the engine and its collaborators from configuration.
// Both the API server and the one-shot CLI scan are built here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/config"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/history"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/metrics"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/optimizer"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/pricing"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/throttle"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers/aws"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers/azure"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers/gcp"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers/k8s"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers/mock"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/storage"
)

// Options tune how the App is assembled.
type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
	// Demo registers the seeded mock adapter instead of an empty one.
	Demo bool
	// AuditSink overrides the result store as the audit destination.
	AuditSink safety.Sink
}

// App owns every long-lived component. Close releases them in reverse order
// of construction.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Engine   *engine.Engine
	Store    storage.Store
	History  *history.Client
	Guard    *safety.Guard
	Registry *providers.Registry

	resolver *pricing.Resolver
	closers  []func() error
}

// Build wires the engine from cfg.
func Build(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	a := &App{Config: cfg, Logger: opts.Logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Store, err = storage.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, a.Store.Close)

	sink := opts.AuditSink
	if sink == nil {
		sink = a.Store
	}
	audit := safety.NewAuditLog(sink)
	a.Guard = safety.NewGuard(audit,
		safety.WithLogger(a.Logger),
		safety.WithLimits(throttle.NewRegistry(cfg.Scan.RateLimit, cfg.Scan.Burst)),
	)

	a.Registry = a.providers(opts)

	a.resolver = pricing.NewResolver(
		pricing.WithCache(pricing.NewCache(cfg.Pricing.CachePath, cfg.Pricing.TTL)),
		pricing.WithLogger(a.Logger),
		pricing.WithClock(opts.Now),
	)

	opt, err := optimizer.New(
		optimizer.WithLogger(a.Logger),
		optimizer.WithClock(opts.Now),
		optimizer.WithHeuristics(cfg.Heuristics),
		optimizer.WithPolicy(cfg.Policy),
		optimizer.WithScorer(cfg.Scorer),
	)
	if err != nil {
		return nil, err
	}

	a.History, err = history.Open(ctx, cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("open feedback ledger: %w", err)
	}

	engineOpts := []engine.Option{
		engine.WithLogger(a.Logger),
		engine.WithClock(opts.Now),
		engine.WithScanConfig(cfg.Scan),
		engine.WithStore(a.Store),
		engine.WithCollector(metrics.New(metrics.WithLogger(a.Logger), metrics.WithClock(opts.Now))),
		engine.WithResolver(a.resolver),
		engine.WithOptimizer(opt),
		engine.WithHistory(a.History, cfg.Scorer.DecayFactor),
		engine.WithAuditLog(audit),
	}
	if cfg.Archive.Target != "" {
		blobs, err := storage.OpenBlobStore(ctx, cfg.Archive.Target, cfg.Archive.Region)
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithArchive(blobs))
	}

	a.Engine, err = engine.New(a.Registry, engineOpts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) providers(opts Options) *providers.Registry {
	cfg := a.Config
	reg := providers.NewRegistry()

	reg.Register(aws.New(a.Guard,
		aws.WithLogger(a.Logger.With("provider", model.ProviderAWS)),
		aws.WithClock(opts.Now),
		aws.WithCalibration(cfg.Pricing.Calibrate),
	))
	reg.Register(azure.New(a.Guard,
		azure.WithLogger(a.Logger.With("provider", model.ProviderAzure)),
		azure.WithClock(opts.Now),
	))

	g := gcp.New(a.Guard,
		gcp.WithLogger(a.Logger.With("provider", model.ProviderGCP)),
		gcp.WithClock(opts.Now),
		gcp.WithBillingExport(cfg.GCP.BillingProject, cfg.GCP.BillingTable),
	)
	reg.Register(g)
	a.closers = append(a.closers, g.Close)

	kubeOpts := []k8s.Option{
		k8s.WithLogger(a.Logger.With("provider", model.ProviderKubernetes)),
		k8s.WithClock(opts.Now),
		k8s.WithKubeconfig(cfg.Kubernetes.Kubeconfig),
		k8s.WithRateCard(cfg.Kubernetes.RateCard),
	}
	if cfg.Kubernetes.PrometheusURL != "" {
		kubeOpts = append(kubeOpts, k8s.WithPrometheus(cfg.Kubernetes.PrometheusURL))
	}
	kube := k8s.New(a.Guard, kubeOpts...)
	reg.Register(kube)
	a.closers = append(a.closers, kube.Close)

	if opts.Demo {
		reg.Register(mock.Demo(a.Guard, opts.Now()))
	} else {
		reg.Register(mock.New(a.Guard))
	}
	return reg
}

// Accounts converts the configured accounts, filtered by provider when
// providers is non-empty.
func Accounts(cfg config.Config, providers ...string) []model.CloudAccount {
	allow := model.ScanOptions{Providers: providers}
	var out []model.CloudAccount
	for _, ac := range cfg.Accounts {
		if !allow.AllowsProvider(ac.Provider) {
			continue
		}
		out = append(out, model.CloudAccount{
			ID:         ac.ID,
			Provider:   ac.Provider,
			Credential: model.CredentialRef(ac.Credential),
			Regions:    ac.Regions,
		})
	}
	return out
}

// DemoAccount is the account the seeded mock adapter answers for.
func DemoAccount() model.CloudAccount {
	return model.CloudAccount{ID: mock.DemoAccount, Provider: model.ProviderMock, Regions: []string{"us-east-1"}}
}

// Close waits briefly for running scans, persists the price cache and closes
// every component.
func (a *App) Close() error {
	var errs []error
	if a.Engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		errs = append(errs, a.Engine.Shutdown(ctx))
		cancel()
	}
	if a.resolver != nil {
		if err := a.resolver.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("save price cache: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
