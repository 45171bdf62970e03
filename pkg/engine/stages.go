package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/optimizer"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/pricing"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/throttle"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers"
)

// globalRegion stands in for accounts without regions (clusters, global services).
const globalRegion = "global"

type target struct {
	account model.CloudAccount
	adapter providers.Adapter
	regions []string
}

func regionsFor(opts model.ScanOptions, acct model.CloudAccount) []string {
	if len(acct.Regions) == 0 {
		return []string{globalRegion}
	}
	return opts.RegionsFor(acct)
}

func (e *Engine) targets(j *job) []target {
	snap := j.snapshot()
	var out []target
	for _, acct := range snap.Accounts {
		if !snap.Options.AllowsProvider(acct.Provider) {
			continue
		}
		a, err := e.registry.Get(acct.Provider)
		if err != nil {
			j.warn(model.Warning{
				Kind:       model.WarnInternal,
				ScopeLevel: model.ScopeAccount,
				Scope:      model.AccountScope(acct.Provider, acct.ID),
				Message:    err.Error(),
			})
			continue
		}
		out = append(out, target{account: acct, adapter: a, regions: regionsFor(snap.Options, acct)})
	}
	return out
}

func scopeOf(scanID string, acct model.CloudAccount, region string) safety.Scope {
	return safety.Scope{ScanID: scanID, AccountID: acct.ID, Provider: acct.Provider, Region: region}
}

type discovered struct {
	resources []model.Resource
	warnings  []model.Warning
}

// discover verifies each account, then fans out one task per
// (account, region, resource type).
func (e *Engine) discover(s *stageRun, j *job) error {
	scanID := j.snapshot().ID
	targets := e.targets(j)

	total := 0
	for _, t := range targets {
		if _, ok := t.adapter.(providers.Verifier); ok {
			total++
		}
		total += len(t.regions) * len(t.adapter.ResourceTypes())
	}
	j.setTotal(model.StatusDiscovering, total)

	for _, t := range targets {
		v, ok := t.adapter.(providers.Verifier)
		if !ok {
			continue
		}
		acct := t.account
		e.submit(s, j, model.StatusDiscovering, acct.Provider, scopeOf(scanID, acct, ""),
			func(ctx context.Context) error { return v.VerifyAccount(ctx, acct) },
			func(err error) {
				if err == nil {
					return
				}
				j.markAccountFailed(acct.ID)
				j.warn(model.AsWarning(err, model.Warning{
					Kind:       model.WarnProviderAuth,
					ScopeLevel: model.ScopeAccount,
					Scope:      model.AccountScope(acct.Provider, acct.ID),
				}))
				e.logger.Warn("account preflight failed", "scan_id", scanID, "provider", acct.Provider, "error", err)
			})
	}
	s.wg.Wait()
	if s.err() != nil {
		return s.err()
	}

	for _, t := range targets {
		types := t.adapter.ResourceTypes()
		if j.accountFailed(t.account.ID) {
			j.taskDone(model.StatusDiscovering, len(t.regions)*len(types))
			continue
		}
		for _, region := range t.regions {
			for _, rt := range types {
				e.submitDiscovery(s, j, scanID, t, region, rt)
			}
		}
	}
	s.wg.Wait()

	j.mu.Lock()
	j.resources = providers.Dedup(j.resources)
	j.mu.Unlock()
	return nil
}

func (e *Engine) submitDiscovery(s *stageRun, j *job, scanID string, t target, region, rt string) {
	acct, a := t.account, t.adapter
	var out discovered
	e.submit(s, j, model.StatusDiscovering, acct.Provider, scopeOf(scanID, acct, region),
		func(ctx context.Context) error {
			var err error
			out, err = throttle.RetryValue(ctx, e.backoff(), func() (discovered, error) {
				res, warns, err := providers.RunDiscovery(ctx, a, providers.DiscoveryRequest{Account: acct, Region: region, ResourceType: rt})
				return discovered{resources: res, warnings: warns}, err
			})
			if errors.Is(err, context.DeadlineExceeded) && s.work.Err() == nil {
				err = fmt.Errorf("task exceeded %s: %w", e.cfg.TaskTimeout, err)
			}
			return err
		},
		func(err error) {
			if err != nil {
				j.warn(model.AsWarning(&model.PartialDiscoveryError{
					Provider: acct.Provider, Account: acct.ID, Region: region, ResourceType: rt, Err: err,
				}, model.Warning{}))
				return
			}
			j.warn(out.warnings...)
			j.addResources(out.resources)
		})
}

func (e *Engine) adapterFor(res model.Resource) (providers.Adapter, bool) {
	a, err := e.registry.Get(res.Provider)
	return a, err == nil
}

func (j *job) resourcesCopy() []model.Resource {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]model.Resource(nil), j.resources...)
}

// collectMetrics summarises utilization for every discovered resource.
func (e *Engine) collectMetrics(s *stageRun, j *job) error {
	snap := j.snapshot()
	resources := j.resourcesCopy()
	j.setTotal(model.StatusCollectingMetrics, len(resources))

	for _, res := range resources {
		a, ok := e.adapterFor(res)
		if !ok || res.Type == model.TypeCommitment {
			j.taskDone(model.StatusCollectingMetrics, 1)
			continue
		}
		var sum model.UtilizationSummary
		e.submit(s, j, model.StatusCollectingMetrics, res.Provider, scopeFor(snap.ID, res),
			func(ctx context.Context) error {
				var err error
				sum, err = e.collector.Collect(ctx, a, res, snap.Options.Window)
				return err
			},
			func(err error) {
				if err != nil {
					sum = model.UtilizationSummary{ResourceID: res.ID, Window: snap.Options.Window, Status: model.UtilizationUnknown, Reason: err.Error()}
				}
				j.addUtilization(sum)
			})
	}
	return nil
}

func scopeFor(scanID string, res model.Resource) safety.Scope {
	return safety.Scope{ScanID: scanID, AccountID: res.AccountID, Provider: res.Provider, Region: res.Region}
}

// calculateCosts prices every resource, then cross-validates against billing
// exports when the caller asked for it.
func (e *Engine) calculateCosts(s *stageRun, j *job) error {
	snap := j.snapshot()
	resources := j.resourcesCopy()

	var billers []target
	if snap.Options.ValidateBilling {
		for _, t := range e.targets(j) {
			if _, ok := t.adapter.(providers.BillingExporter); ok && !j.accountFailed(t.account.ID) {
				billers = append(billers, t)
			}
		}
	}
	j.setTotal(model.StatusCalculatingCosts, len(resources)+len(billers))

	for _, res := range resources {
		a, ok := e.adapterFor(res)
		if !ok {
			j.taskDone(model.StatusCalculatingCosts, 1)
			continue
		}
		var items []model.CostLineItem
		var warns []model.Warning
		e.submit(s, j, model.StatusCalculatingCosts, res.Provider, scopeFor(snap.ID, res),
			func(ctx context.Context) error {
				var err error
				items, warns, err = e.resolver.Price(ctx, a, res)
				return err
			},
			func(err error) {
				if err != nil {
					j.warn(model.AsWarning(err, model.Warning{Kind: model.WarnPricingUnavailable, ScopeLevel: model.ScopeResource, Scope: res.ID}))
					return
				}
				j.warn(warns...)
				j.addCosts(items)
			})
	}

	var mu sync.Mutex
	var exports []model.BillingExport
	end := e.now().UTC()
	period := providers.Period{Start: end.Add(-snap.Options.Window), End: end}
	for _, t := range billers {
		acct := t.account
		be := t.adapter.(providers.BillingExporter)
		e.submit(s, j, model.StatusCalculatingCosts, acct.Provider, scopeOf(snap.ID, acct, ""),
			func(ctx context.Context) error {
				exp, err := be.GetBillingExport(ctx, acct, period)
				if err != nil {
					return err
				}
				exp.Provider = acct.Provider
				mu.Lock()
				exports = append(exports, exp)
				mu.Unlock()
				return nil
			},
			func(err error) {
				if err != nil {
					j.warn(model.Warning{
						Kind:       model.WarnPricingUnavailable,
						ScopeLevel: model.ScopeAccount,
						Scope:      model.AccountScope(acct.Provider, acct.ID),
						Message:    fmt.Sprintf("billing export unavailable: %v", err),
					})
				}
			})
	}
	s.wg.Wait()

	if err := e.resolver.Flush(); err != nil {
		e.logger.Warn("pricing cache flush failed", "scan_id", snap.ID, "error", err)
	}
	if len(exports) == 0 {
		return nil
	}
	j.mu.Lock()
	validated, warns := pricing.CrossValidate(j.costs, exports, snap.Options.ToleranceOr(e.cfg.Tolerance))
	j.costs = validated
	j.mu.Unlock()
	j.warn(warns...)
	return nil
}

// generateRecommendations runs the optimizer over the assembled inputs.
func (e *Engine) generateRecommendations(s *stageRun, j *job) error {
	j.setTotal(model.StatusGeneratingRecommendations, 1)
	defer j.taskDone(model.StatusGeneratingRecommendations, 1)
	snap := j.snapshot()

	var scoring model.ScoringSnapshot
	if e.history != nil {
		var err error
		scoring, err = e.history.Snapshot(s.work, e.decay)
		if err != nil {
			e.logger.Warn("acceptance history unavailable, scoring rule-only", "scan_id", snap.ID, "error", err)
			scoring = model.ScoringSnapshot{}
		}
	}

	j.mu.Lock()
	in := optimizer.EvaluationInput{
		ScanID:      snap.ID,
		Resources:   append([]model.Resource(nil), j.resources...),
		Utilization: append([]model.UtilizationSummary(nil), j.utilization...),
		Costs:       append([]model.CostLineItem(nil), j.costs...),
		Scoring:     scoring,
	}
	j.mu.Unlock()

	recs, used := e.optimizer.Evaluate(s.work, in)
	j.mu.Lock()
	j.recs = recs
	j.scoring = used
	j.mu.Unlock()
	return nil
}
