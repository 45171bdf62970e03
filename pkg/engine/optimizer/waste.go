package optimizer

import (
	"context"
	"fmt"
	"math"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/config"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// Waste rule ids.
const (
	RuleStoppedCompute    = "waste.stopped_compute"
	RuleUnattachedStorage = "waste.unattached_storage"
	RuleUnassociatedIP    = "waste.unassociated_ip"
	RuleIdleCompute       = "waste.idle_compute"
	RuleOldSnapshot       = "waste.old_snapshot"
	RuleIdleNetwork       = "waste.idle_network"
)

// unknownSinceConfidence applies when a resource is stopped or unattached but
// the provider does not report when that started.
const unknownSinceConfidence = 0.5

// wasteRule flags resources that cost money while doing nothing. Missing
// utilization never blocks a waste finding.
type wasteRule struct {
	cfg config.WasteConfig
}

func (wasteRule) Name() string { return model.RecWaste }

func (r wasteRule) Run(_ context.Context, ix *index) []model.OptimizationRecommendation {
	var out []model.OptimizationRecommendation
	for _, res := range ix.resources {
		if rec, ok := r.check(ix, res); ok {
			out = append(out, rec)
		}
	}
	return out
}

func (r wasteRule) check(ix *index, res model.Resource) (model.OptimizationRecommendation, bool) {
	rec := model.OptimizationRecommendation{
		ResourceIDs:             []string{res.ID},
		Category:                model.RecWaste,
		EstimatedMonthlySavings: ix.cost[res.ID],
	}
	inState, sinceKnown := res.DaysInState(ix.now)
	lifetime, created := ix.lifetimeDays(res)
	util := ix.utilization(res.ID)
	kind := res.Attr("kind")

	switch {
	case (res.Type == model.TypeCompute || res.Type == model.TypeDatabase) && res.State == model.StateStopped:
		switch {
		case sinceKnown && inState > r.cfg.StoppedDays:
			rec.RawConfidence = math.Min(0.99, 0.9+0.002*(inState-r.cfg.StoppedDays))
			rec.Rationale = fmt.Sprintf("stopped for %.0f days", inState)
		case !sinceKnown && created && lifetime > r.cfg.StoppedDays:
			rec.RawConfidence = unknownSinceConfidence
			rec.Rationale = fmt.Sprintf("stopped since an unknown date; launched %.0f days ago", lifetime)
		default:
			return rec, false
		}
		rec.Rules = []string{RuleStoppedCompute}
		rec.Risk = model.RiskLow
		rec.Action = "Snapshot and terminate the stopped instance"
		rec.Evidence = ix.evidence(res)

	case res.Type == model.TypeStorage && res.Attr("attached") == "false":
		switch {
		case sinceKnown && inState > r.cfg.UnattachedDays:
			rec.RawConfidence = 0.85
			rec.Rationale = fmt.Sprintf("unattached for %.0f days", inState)
		case !sinceKnown && created && lifetime > r.cfg.UnattachedDays:
			rec.RawConfidence = unknownSinceConfidence
			rec.Rationale = fmt.Sprintf("unattached since an unknown date; created %.0f days ago", lifetime)
		default:
			return rec, false
		}
		rec.Rules = []string{RuleUnattachedStorage}
		rec.Risk = model.RiskLow
		rec.Action = "Snapshot and delete the unattached volume"
		rec.Evidence = ix.evidence(res)

	case kind == "ip" && res.Attr("associated") == "false":
		rec.Rules = []string{RuleUnassociatedIP}
		rec.RawConfidence = 0.95
		rec.Risk = model.RiskLow
		rec.Action = "Release the unassociated address"
		rec.Rationale = "address is not associated with any interface"
		rec.Evidence = ix.evidence(res)

	case kind == "snapshot":
		if !created || lifetime <= r.cfg.SnapshotAgeDays {
			return rec, false
		}
		rec.Rules = []string{RuleOldSnapshot}
		rec.RawConfidence = 0.6
		rec.Risk = model.RiskMedium
		rec.Action = "Review and delete the old snapshot"
		rec.Rationale = fmt.Sprintf("snapshot is %.0f days old", lifetime)
		rec.Evidence = ix.evidence(res)

	case (kind == "nat" || kind == "lb") && util.Known():
		req, ok := util.Metric("requests")
		if !ok || req.Count == 0 || req.P99 != 0 {
			return rec, false
		}
		rec.Rules = []string{RuleIdleNetwork}
		rec.RawConfidence = 0.8
		rec.Risk = model.RiskMedium
		rec.Action = "Delete the idle " + kindName(kind)
		rec.Rationale = fmt.Sprintf("no requests in %d samples", req.Count)
		rec.Evidence = ix.evidence(res, utilEvidence(res, "requests"))

	case res.Type == model.TypeCompute && res.State == model.StateRunning && util.Status == model.UtilizationOK:
		cpu, ok := util.Metric("cpu")
		if !ok || cpu.P95 >= r.cfg.IdleCPUPercent {
			return rec, false
		}
		rec.Rules = []string{RuleIdleCompute}
		rec.RawConfidence = 0.75
		rec.Risk = model.RiskMedium
		rec.Action = "Stop or terminate the idle instance"
		rec.Rationale = fmt.Sprintf("p95 CPU %.1f%% below %.0f%%", cpu.P95, r.cfg.IdleCPUPercent)
		rec.Evidence = ix.evidence(res, utilEvidence(res, "cpu"))

	default:
		return rec, false
	}
	return rec, true
}

func kindName(kind string) string {
	if kind == "lb" {
		return "load balancer"
	}
	return "NAT gateway"
}
