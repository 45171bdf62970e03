package optimizer

import (
	"context"
	"fmt"
	"math"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/config"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

const (
	RuleDownsize = "rightsizing.downsize"
	RuleUpsize   = "rightsizing.upsize"
)

// rightsizingRule moves a SKU one step along its family ladder. It needs known
// utilization; resources with unknown status are never rightsized.
type rightsizingRule struct {
	cfg config.RightsizingConfig
}

func (rightsizingRule) Name() string { return model.RecRightsizing }

func (r rightsizingRule) Run(_ context.Context, ix *index) []model.OptimizationRecommendation {
	var out []model.OptimizationRecommendation
	for _, res := range ix.resources {
		switch res.Type {
		case model.TypeCompute, model.TypeDatabase, model.TypeCache:
		default:
			continue
		}
		if res.State != model.StateRunning {
			continue
		}
		util := ix.utilization(res.ID)
		if !util.Known() {
			continue
		}
		cpu, ok := util.Metric("cpu")
		if !ok {
			continue
		}
		if util.Seasonal && cpu.P99 > r.cfg.SeasonalSkipP99 {
			continue
		}
		if rec, ok := r.evaluate(ix, res, util, cpu); ok {
			out = append(out, rec)
		}
	}
	return out
}

func (r rightsizingRule) evaluate(ix *index, res model.Resource, util model.UtilizationSummary, cpu model.MetricSummary) (model.OptimizationRecommendation, bool) {
	rec := model.OptimizationRecommendation{
		ResourceIDs: []string{res.ID},
		Category:    model.RecRightsizing,
		Evidence:    ix.evidence(res, utilEvidence(res, "cpu")),
	}
	cost := ix.computeCost[res.ID]

	var target string
	var ok bool
	switch {
	case cpu.P95 < r.cfg.DownsizeP95:
		target, ok = StepDown(res.SKU)
		rec.Rules = []string{RuleDownsize}
		rec.RawConfidence = 0.7 + 0.25*(1-cpu.P95/r.cfg.DownsizeP95)
		rec.EstimatedMonthlySavings = cost / 2
		rec.Risk = model.RiskMedium
		if util.Seasonal {
			rec.Risk = model.RiskHigh
		}
		rec.Rationale = fmt.Sprintf("p95 CPU %.1f%% below %.0f%%", cpu.P95, r.cfg.DownsizeP95)
	case cpu.P95 > r.cfg.UpsizeP95:
		target, ok = StepUp(res.SKU)
		rec.Rules = []string{RuleUpsize}
		headroom := 100 - r.cfg.UpsizeP95
		if headroom <= 0 {
			headroom = 1
		}
		rec.RawConfidence = 0.7 + 0.25*math.Min(1, (cpu.P95-r.cfg.UpsizeP95)/headroom)
		rec.EstimatedMonthlySavings = -cost
		rec.Risk = model.RiskHigh
		rec.Rationale = fmt.Sprintf("p95 CPU %.1f%% above %.0f%%", cpu.P95, r.cfg.UpsizeP95)
	default:
		return rec, false
	}
	if !ok {
		return rec, false
	}
	if err := ix.validator.ValidateTarget(target); err != nil {
		return rec, false
	}
	rec.Action = fmt.Sprintf("Resize %s to %s", res.SKU, target)

	if util.Seasonal {
		rec.RawConfidence -= r.cfg.SeasonalPenalty
		rec.Rationale += "; seasonal workload"
	}
	if util.Status == model.UtilizationLowConfidence {
		rec.RawConfidence *= r.cfg.LowConfidenceFactor
		rec.Rationale += "; sparse utilization data"
	}
	rec.RawConfidence = clamp01(rec.RawConfidence)
	return rec, true
}
