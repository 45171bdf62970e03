package optimizer

import (
	"context"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/policy"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// architectureRule runs the compiled CEL rule set against every resource.
type architectureRule struct {
	cel *policy.CELEngine
}

func (architectureRule) Name() string { return model.RecArchitecture }

func (r architectureRule) Run(ctx context.Context, ix *index) []model.OptimizationRecommendation {
	var out []model.OptimizationRecommendation
	for _, res := range ix.resources {
		ec := policy.NewEvaluationContext(res, ix.cost[res.ID], ix.utilization(res.ID))
		matches, err := r.cel.Evaluate(ctx, ec)
		if err != nil {
			return out
		}
		for _, m := range matches {
			out = append(out, model.OptimizationRecommendation{
				ResourceIDs:             []string{res.ID},
				Category:                model.RecArchitecture,
				Action:                  m.Action,
				EstimatedMonthlySavings: ix.cost[res.ID] * m.SavingsFactor,
				RawConfidence:           m.Confidence,
				Risk:                    m.Risk,
				Rationale:               m.Description,
				Evidence:                ix.evidence(res, ruleEvidence(m.ID, m.Description)),
				Rules:                   []string{m.ID},
			})
		}
	}
	return out
}
