package optimizer

import (
	"context"
	"fmt"
	"math"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/config"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/policy"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

const RuleReservation = "reservation.steady_state"

// reservationRule recommends commitments for long-running on-demand capacity.
// It does not use utilization.
type reservationRule struct {
	cfg config.ReservationConfig
}

func (reservationRule) Name() string { return model.RecReservation }

func (r reservationRule) Run(_ context.Context, ix *index) []model.OptimizationRecommendation {
	var out []model.OptimizationRecommendation
	for _, res := range ix.resources {
		if res.Type != model.TypeCompute && res.Type != model.TypeDatabase {
			continue
		}
		if res.State != model.StateRunning || ix.pricing[res.ID] != model.PricingOnDemand {
			continue
		}
		days, ok := ix.runningDays(res)
		if !ok || days < r.cfg.MinDays {
			continue
		}
		cost := ix.computeCost[res.ID]
		if cost <= 0 || ix.covered(res) {
			continue
		}
		out = append(out, model.OptimizationRecommendation{
			ResourceIDs:             []string{res.ID},
			Category:                model.RecReservation,
			Action:                  fmt.Sprintf("Purchase a 1-year commitment for %s in %s", res.SKU, res.Region),
			EstimatedMonthlySavings: cost * r.cfg.Discount,
			RawConfidence:           0.6 + 0.3*math.Min(1, days/180),
			Risk:                    model.RiskMedium,
			Rationale:               fmt.Sprintf("running on-demand for %.0f days", days),
			Evidence:                ix.evidence(res),
			Rules:                   []string{RuleReservation},
		})
	}
	return out
}

// covered reports whether an existing commitment in the same account and
// region (or a global one) already applies to the resource's SKU or family.
func (ix *index) covered(res model.Resource) bool {
	for _, c := range ix.commitments {
		if c.AccountID != res.AccountID {
			continue
		}
		if c.Region != res.Region && c.Region != "global" && c.Region != "" {
			continue
		}
		if c.SKU != "" && c.SKU == res.SKU {
			return true
		}
		if fam := c.Attr("instance_family"); fam != "" && fam == policy.Family(res.SKU) {
			return true
		}
	}
	return false
}
