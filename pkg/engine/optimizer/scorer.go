package optimizer

import (
	"math"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/config"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/history"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// Scorer turns a rule's raw confidence into the emitted confidence.
type Scorer interface {
	Kind() string
	Score(raw float64, rules []string, category string) float64
}

// RuleOnly emits the rule confidence unchanged.
type RuleOnly struct{}

func (RuleOnly) Kind() string { return model.ScorerRuleOnly }

func (RuleOnly) Score(raw float64, _ []string, _ string) float64 { return clamp01(raw) }

// RuleWithMLAdjustment scales confidence by historical acceptance of the same
// (rule, category). The adjustment weight grows with the number of decisions:
//
//	w = n / (n + PriorWeight)
//	conf = raw * ((1 - w) + 2*w*r)
//
// so r = 0.5 leaves confidence unchanged and r > 0.5 raises it.
type RuleWithMLAdjustment struct {
	Snapshot    model.ScoringSnapshot
	PriorWeight float64
}

func (RuleWithMLAdjustment) Kind() string { return model.ScorerRuleWithML }

func (s RuleWithMLAdjustment) Score(raw float64, rules []string, category string) float64 {
	var n, weighted float64
	for _, rule := range rules {
		k := history.FeatureKey(rule, category)
		obs := s.Snapshot.Observations[k]
		if obs <= 0 {
			continue
		}
		n += obs
		weighted += obs * s.Snapshot.AcceptanceRates[k]
	}
	if n == 0 {
		return clamp01(raw)
	}
	r := weighted / n
	prior := s.PriorWeight
	if prior <= 0 {
		prior = 20
	}
	w := n / (n + prior)
	return clamp01(raw * ((1 - w) + 2*w*r))
}

// SelectScorer picks the scorer variant for one evaluation.
func SelectScorer(cfg config.ScorerConfig, snap model.ScoringSnapshot) Scorer {
	if cfg.Mode == model.ScorerRuleOnly || len(snap.Observations) == 0 {
		return RuleOnly{}
	}
	return RuleWithMLAdjustment{Snapshot: snap, PriorWeight: cfg.PriorWeight}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
