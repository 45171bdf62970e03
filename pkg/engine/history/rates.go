package history

import (
	"context"
	"math"
	"time"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// FeatureKey identifies one (rule, category) acceptance feature.
func FeatureKey(rule, category string) string { return rule + "|" + category }

// Rates computes Beta(1,1)-smoothed acceptance rates per (rule, category).
// Each decision is weighted by decay^(age in days), so old feedback fades.
// Observations holds the decayed decision count used to weight the rate.
func Rates(entries []Feedback, now time.Time, decay float64) model.ScoringSnapshot {
	if decay <= 0 || decay > 1 {
		decay = 1
	}
	accepted := map[string]float64{}
	seen := map[string]float64{}
	for _, f := range entries {
		age := now.Sub(time.Unix(f.Timestamp, 0)).Hours() / 24
		if age < 0 {
			age = 0
		}
		w := math.Pow(decay, age)
		for _, rule := range f.Rules {
			k := FeatureKey(rule, f.Category)
			seen[k] += w
			if f.Accepted {
				accepted[k] += w
			}
		}
	}
	snap := model.ScoringSnapshot{
		AcceptanceRates: make(map[string]float64, len(seen)),
		Observations:    make(map[string]float64, len(seen)),
	}
	for k, n := range seen {
		snap.AcceptanceRates[k] = (accepted[k] + 1) / (n + 2)
		snap.Observations[k] = n
	}
	return snap
}

// Snapshot loads the ledger and computes the current rates.
func (c *Client) Snapshot(ctx context.Context, decay float64) (model.ScoringSnapshot, error) {
	entries, err := c.Load(ctx)
	if err != nil {
		return model.ScoringSnapshot{}, err
	}
	return Rates(entries, c.now(), decay), nil
}
