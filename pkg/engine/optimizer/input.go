package optimizer

import (
	"time"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/policy"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// EvaluationInput is everything the rules may look at. Recommendations derive
// only from these values.
type EvaluationInput struct {
	ScanID      string
	Resources   []model.Resource
	Utilization []model.UtilizationSummary
	Costs       []model.CostLineItem
	Scoring     model.ScoringSnapshot
}

// index is the per-evaluation lookup view shared by the rules.
type index struct {
	now         time.Time
	resources   []model.Resource
	util        map[string]model.UtilizationSummary
	cost        map[string]float64
	computeCost map[string]float64
	pricing     map[string]string
	costRefs    map[string][]model.Evidence
	commitments []model.Resource
	validator   *policy.Validator
}

func newIndex(in EvaluationInput, now time.Time, v *policy.Validator) *index {
	ix := &index{
		now:         now,
		util:        make(map[string]model.UtilizationSummary, len(in.Utilization)),
		cost:        map[string]float64{},
		computeCost: map[string]float64{},
		pricing:     map[string]string{},
		costRefs:    map[string][]model.Evidence{},
		validator:   v,
	}
	for _, u := range in.Utilization {
		ix.util[u.ResourceID] = u
	}
	for _, li := range in.Costs {
		ix.cost[li.ResourceID] += li.Amount
		if li.Category == model.CategoryCompute {
			ix.computeCost[li.ResourceID] += li.Amount
		}
		if _, ok := ix.pricing[li.ResourceID]; !ok {
			ix.pricing[li.ResourceID] = li.PricingModel
		}
		ix.costRefs[li.ResourceID] = append(ix.costRefs[li.ResourceID], model.Evidence{
			Kind: "cost",
			Ref:  "cost_line_items/" + li.ResourceID + "/" + li.Category,
			Note: li.Source,
		})
	}
	for _, r := range in.Resources {
		if r.Type == model.TypeCommitment {
			ix.commitments = append(ix.commitments, r)
			continue
		}
		if v.Excluded(r.Tags) {
			continue
		}
		ix.resources = append(ix.resources, r)
	}
	return ix
}

// utilization returns the summary for id, unknown when absent.
func (ix *index) utilization(id string) model.UtilizationSummary {
	if u, ok := ix.util[id]; ok {
		return u
	}
	return model.UtilizationSummary{ResourceID: id, Status: model.UtilizationUnknown}
}

// runningDays is how long a running resource has been up. Launch time stands in
// when no transition time is recorded; providers reset it on every start.
func (ix *index) runningDays(r model.Resource) (float64, bool) {
	if d, ok := r.DaysInState(ix.now); ok {
		return d, true
	}
	return ix.lifetimeDays(r)
}

// lifetimeDays is the age since creation, an upper bound on time in any state.
func (ix *index) lifetimeDays(r model.Resource) (float64, bool) {
	if r.CreatedAt.IsZero() {
		return 0, false
	}
	return ix.now.Sub(r.CreatedAt).Hours() / 24, true
}

func stateEvidence(r model.Resource) model.Evidence {
	return model.Evidence{Kind: "state", Ref: "resources/" + r.ID, Note: r.State}
}

func utilEvidence(r model.Resource, metric string) model.Evidence {
	return model.Evidence{Kind: "utilization", Ref: "utilization/" + r.ID + "/" + metric}
}

// ruleEvidence refers to an entry of the recommendation's own Rules list.
func ruleEvidence(id, description string) model.Evidence {
	return model.Evidence{Kind: "rule", Ref: "rules/" + id, Note: description}
}

func (ix *index) evidence(r model.Resource, extra ...model.Evidence) []model.Evidence {
	out := append([]model.Evidence{stateEvidence(r)}, extra...)
	return append(out, ix.costRefs[r.ID]...)
}
