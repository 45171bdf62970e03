package model

import (
	"time"
)

// JobStatus is a ScanJob lifecycle state.
type JobStatus string

const (
	StatusQueued                    JobStatus = "queued"
	StatusDiscovering               JobStatus = "discovering"
	StatusCollectingMetrics         JobStatus = "collecting_metrics"
	StatusCalculatingCosts          JobStatus = "calculating_costs"
	StatusGeneratingRecommendations JobStatus = "generating_recommendations"
	StatusCompleted                 JobStatus = "completed"
	StatusFailed                    JobStatus = "failed"
	StatusCancelled                 JobStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var forward = map[JobStatus]JobStatus{
	StatusQueued:                    StatusDiscovering,
	StatusDiscovering:               StatusCollectingMetrics,
	StatusCollectingMetrics:         StatusCalculatingCosts,
	StatusCalculatingCosts:          StatusGeneratingRecommendations,
	StatusGeneratingRecommendations: StatusCompleted,
}

// CanTransition validates a state machine edge.
func CanTransition(from, to JobStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed || to == StatusCancelled {
		return true
	}
	return forward[from] == to
}

// ScanOptions are caller-supplied knobs for one scan.
type ScanOptions struct {
	Regions         []string      `json:"regions,omitempty"`
	Window          time.Duration `json:"window,omitempty"`
	Providers       []string      `json:"providers,omitempty"`
	ValidateBilling bool          `json:"validate_billing"`
	Tolerance       *float64      `json:"tolerance,omitempty"` // nil uses the configured default; 0 is exact
}

// ToleranceOr returns the requested billing tolerance, or def when unset.
func (o ScanOptions) ToleranceOr(def float64) float64 {
	if o.Tolerance == nil {
		return def
	}
	return *o.Tolerance
}

// AllowsProvider applies the provider allow-list (empty means all).
func (o ScanOptions) AllowsProvider(p string) bool {
	if len(o.Providers) == 0 {
		return true
	}
	for _, v := range o.Providers {
		if v == p {
			return true
		}
	}
	return false
}

// RegionsFor narrows an account's enabled regions by the option filter.
func (o ScanOptions) RegionsFor(acct CloudAccount) []string {
	if len(o.Regions) == 0 {
		return acct.Regions
	}
	want := make(map[string]bool, len(o.Regions))
	for _, r := range o.Regions {
		want[r] = true
	}
	var out []string
	for _, r := range acct.Regions {
		if want[r] {
			out = append(out, r)
		}
	}
	return out
}

// StageProgress counts tasks for one pipeline stage.
type StageProgress struct {
	Total int `json:"total"`
	Done  int `json:"done"`
}

// Progress is reported by get_status.
type Progress struct {
	Percent float64                     `json:"percent"`
	Stages  map[JobStatus]StageProgress `json:"stages,omitempty"`
}

// ScanJob is owned by the orchestrator; callers only see copies.
type ScanJob struct {
	ID        string         `json:"id"`
	Accounts  []CloudAccount `json:"accounts"`
	Options   ScanOptions    `json:"options"`
	Status    JobStatus      `json:"status"`
	Progress  Progress       `json:"progress"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Warnings  []Warning      `json:"warnings"`
	Errors    []string       `json:"errors,omitempty"`
}

// Summary totals for a ScanResult.
type Summary struct {
	ResourceCount       int                `json:"resource_count"`
	MonthlyCost         float64            `json:"monthly_cost"`
	CostByCategory      map[string]float64 `json:"cost_by_category"`
	PotentialSavings    float64            `json:"potential_savings"`
	RecommendationCount map[string]int     `json:"recommendation_count"`
	StaleLineItems      int                `json:"stale_line_items"`
}

// ScoringSnapshot captures the acceptance-rate features used by the ML scorer so
// that every confidence is derivable from the result itself.
type ScoringSnapshot struct {
	Scorer          string             `json:"scorer"`
	AcceptanceRates map[string]float64 `json:"acceptance_rates,omitempty"`
	Observations    map[string]float64 `json:"observations,omitempty"`
}

// ScanResult is written once per scan id.
type ScanResult struct {
	ScanID          string                       `json:"scan_id"`
	GeneratedAt     time.Time                    `json:"generated_at"`
	Partial         bool                         `json:"partial"`
	Resources       []Resource                   `json:"resources"`
	Utilization     []UtilizationSummary         `json:"utilization"`
	CostLineItems   []CostLineItem               `json:"cost_line_items"`
	Recommendations []OptimizationRecommendation `json:"recommendations"`
	Summary         Summary                      `json:"summary"`
	Warnings        []Warning                    `json:"warnings"`
	Scoring         ScoringSnapshot              `json:"scoring"`
}

// Summarize fills Summary from the result contents.
func (r *ScanResult) Summarize() {
	s := Summary{
		ResourceCount:       len(r.Resources),
		CostByCategory:      map[string]float64{},
		RecommendationCount: map[string]int{},
	}
	for _, li := range r.CostLineItems {
		s.MonthlyCost += li.Amount
		s.CostByCategory[li.Category] += li.Amount
		if li.Stale {
			s.StaleLineItems++
		}
	}
	for _, rec := range r.Recommendations {
		s.RecommendationCount[rec.Category]++
	}
	s.PotentialSavings = PotentialSavings(r.Recommendations)
	r.Summary = s
}

// PotentialSavings sums the best positive saving per resource. Recommendations
// on the same resource are alternatives and are not added together.
func PotentialSavings(recs []OptimizationRecommendation) float64 {
	best := map[string]float64{}
	for _, rec := range recs {
		id := rec.PrimaryResource()
		if rec.EstimatedMonthlySavings > best[id] {
			best[id] = rec.EstimatedMonthlySavings
		}
	}
	var total float64
	for _, v := range best {
		total += v
	}
	return total
}

// ResourceIndex maps resource id to resource.
func (r *ScanResult) ResourceIndex() map[string]Resource {
	idx := make(map[string]Resource, len(r.Resources))
	for _, res := range r.Resources {
		idx[res.ID] = res
	}
	return idx
}
