package optimizer

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/config"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/history"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func daysAgo(d float64) *time.Time {
	t := now.Add(-time.Duration(d * 24 * float64(time.Hour)))
	return &t
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(append([]Option{WithClock(func() time.Time { return now }), WithLogger(telemetry.Discard())}, opts...)...)
	require.NoError(t, err)
	return e
}

func okUtil(id string, p95, p99 float64) model.UtilizationSummary {
	return model.UtilizationSummary{
		ResourceID: id,
		Status:     model.UtilizationOK,
		Metrics:    map[string]model.MetricSummary{"cpu": {Count: 720, P95: p95, P99: p99}},
	}
}

func byCategory(recs []model.OptimizationRecommendation, resource, category string) (model.OptimizationRecommendation, bool) {
	for _, r := range recs {
		if r.PrimaryResource() == resource && r.Category == category {
			return r, true
		}
	}
	return model.OptimizationRecommendation{}, false
}

// Stopped for 45 days with no samples: waste with high confidence, no rightsizing.
func TestStoppedComputeWithUnknownUtilization(t *testing.T) {
	res := model.Resource{ID: "vm-1", AccountID: "a", Region: "r", Type: model.TypeCompute, SKU: "m5.large",
		State: model.StateStopped, StateSince: daysAgo(45)}
	in := EvaluationInput{
		ScanID:      "scan-a",
		Resources:   []model.Resource{res},
		Utilization: []model.UtilizationSummary{{ResourceID: "vm-1", Status: model.UtilizationUnknown}},
		Costs:       []model.CostLineItem{{ResourceID: "vm-1", AccountID: "a", Category: model.CategoryCompute, PricingModel: model.PricingOnDemand}},
	}

	recs, snap := newEngine(t).Evaluate(context.Background(), in)
	waste, ok := byCategory(recs, "vm-1", model.RecWaste)
	require.True(t, ok)
	assert.GreaterOrEqual(t, waste.Confidence, 0.9)
	assert.InDelta(t, 0.93, waste.Confidence, 1e-9)
	assert.Equal(t, model.RiskLow, waste.Risk)
	assert.Equal(t, []string{RuleStoppedCompute}, waste.Rules)
	assert.Equal(t, model.ScorerRuleOnly, waste.Scorer)
	assert.Equal(t, model.ScorerRuleOnly, snap.Scorer)

	_, ok = byCategory(recs, "vm-1", model.RecRightsizing)
	assert.False(t, ok, "unknown utilization must not be rightsized")
}

// Launch time is not time stopped: without a transition time the finding is
// kept but downgraded, and the rationale does not claim a stopped duration.
func TestStoppedComputeWithUnknownStopDate(t *testing.T) {
	mk := func(id string, created float64) model.Resource {
		return model.Resource{ID: id, AccountID: "a", Region: "r", Type: model.TypeCompute, SKU: "m5.large",
			State: model.StateStopped, CreatedAt: *daysAgo(created)}
	}
	in := EvaluationInput{
		ScanID:    "s",
		Resources: []model.Resource{mk("old", 200), mk("new", 10)},
	}
	recs, _ := newEngine(t).Evaluate(context.Background(), in)

	rec, ok := byCategory(recs, "old", model.RecWaste)
	require.True(t, ok)
	assert.InDelta(t, 0.5, rec.Confidence, 1e-9)
	assert.NotContains(t, rec.Rationale, "stopped for")
	assert.Contains(t, rec.Rationale, "unknown date")

	_, ok = byCategory(recs, "new", model.RecWaste)
	assert.False(t, ok, "launched too recently to have been stopped long enough")
}

func TestRightsizing(t *testing.T) {
	mk := func(id, sku string) model.Resource {
		return model.Resource{ID: id, AccountID: "a", Region: "r", Type: model.TypeCompute, SKU: sku,
			State: model.StateRunning, StateSince: daysAgo(10)}
	}
	cost := func(id string, amt float64) model.CostLineItem {
		return model.CostLineItem{ResourceID: id, AccountID: "a", Category: model.CategoryCompute, Amount: amt, PricingModel: model.PricingOnDemand}
	}

	seasonalLow := okUtil("seasonal-low", 20, 30)
	seasonalLow.Seasonal = true
	seasonalHigh := okUtil("seasonal-high", 20, 70)
	seasonalHigh.Seasonal = true
	sparse := okUtil("sparse", 10, 12)
	sparse.Status = model.UtilizationLowConfidence

	in := EvaluationInput{
		ScanID: "s",
		Resources: []model.Resource{
			mk("big", "m5.2xlarge"), mk("hot", "m5.large"), mk("x1", "x1e.2xlarge"),
			mk("seasonal-low", "m5.xlarge"), mk("seasonal-high", "m5.xlarge"), mk("sparse", "m5.xlarge"),
		},
		Utilization: []model.UtilizationSummary{
			okUtil("big", 12, 20), okUtil("hot", 95, 99), okUtil("x1", 10, 15), seasonalLow, seasonalHigh, sparse,
		},
		Costs: []model.CostLineItem{
			cost("big", 280), cost("hot", 70), cost("x1", 1000), cost("seasonal-low", 140), cost("seasonal-high", 140), cost("sparse", 140),
		},
	}
	recs, _ := newEngine(t).Evaluate(context.Background(), in)

	down, ok := byCategory(recs, "big", model.RecRightsizing)
	require.True(t, ok)
	assert.Equal(t, "Resize m5.2xlarge to m5.xlarge", down.Action)
	assert.InDelta(t, 140, down.EstimatedMonthlySavings, 1e-9)
	assert.InDelta(t, 0.875, down.Confidence, 1e-9)
	assert.Equal(t, model.RiskMedium, down.Risk)

	up, ok := byCategory(recs, "hot", model.RecRightsizing)
	require.True(t, ok)
	assert.Less(t, up.EstimatedMonthlySavings, 0.0)
	assert.Equal(t, model.RiskHigh, up.Risk)
	assert.Contains(t, up.Action, "m5.xlarge")

	_, ok = byCategory(recs, "x1", model.RecRightsizing)
	assert.False(t, ok, "target family not allowed")

	sl, ok := byCategory(recs, "seasonal-low", model.RecRightsizing)
	require.True(t, ok)
	assert.InDelta(t, 0.7+0.25*0.5-0.15, sl.Confidence, 1e-9)
	assert.Equal(t, model.RiskHigh, sl.Risk)

	_, ok = byCategory(recs, "seasonal-high", model.RecRightsizing)
	assert.False(t, ok, "seasonal with high p99 is skipped")

	sp, ok := byCategory(recs, "sparse", model.RecRightsizing)
	require.True(t, ok)
	assert.InDelta(t, (0.7+0.25*0.75)*0.6, sp.Confidence, 1e-9)
}

func TestReservationCoverage(t *testing.T) {
	db := model.Resource{ID: "db", AccountID: "a", Region: "r", Type: model.TypeDatabase, SKU: "db.r5.large",
		State: model.StateRunning, StateSince: daysAgo(365)}
	vm := model.Resource{ID: "vm", AccountID: "a", Region: "r", Type: model.TypeCompute, SKU: "m5.large",
		State: model.StateRunning, StateSince: daysAgo(90)}
	young := model.Resource{ID: "young", AccountID: "a", Region: "r", Type: model.TypeCompute, SKU: "c5.large",
		State: model.StateRunning, StateSince: daysAgo(5)}
	ri := model.Resource{ID: "ri", AccountID: "a", Region: "global", Type: model.TypeCommitment,
		Attributes: map[string]string{"instance_family": "m5"}}
	in := EvaluationInput{
		ScanID:    "s",
		Resources: []model.Resource{db, vm, young, ri},
		Costs: []model.CostLineItem{
			{ResourceID: "db", AccountID: "a", Category: model.CategoryCompute, Amount: 182.5, PricingModel: model.PricingOnDemand},
			{ResourceID: "vm", AccountID: "a", Category: model.CategoryCompute, Amount: 70, PricingModel: model.PricingOnDemand},
			{ResourceID: "young", AccountID: "a", Category: model.CategoryCompute, Amount: 62, PricingModel: model.PricingOnDemand},
		},
	}
	recs, _ := newEngine(t).Evaluate(context.Background(), in)

	rec, ok := byCategory(recs, "db", model.RecReservation)
	require.True(t, ok)
	assert.InDelta(t, 182.5*0.30, rec.EstimatedMonthlySavings, 1e-9)
	assert.InDelta(t, 0.9, rec.Confidence, 1e-9)

	_, ok = byCategory(recs, "vm", model.RecReservation)
	assert.False(t, ok, "covered by an existing commitment")
	_, ok = byCategory(recs, "young", model.RecReservation)
	assert.False(t, ok, "not running long enough")
	for _, r := range recs {
		assert.NotEqual(t, "ri", r.PrimaryResource())
	}
}

func TestWasteRules(t *testing.T) {
	resources := []model.Resource{
		{ID: "vol", Type: model.TypeStorage, State: model.StateAvailable, StateSince: daysAgo(60), CreatedAt: *daysAgo(60), Attributes: map[string]string{"attached": "false"}},
		{ID: "vol-undated", Type: model.TypeStorage, State: model.StateAvailable, CreatedAt: *daysAgo(60), Attributes: map[string]string{"attached": "false"}},
		{ID: "fresh-vol", Type: model.TypeStorage, State: model.StateAvailable, CreatedAt: *daysAgo(3), Attributes: map[string]string{"attached": "false"}},
		{ID: "eip", Type: model.TypeNetwork, Attributes: map[string]string{"kind": "ip", "associated": "false"}},
		{ID: "snap", Type: model.TypeStorage, CreatedAt: *daysAgo(400), Attributes: map[string]string{"kind": "snapshot"}},
		{ID: "nat", Type: model.TypeNetwork, State: model.StateAvailable, Attributes: map[string]string{"kind": "nat"}},
		{ID: "idle", Type: model.TypeCompute, SKU: "t3.medium", State: model.StateRunning},
		{ID: "ignored", Type: model.TypeNetwork, Tags: model.NewTags(map[string]string{"cloudmind:ignore": "1"}),
			Attributes: map[string]string{"kind": "ip", "associated": "false"}},
	}
	in := EvaluationInput{
		ScanID:    "s",
		Resources: resources,
		Utilization: []model.UtilizationSummary{
			{ResourceID: "nat", Status: model.UtilizationOK, Metrics: map[string]model.MetricSummary{"requests": {Count: 720}}},
			okUtil("idle", 0.5, 1),
		},
	}
	pol := config.DefaultPolicyConfig()
	pol.ExcludeTags = []string{"cloudmind:ignore"}
	recs, _ := newEngine(t, WithPolicy(pol)).Evaluate(context.Background(), in)

	want := map[string]float64{"vol": 0.85, "vol-undated": 0.5, "eip": 0.95, "snap": 0.6, "nat": 0.8, "idle": 0.75}
	for id, conf := range want {
		rec, ok := byCategory(recs, id, model.RecWaste)
		if assert.True(t, ok, id) {
			assert.InDelta(t, conf, rec.Confidence, 1e-9, id)
		}
	}
	_, ok := byCategory(recs, "fresh-vol", model.RecWaste)
	assert.False(t, ok)
	_, ok = byCategory(recs, "ignored", model.RecWaste)
	assert.False(t, ok)
}

func TestArchitectureRules(t *testing.T) {
	in := EvaluationInput{
		ScanID: "s",
		Resources: []model.Resource{
			{ID: "old", Type: model.TypeCompute, SKU: "m4.large", State: model.StateRunning},
			{ID: "gp2", Type: model.TypeStorage, SizeGB: 500, Attributes: map[string]string{"volume_type": "gp2", "attached": "true"}},
		},
		Costs: []model.CostLineItem{
			{ResourceID: "old", Category: model.CategoryCompute, Amount: 73},
			{ResourceID: "gp2", Category: model.CategoryStorage, Amount: 50},
		},
	}
	recs, _ := newEngine(t).Evaluate(context.Background(), in)

	rec, ok := byCategory(recs, "gp2", model.RecArchitecture)
	require.True(t, ok)
	assert.InDelta(t, 10, rec.EstimatedMonthlySavings, 1e-9)
	assert.Equal(t, []string{"architecture.gp2_to_gp3"}, rec.Rules)
	assert.Equal(t, model.RiskLow, rec.Risk)
	assert.Contains(t, rec.Evidence, model.Evidence{Kind: "rule", Ref: "rules/architecture.gp2_to_gp3", Note: rec.Rationale})

	_, ok = byCategory(recs, "old", model.RecArchitecture)
	assert.True(t, ok)
}

func TestDedupMergesSameResourceAndCategory(t *testing.T) {
	recs := Dedup([]model.OptimizationRecommendation{
		{ResourceIDs: []string{"r"}, Category: model.RecArchitecture, RawConfidence: 0.6, Rationale: "a", Rules: []string{"x"},
			Evidence: []model.Evidence{{Kind: "state", Ref: "resources/r"}}},
		{ResourceIDs: []string{"r"}, Category: model.RecArchitecture, RawConfidence: 0.9, Rationale: "b; a", Rules: []string{"y"},
			Evidence: []model.Evidence{{Kind: "state", Ref: "resources/r"}, {Kind: "rule", Ref: "rules/y"}}},
		{ResourceIDs: []string{"r"}, Category: model.RecWaste, RawConfidence: 0.5},
	})
	require.Len(t, recs, 2)
	assert.Equal(t, 0.9, recs[0].RawConfidence)
	assert.Equal(t, "b; a", recs[0].Rationale)
	assert.Equal(t, []string{"y", "x"}, recs[0].Rules)
	assert.Len(t, recs[0].Evidence, 2)
}

func TestRankingIsDeterministic(t *testing.T) {
	base := []model.OptimizationRecommendation{
		{ResourceIDs: []string{"b"}, Category: "waste", EstimatedMonthlySavings: 10, Confidence: 0.5},
		{ResourceIDs: []string{"a"}, Category: "waste", EstimatedMonthlySavings: 10, Confidence: 0.5},
		{ResourceIDs: []string{"a"}, Category: "architecture", EstimatedMonthlySavings: 10, Confidence: 0.5},
		{ResourceIDs: []string{"c"}, Category: "waste", EstimatedMonthlySavings: 10, Confidence: 0.9},
		{ResourceIDs: []string{"d"}, Category: "waste", EstimatedMonthlySavings: 50, Confidence: 0.1},
	}
	want := []string{"d/waste", "c/waste", "a/architecture", "a/waste", "b/waste"}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]model.OptimizationRecommendation(nil), base...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		Rank(shuffled)
		var got []string
		for _, r := range shuffled {
			got = append(got, r.PrimaryResource()+"/"+r.Category)
		}
		assert.Equal(t, want, got)
	}
}

func TestScorerSelectionAndAdjustment(t *testing.T) {
	cfg := config.DefaultScorerConfig()
	assert.Equal(t, model.ScorerRuleOnly, SelectScorer(cfg, model.ScoringSnapshot{}).Kind())

	k := history.FeatureKey(RuleStoppedCompute, model.RecWaste)
	snap := model.ScoringSnapshot{
		AcceptanceRates: map[string]float64{k: 0.9},
		Observations:    map[string]float64{k: 20},
	}
	s := SelectScorer(cfg, snap)
	require.Equal(t, model.ScorerRuleWithML, s.Kind())

	// w = 0.5, factor = 0.5 + 0.9 = 1.4
	assert.InDelta(t, 0.7, s.Score(0.5, []string{RuleStoppedCompute}, model.RecWaste), 1e-9)
	assert.Equal(t, 1.0, s.Score(0.9, []string{RuleStoppedCompute}, model.RecWaste))
	assert.Equal(t, 0.5, s.Score(0.5, []string{"other"}, model.RecWaste))

	cfg.Mode = model.ScorerRuleOnly
	assert.Equal(t, model.ScorerRuleOnly, SelectScorer(cfg, snap).Kind())
}

func TestConfidenceAlwaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		raw := rng.Float64()*3 - 1
		snap := model.ScoringSnapshot{
			AcceptanceRates: map[string]float64{"r|c": rng.Float64()},
			Observations:    map[string]float64{"r|c": rng.Float64() * 1000},
		}
		for _, s := range []Scorer{RuleOnly{}, RuleWithMLAdjustment{Snapshot: snap, PriorWeight: 20}} {
			c := s.Score(raw, []string{"r"}, "c")
			if c < 0 || c > 1 {
				t.Fatalf("%s confidence %v out of range for raw %v", s.Kind(), c, raw)
			}
		}
	}
}

func TestRecommendationIDsAreStable(t *testing.T) {
	a := RecommendationID("scan", "res", model.RecWaste)
	assert.Equal(t, a, RecommendationID("scan", "res", model.RecWaste))
	assert.NotEqual(t, a, RecommendationID("scan", "res", model.RecRightsizing))
	assert.NotEqual(t, a, RecommendationID("scan2", "res", model.RecWaste))
}

func TestSKULadder(t *testing.T) {
	tests := []struct {
		sku, down, up string
	}{
		{"m5.2xlarge", "m5.xlarge", "m5.4xlarge"},
		{"db.r5.large", "db.r5.medium", "db.r5.xlarge"},
		{"Standard_D4s_v3", "Standard_D2s_v3", "Standard_D8s_v3"},
		{"n2-standard-4", "n2-standard-2", "n2-standard-8"},
	}
	for _, tt := range tests {
		d, ok := StepDown(tt.sku)
		assert.True(t, ok, tt.sku)
		assert.Equal(t, tt.down, d)
		u, ok := StepUp(tt.sku)
		assert.True(t, ok, tt.sku)
		assert.Equal(t, tt.up, u)
	}
	_, ok := StepDown("t3.nano")
	assert.False(t, ok)
	_, ok = StepDown("weird")
	assert.False(t, ok)
}
