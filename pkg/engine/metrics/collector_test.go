package metrics

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers/mock"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/telemetry"
)

// 2026-03-02 is a Monday.
var now = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type bareAdapter struct{}

func (bareAdapter) Provider() string        { return "bare" }
func (bareAdapter) ResourceTypes() []string { return nil }
func (bareAdapter) Discover(context.Context, providers.DiscoveryRequest) ([]model.Resource, []model.Warning, error) {
	return nil, nil, nil
}
func (bareAdapter) GetPricing(context.Context, model.Resource, string) (model.RawPriceQuote, error) {
	return model.RawPriceQuote{}, nil
}

func newCollector() *Collector {
	return New(WithClock(func() time.Time { return now }), WithLogger(telemetry.Discard()))
}

func fixture(t *testing.T) (*mock.Adapter, context.Context) {
	t.Helper()
	g := safety.NewGuard(safety.NewAuditLog(&safety.MemorySink{}))
	ctx := safety.WithScope(context.Background(), safety.Scope{ScanID: "m", Provider: model.ProviderMock})
	return mock.New(g), ctx
}

func TestPercentileInterpolation(t *testing.T) {
	values := []float64{10, 20, 30, 40, 50}
	tests := []struct {
		p    float64
		want float64
	}{
		{50, 30},
		{95, 48},
		{0, 10},
		{100, 50},
	}
	for _, tt := range tests {
		if got := Percentile(values, tt.p); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestCollectStatuses(t *testing.T) {
	a, ctx := fixture(t)
	window := 30 * 24 * time.Hour

	full := a.AddResource("acct", "r", model.Resource{Name: "full", Type: model.TypeCompute})
	a.SetSamples(full.ID, "cpu", mock.HourlySamples(full.ID, "cpu", now.Add(-window), now, func(time.Time) float64 { return 20 }))

	sparse := a.AddResource("acct", "r", model.Resource{Name: "sparse", Type: model.TypeCompute})
	a.SetSamples(sparse.ID, "cpu", mock.HourlySamples(sparse.ID, "cpu", now.Add(-10*time.Hour), now, func(time.Time) float64 { return 20 }))

	empty := a.AddResource("acct", "r", model.Resource{Name: "empty", Type: model.TypeCompute})

	c := newCollector()
	tests := []struct {
		name string
		res  model.Resource
		want string
	}{
		{"full window", full, model.UtilizationOK},
		{"ten samples", sparse, model.UtilizationLowConfidence},
		{"no samples", empty, model.UtilizationUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum, err := c.Collect(ctx, a, tt.res, window)
			if err != nil {
				t.Fatal(err)
			}
			if sum.Status != tt.want {
				t.Errorf("status = %s, want %s (%s)", sum.Status, tt.want, sum.Reason)
			}
		})
	}
}

func TestCollectWithoutMetricsCapability(t *testing.T) {
	sum, err := newCollector().Collect(context.Background(), bareAdapter{}, model.Resource{ID: "x"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Status != model.UtilizationUnknown || sum.Known() {
		t.Errorf("expected unknown, got %+v", sum)
	}
}

func TestCollectDetectsSeasonality(t *testing.T) {
	a, ctx := fixture(t)
	window := 28 * 24 * time.Hour
	r := a.AddResource("acct", "r", model.Resource{Name: "batch", Type: model.TypeCompute})
	a.SetSamples(r.ID, "cpu", mock.HourlySamples(r.ID, "cpu", now.Add(-window), now, func(ts time.Time) float64 {
		if d := ts.Weekday(); d == time.Saturday || d == time.Sunday {
			return 5
		}
		return 50
	}))

	sum, err := newCollector().Collect(ctx, a, r, window)
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Seasonal {
		t.Errorf("expected seasonal, ratio %.2f", sum.SeasonalityRatio)
	}
	cpu, _ := sum.Metric("cpu")
	if cpu.P99 != 50 || cpu.Max != 50 {
		t.Errorf("unexpected cpu summary %+v", cpu)
	}
}

func TestTrendSlopePerDay(t *testing.T) {
	start := now.Add(-10 * 24 * time.Hour)
	samples := mock.HourlySamples("r", "cpu", start, now, func(ts time.Time) float64 {
		return ts.Sub(start).Hours() / 24 * 2
	})
	if got := Summarize(samples).TrendSlope; math.Abs(got-2) > 1e-6 {
		t.Errorf("slope = %v, want 2/day", got)
	}
}
