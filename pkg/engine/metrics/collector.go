// Package metrics turns raw provider samples into per-resource utilization summaries.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/config"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	minSamples        = 24
	minCoverage       = 0.5
	seasonalThreshold = 0.25
	minSeasonalSide   = 12
)

// Collector builds UtilizationSummaries.
type Collector struct {
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

func WithLogger(l *slog.Logger) Option { return func(c *Collector) { c.logger = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(c *Collector) { c.now = now } }

func New(opts ...Option) *Collector {
	c := &Collector{
		logger: slog.Default(),
		tracer: telemetry.Tracer("metrics"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect summarises every metric the adapter offers for res over window.
// Fetch failures degrade the summary to unknown; the only error returned is a
// SafetyViolation, which must abort the scan.
func (c *Collector) Collect(ctx context.Context, a providers.Adapter, res model.Resource, window time.Duration) (model.UtilizationSummary, error) {
	if window <= 0 {
		window = config.DefaultWindow
	}
	sum := model.UtilizationSummary{ResourceID: res.ID, Window: window, Status: model.UtilizationUnknown}

	mp, ok := a.(providers.MetricsProvider)
	if !ok {
		sum.Reason = "provider has no metrics source"
		return sum, nil
	}
	names := mp.MetricNames(res)
	if len(names) == 0 {
		sum.Reason = "no metrics for resource type"
		return sum, nil
	}

	ctx, span := c.tracer.Start(ctx, "metrics.Collect", trace.WithAttributes(attribute.String("resource", res.ID)))
	defer span.End()

	end := c.now()
	start := end.Add(-window)
	series := make(map[string][]model.UtilizationSample, len(names))
	for _, m := range names {
		samples, err := mp.FetchMetric(ctx, res, m, start, end)
		if err != nil {
			if model.IsSafetyViolation(err) {
				return sum, err
			}
			c.logger.Warn("metric fetch failed", "resource", res.ID, "metric", m, "error", err)
			sum.Reason = fmt.Sprintf("fetch %s: %v", m, err)
			return sum, nil
		}
		sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp.Before(samples[j].Timestamp) })
		series[m] = samples
	}

	sum.Metrics = make(map[string]model.MetricSummary, len(series))
	for m, s := range series {
		if len(s) > 0 {
			sum.Metrics[m] = Summarize(s)
		}
	}

	primary := primaryMetric(names)
	samples := series[primary]
	switch {
	case len(samples) == 0:
		sum.Status = model.UtilizationUnknown
		sum.Reason = "no samples in window"
		return sum, nil
	case len(samples) < minSamples || float64(len(samples)) < minCoverage*window.Hours():
		sum.Status = model.UtilizationLowConfidence
		sum.Reason = fmt.Sprintf("%d samples for %.0f expected hourly points", len(samples), window.Hours())
	default:
		sum.Status = model.UtilizationOK
	}

	sum.Seasonal, sum.SeasonalityRatio = seasonality(samples)
	span.SetAttributes(attribute.String("status", sum.Status), attribute.Bool("seasonal", sum.Seasonal))
	return sum, nil
}

func primaryMetric(names []string) string {
	for _, n := range names {
		if n == "cpu" {
			return n
		}
	}
	return names[0]
}

// seasonality compares weekday and weekend means.
func seasonality(samples []model.UtilizationSample) (bool, float64) {
	wd, we := weekdayWeekend(samples)
	if len(wd) < minSeasonalSide || len(we) < minSeasonalSide {
		return false, 0
	}
	a, b := mean(wd), mean(we)
	hi := math.Max(a, b)
	if hi == 0 {
		return false, 0
	}
	ratio := math.Abs(a-b) / hi
	return ratio > seasonalThreshold, ratio
}
