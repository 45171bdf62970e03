package gcp

import (
	"context"
	"fmt"
	"sort"
	"time"

	"google.golang.org/api/monitoring/v3"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// cloudMetric binds a normalized metric to a Cloud Monitoring metric type.
// scale converts the aligned value to the normalized unit.
type cloudMetric struct {
	metricType string
	aligner    string
	scale      float64
}

var instanceMetrics = map[string]cloudMetric{
	// utilization is a 0..1 fraction
	"cpu": {"compute.googleapis.com/instance/cpu/utilization", "ALIGN_MEAN", 100},
	// bytes per second, reported per hour
	"network_in": {"compute.googleapis.com/instance/network/received_bytes_count", "ALIGN_RATE", 3600},
}

func (a *Adapter) MetricNames(res model.Resource) []string {
	if res.NativeType != "compute:instance" {
		return nil
	}
	return []string{"cpu", "network_in"}
}

// FetchMetric reads hourly aligned time series for an instance over [start, end).
func (a *Adapter) FetchMetric(ctx context.Context, res model.Resource, metric string, start, end time.Time) ([]model.UtilizationSample, error) {
	m, ok := instanceMetrics[metric]
	if !ok || res.NativeType != "compute:instance" {
		return nil, fmt.Errorf("gcp: no %s metric for %s: %w", metric, res.NativeType, model.ErrNotFound)
	}
	s, err := a.servicesForProject(res.AccountID)
	if err != nil {
		return nil, err
	}
	filter := fmt.Sprintf(`metric.type = %q AND resource.labels.instance_id = %q`, m.metricType, res.NativeID)

	var out []model.UtilizationSample
	token := ""
	for {
		var page *monitoring.ListTimeSeriesResponse
		err := a.guarded(ctx, safety.Call(model.ProviderGCP, "monitoring", "ListTimeSeries").With("metric", m.metricType), func(ctx context.Context) error {
			var err error
			page, err = s.monitoring.Projects.TimeSeries.List("projects/"+res.AccountID).
				Filter(filter).
				IntervalStartTime(start.UTC().Format(time.RFC3339)).
				IntervalEndTime(end.UTC().Format(time.RFC3339)).
				AggregationAlignmentPeriod("3600s").
				AggregationPerSeriesAligner(m.aligner).
				PageToken(token).
				Context(ctx).Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list time series: %w", err)
		}
		for _, ts := range page.TimeSeries {
			for _, p := range ts.Points {
				if p.Interval == nil || p.Value == nil {
					continue
				}
				at, ok := parseTime(p.Interval.EndTime)
				if !ok {
					continue
				}
				var v float64
				switch {
				case p.Value.DoubleValue != nil:
					v = *p.Value.DoubleValue
				case p.Value.Int64Value != nil:
					v = float64(*p.Value.Int64Value)
				default:
					continue
				}
				out = append(out, model.UtilizationSample{ResourceID: res.ID, Metric: metric, Timestamp: at, Value: v * m.scale})
			}
		}
		if token = page.NextPageToken; token == "" {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
