package k8s

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	prommodel "github.com/prometheus/common/model"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// nodeQueries are node-exporter expressions in percent. Series are expected
// to carry a "node" label naming the Kubernetes node.
var nodeQueries = map[string]string{
	"cpu":    `100 * (1 - avg(rate(node_cpu_seconds_total{mode="idle",node=%[1]q}[5m])))`,
	"memory": `100 * (1 - sum(node_memory_MemAvailable_bytes{node=%[1]q}) / sum(node_memory_MemTotal_bytes{node=%[1]q}))`,
}

// capacityAttrs name the node attribute a metric is a share of.
var capacityAttrs = map[string]string{"cpu": "vcpus", "memory": "memory_gb"}

const step = time.Hour

func (a *Adapter) MetricNames(res model.Resource) []string {
	if res.NativeType != "core:node" {
		return nil
	}
	return []string{"cpu", "memory"}
}

// FetchMetric reads hourly history from Prometheus when one is configured.
// Without it, or when the query fails, metrics-server supplies a single
// current sample.
func (a *Adapter) FetchMetric(ctx context.Context, res model.Resource, metric string, start, end time.Time) ([]model.UtilizationSample, error) {
	query, ok := nodeQueries[metric]
	if !ok || res.NativeType != "core:node" {
		return nil, fmt.Errorf("kubernetes: no %s metric for %s: %w", metric, res.NativeType, model.ErrNotFound)
	}
	if a.prom != nil {
		out, err := a.queryRange(ctx, res, metric, fmt.Sprintf(query, res.NativeID), start, end)
		if err == nil {
			return out, nil
		}
		if fatal(err) {
			return nil, err
		}
		a.logger.Warn("prometheus query failed, falling back to metrics-server", "node", res.NativeID, "metric", metric, "error", err)
	}
	return a.currentUsage(ctx, res, metric)
}

func (a *Adapter) queryRange(ctx context.Context, res model.Resource, metric, query string, start, end time.Time) ([]model.UtilizationSample, error) {
	var value prommodel.Value
	err := a.guarded(ctx, safety.Call(model.ProviderKubernetes, "prometheus", "GetQueryRange").With("metric", metric), func(ctx context.Context) error {
		v, warnings, err := a.prom.QueryRange(ctx, query, promv1.Range{Start: start, End: end, Step: step})
		if err != nil {
			return err
		}
		if len(warnings) > 0 {
			a.logger.Debug("prometheus warnings", "query", query, "warnings", warnings)
		}
		value = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("prometheus query failed: %w", err)
	}
	matrix, ok := value.(prommodel.Matrix)
	if !ok {
		return nil, fmt.Errorf("unexpected prometheus result %T", value)
	}
	var out []model.UtilizationSample
	for _, stream := range matrix {
		for _, p := range stream.Values {
			out = append(out, model.UtilizationSample{
				ResourceID: res.ID,
				Metric:     metric,
				Timestamp:  p.Timestamp.Time().UTC(),
				Value:      float64(p.Value),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// currentUsage converts the metrics-server usage of a node into percent of
// its capacity.
func (a *Adapter) currentUsage(ctx context.Context, res model.Resource, metric string) ([]model.UtilizationSample, error) {
	c, err := a.clusterByID(res.AccountID)
	if err != nil {
		return nil, err
	}
	if c.clients.Metrics == nil {
		return nil, fmt.Errorf("kubernetes: no metrics source for %s: %w", res.NativeID, model.ErrNotFound)
	}
	capacity, err := strconv.ParseFloat(res.Attr(capacityAttrs[metric]), 64)
	if err != nil || capacity <= 0 {
		return nil, fmt.Errorf("kubernetes: node %s has no %s capacity: %w", res.NativeID, metric, model.ErrNotFound)
	}

	var out []model.UtilizationSample
	err = a.guarded(ctx, safety.Call(model.ProviderKubernetes, "metrics", "ListNodeMetrics"), func(ctx context.Context) error {
		list, err := c.clients.Metrics.MetricsV1beta1().NodeMetricses().List(ctx, metav1.ListOptions{
			FieldSelector: fields.OneTermEqualSelector("metadata.name", res.NativeID).String(),
		})
		if err != nil {
			return err
		}
		for _, nm := range list.Items {
			if nm.Name != res.NativeID {
				continue
			}
			var used float64
			switch metric {
			case "cpu":
				used = nm.Usage.Cpu().AsApproximateFloat64()
			case "memory":
				used = float64(nm.Usage.Memory().Value()) / gib
			}
			at := nm.Timestamp.Time
			if at.IsZero() {
				at = a.now()
			}
			out = append(out, model.UtilizationSample{ResourceID: res.ID, Metric: metric, Timestamp: at.UTC(), Value: 100 * used / capacity})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read node metrics: %w", err)
	}
	return out, nil
}
