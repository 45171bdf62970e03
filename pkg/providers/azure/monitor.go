package azure

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	armruntime "github.com/Azure/azure-sdk-for-go/sdk/azcore/arm/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/version"
)

const (
	metricsAPIVersion = "2018-01-01"
	// metricSpan keeps one hourly query well under the response size limit.
	metricSpan = 30 * 24 * time.Hour
)

// monitorMetric binds a normalized metric to an Azure Monitor platform metric.
type monitorMetric struct {
	name        string
	aggregation string
}

var vmMetrics = map[string]monitorMetric{
	"cpu":        {"Percentage CPU", "Average"},
	"network_in": {"Network In Total", "Total"},
}

type metricsResponse struct {
	Value []struct {
		Timeseries []struct {
			Data []struct {
				TimeStamp time.Time `json:"timeStamp"`
				Average   *float64  `json:"average"`
				Total     *float64  `json:"total"`
			} `json:"data"`
		} `json:"timeseries"`
	} `json:"value"`
}

func (a *Adapter) MetricNames(res model.Resource) []string {
	if res.NativeType != "compute:vm" {
		return nil
	}
	return []string{"cpu", "network_in"}
}

// monitorPipeline is an ARM-authenticated pipeline for the metrics endpoint.
func (a *Adapter) monitorPipeline(tenant string) (runtime.Pipeline, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if pl, ok := a.monitor[tenant]; ok {
		return *pl, nil
	}
	cred, err := a.credential(tenant)
	if err != nil {
		return runtime.Pipeline{}, err
	}
	pl, err := armruntime.NewPipeline(moduleName, version.Current, cred, runtime.PipelineOptions{}, a.armOptions())
	if err != nil {
		return runtime.Pipeline{}, fmt.Errorf("failed to create monitor pipeline: %w", err)
	}
	a.monitor[tenant] = &pl
	return pl, nil
}

func (a *Adapter) tenantOf(accountID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tenants[accountID]
}

// FetchMetric reads hourly platform metrics for a VM over [start, end).
func (a *Adapter) FetchMetric(ctx context.Context, res model.Resource, metric string, start, end time.Time) ([]model.UtilizationSample, error) {
	m, ok := vmMetrics[metric]
	if !ok || res.NativeType != "compute:vm" {
		return nil, fmt.Errorf("azure: no %s metric for %s: %w", metric, res.NativeType, model.ErrNotFound)
	}
	pl, err := a.monitorPipeline(a.tenantOf(res.AccountID))
	if err != nil {
		return nil, err
	}

	var out []model.UtilizationSample
	for from := start; from.Before(end); from = from.Add(metricSpan) {
		to := from.Add(metricSpan)
		if to.After(end) {
			to = end
		}
		q := url.Values{
			"api-version": {metricsAPIVersion},
			"metricnames": {m.name},
			"aggregation": {m.aggregation},
			"interval":    {"PT1H"},
			"timespan":    {from.UTC().Format(time.RFC3339) + "/" + to.UTC().Format(time.RFC3339)},
		}
		link := a.management + res.NativeID + "/providers/Microsoft.Insights/metrics?" + q.Encode()

		var body metricsResponse
		err := a.guarded(ctx, safety.Call(model.ProviderAzure, "monitor", "ListMetrics").With("metric", m.name), func(ctx context.Context) error {
			req, err := runtime.NewRequest(ctx, http.MethodGet, link)
			if err != nil {
				return err
			}
			resp, err := pl.Do(req)
			if err != nil {
				return err
			}
			if !runtime.HasStatusCode(resp, http.StatusOK) {
				return runtime.NewResponseError(resp)
			}
			return runtime.UnmarshalAsJSON(resp, &body)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list metrics: %w", err)
		}
		for _, v := range body.Value {
			for _, ts := range v.Timeseries {
				for _, dp := range ts.Data {
					val := dp.Average
					if m.aggregation == "Total" {
						val = dp.Total
					}
					// hours without data come back as bare timestamps
					if val == nil {
						continue
					}
					out = append(out, model.UtilizationSample{ResourceID: res.ID, Metric: metric, Timestamp: dp.TimeStamp, Value: *val})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
