package gcp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/cloudbilling/v1"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/monitoring/v3"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/telemetry"
)

const project = "acme-prod"

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeGCP serves the subset of the Compute, Cloud Billing and Monitoring REST
// APIs the adapter reads.
type fakeGCP struct {
	zones     []*compute.Zone
	instances map[string][]*compute.Instance
	disks     map[string][]*compute.Disk
	addresses map[string][]*compute.Address // region or "global"
	skus      []*cloudbilling.Sku
	series    []*monitoring.TimeSeries
	// failures injects an error status per request path.
	failures map[string]int
	reason   string

	mu   sync.Mutex
	hits map[string]int
	reqs []*http.Request
}

func (f *fakeGCP) count(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hits == nil {
		f.hits = map[string]int{}
	}
	f.hits[r.URL.Path]++
	f.reqs = append(f.reqs, r)
}

func (f *fakeGCP) hitCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakeGCP) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /compute/v1/projects/{project}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, &compute.Project{Name: r.PathValue("project"), Id: 4242})
	})
	mux.HandleFunc("GET /compute/v1/projects/{project}/zones", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, &compute.ZoneList{Items: f.zones})
	})
	mux.HandleFunc("GET /compute/v1/projects/{project}/zones/{zone}/instances", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, &compute.InstanceList{Items: f.instances[r.PathValue("zone")]})
	})
	mux.HandleFunc("GET /compute/v1/projects/{project}/zones/{zone}/disks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, &compute.DiskList{Items: f.disks[r.PathValue("zone")]})
	})
	mux.HandleFunc("GET /compute/v1/projects/{project}/regions/{region}/addresses", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, &compute.AddressList{Items: f.addresses[r.PathValue("region")]})
	})
	mux.HandleFunc("GET /compute/v1/projects/{project}/global/addresses", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, &compute.AddressList{Items: f.addresses["global"]})
	})
	mux.HandleFunc("GET /v1/services/{service}/skus", func(w http.ResponseWriter, r *http.Request) {
		// two pages to exercise token chasing
		half := len(f.skus) / 2
		if r.URL.Query().Get("pageToken") == "" && half > 0 {
			writeJSON(w, &cloudbilling.ListSkusResponse{Skus: f.skus[:half], NextPageToken: "p2"})
			return
		}
		writeJSON(w, &cloudbilling.ListSkusResponse{Skus: f.skus[half:]})
	})
	mux.HandleFunc("GET /v3/projects/{project}/timeSeries", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, &monitoring.ListTimeSeriesResponse{TimeSeries: f.series})
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.count(r)
		if code, ok := f.failures[r.URL.Path]; ok {
			reason := f.reason
			if reason == "" {
				reason = "backendError"
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{
				"code":    code,
				"message": http.StatusText(code),
				"errors":  []map[string]string{{"reason": reason, "message": http.StatusText(code)}},
			}})
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newAdapter(t *testing.T, f *fakeGCP, opts ...Option) (*Adapter, *safety.MemorySink) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	sink := &safety.MemorySink{}
	g := safety.NewGuard(safety.NewAuditLog(sink), safety.WithLogger(telemetry.Discard()))
	opts = append([]Option{
		WithLogger(telemetry.Discard()),
		WithClock(func() time.Time { return now }),
		WithEndpoint(srv.URL, srv.Client().Transport),
	}, opts...)
	a := New(g, opts...)
	t.Cleanup(func() { _ = a.Close() })
	return a, sink
}

func zone(name, region string) *compute.Zone {
	return &compute.Zone{
		Name:   name,
		Status: "UP",
		Region: "https://www.googleapis.com/compute/v1/projects/" + project + "/regions/" + region,
	}
}

func zonePath(zone, kind string) string {
	return "/compute/v1/projects/" + project + "/zones/" + zone + "/" + kind
}

func machineURL(zone, machineType string) string {
	return "https://www.googleapis.com/compute/v1/projects/" + project + "/zones/" + zone + "/machineTypes/" + machineType
}

func money(units int64, nanos int64) *cloudbilling.Money {
	return &cloudbilling.Money{CurrencyCode: "USD", Units: units, Nanos: nanos}
}

func sku(desc, family, usage, unit string, price *cloudbilling.Money, regions ...string) *cloudbilling.Sku {
	return &cloudbilling.Sku{
		Description:    desc,
		Category:       &cloudbilling.Category{ResourceFamily: family, UsageType: usage},
		ServiceRegions: regions,
		PricingInfo: []*cloudbilling.PricingInfo{{
			PricingExpression: &cloudbilling.PricingExpression{
				UsageUnit:   unit,
				TieredRates: []*cloudbilling.TierRate{{StartUsageAmount: 0, UnitPrice: price}},
			},
		}},
	}
}
