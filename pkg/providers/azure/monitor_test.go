package azure

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

const metricsBody = `{
  "value": [{
    "name": {"value": "Percentage CPU"},
    "timeseries": [{
      "data": [
        {"timeStamp": "2026-02-01T02:00:00Z", "average": 7.5},
        {"timeStamp": "2026-02-01T01:00:00Z"},
        {"timeStamp": "2026-02-01T00:00:00Z", "average": 3.25}
      ]
    }]
  }]
}`

type metricsServer struct {
	mu      sync.Mutex
	queries []*http.Request
}

func (m *metricsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.queries = append(m.queries, r.Clone(context.Background()))
	m.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(metricsBody))
}

func TestFetchMetric(t *testing.T) {
	ms := &metricsServer{}
	srv := httptest.NewTLSServer(ms)
	defer srv.Close()
	a, _ := newAdapter(newClients(), WithEndpoints(retailPricesEndpoint, srv.URL), WithTransport(srv.Client()))

	res := vmResource("Standard_D2s_v3", "linux")
	res.ID = "azure:sub:eastus:vm"
	res.NativeID = vmID("rg-web", "web")
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	samples, err := a.FetchMetric(context.Background(), res, "cpu", end.Add(-45*24*time.Hour), end)
	require.NoError(t, err)

	require.Len(t, ms.queries, 2, "45 days is split into 30 day windows")
	q := ms.queries[0]
	assert.True(t, strings.HasPrefix(q.URL.Path, res.NativeID+"/providers/Microsoft.Insights/metrics"))
	assert.Equal(t, "Percentage CPU", q.URL.Query().Get("metricnames"))
	assert.Equal(t, "Average", q.URL.Query().Get("aggregation"))
	assert.Equal(t, "PT1H", q.URL.Query().Get("interval"))
	assert.Equal(t, "Bearer token", q.Header.Get("Authorization"))

	// two windows of two valued points each; the empty hour is dropped
	require.Len(t, samples, 4)
	for i := 1; i < len(samples); i++ {
		assert.False(t, samples[i].Timestamp.Before(samples[i-1].Timestamp))
	}
	assert.Equal(t, 3.25, samples[0].Value)
	assert.Equal(t, res.ID, samples[0].ResourceID)
	assert.Equal(t, "cpu", samples[0].Metric)
}

func TestFetchMetricUnknown(t *testing.T) {
	a, _ := newAdapter(newClients())

	_, err := a.FetchMetric(context.Background(), vmResource("Standard_B1s", "linux"), "memory", now.Add(-time.Hour), now)
	assert.ErrorIs(t, err, model.ErrNotFound)

	disk := model.Resource{NativeType: "compute:disk"}
	_, err = a.FetchMetric(context.Background(), disk, "cpu", now.Add(-time.Hour), now)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Empty(t, a.MetricNames(disk))
	assert.Equal(t, []string{"cpu", "network_in"}, a.MetricNames(vmResource("Standard_B1s", "linux")))
}
