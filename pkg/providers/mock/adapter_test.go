package mock

import (
	"context"
	"testing"
	"time"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuard() (*safety.Guard, *safety.MemorySink) {
	sink := &safety.MemorySink{}
	return safety.NewGuard(safety.NewAuditLog(sink)), sink
}

func scoped(scan string) context.Context {
	return safety.WithScope(context.Background(), safety.Scope{ScanID: scan, AccountID: DemoAccount, Provider: model.ProviderMock})
}

func TestDiscoverResourcesIsIdempotent(t *testing.T) {
	g, _ := newGuard()
	a := Demo(g, time.Now())
	acct := model.CloudAccount{ID: DemoAccount, Provider: model.ProviderMock, Regions: []string{"us-east-1"}}

	first, warns, err := providers.DiscoverResources(scoped("s"), a, acct, "us-east-1")
	require.NoError(t, err)
	assert.Empty(t, warns)
	second, _, err := providers.DiscoverResources(scoped("s"), a, acct, "us-east-1")
	require.NoError(t, err)

	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
	ids := map[string]bool{}
	for _, r := range first {
		assert.False(t, ids[r.ID], "duplicate id %s", r.ID)
		ids[r.ID] = true
		assert.Equal(t, DemoAccount, r.AccountID)
	}
}

func TestDiscoverAuthFaultBecomesRegionWarning(t *testing.T) {
	g, _ := newGuard()
	a := Demo(g, time.Now())
	a.FailAuth("us-east-1")
	acct := model.CloudAccount{ID: DemoAccount, Provider: model.ProviderMock}

	res, warns, err := providers.DiscoverResources(scoped("s"), a, acct, "us-east-1")
	require.NoError(t, err)
	assert.Empty(t, res)
	require.NotEmpty(t, warns)
	assert.Equal(t, model.ScopeRegion, warns[0].ScopeLevel)
	assert.Equal(t, model.WarnProviderAuth, warns[0].Kind)
}

func TestUnsafeAdapterIsStopped(t *testing.T) {
	g, sink := newGuard()
	a := New(g)
	a.Unsafe("eu-west-1")
	acct := model.CloudAccount{ID: "acct", Provider: model.ProviderMock}

	_, _, err := providers.DiscoverResources(scoped("unsafe"), a, acct, "eu-west-1")
	require.True(t, model.IsSafetyViolation(err))
	assert.Zero(t, a.DiscoverCalls())

	entries := sink.Entries("unsafe")
	require.Len(t, entries, 1)
	assert.Equal(t, model.OutcomeDenied, entries[0].Outcome)
	assert.Equal(t, "mock:DeleteResources", entries[0].Call)
}

func TestFetchMetricWindow(t *testing.T) {
	g, _ := newGuard()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := New(g)
	r := a.AddResource("acct", "r1", model.Resource{Name: "vm", Type: model.TypeCompute})
	a.SetSamples(r.ID, "cpu", HourlySamples(r.ID, "cpu", now.Add(-48*time.Hour), now, func(time.Time) float64 { return 1 }))

	got, err := a.FetchMetric(scoped("m"), r, "cpu", now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	assert.Len(t, got, 24)
	assert.Equal(t, []string{"cpu"}, a.MetricNames(r))
}
