package azure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers"
)

func vmResource(sku, platform string) model.Resource {
	return model.Resource{
		Provider:   model.ProviderAzure,
		Region:     "eastus",
		Type:       model.TypeCompute,
		NativeType: "compute:vm",
		SKU:        sku,
		Attributes: map[string]string{"platform": platform},
	}
}

var d2sItems = []retailItem{
	{CurrencyCode: "USD", RetailPrice: 0.0192, SkuName: "D2s v3 Spot", Type: "Consumption", UnitOfMeasure: "1 Hour", ProductName: "Virtual Machines DSv3 Series"},
	{CurrencyCode: "USD", RetailPrice: 0.188, SkuName: "D2s v3", Type: "Consumption", UnitOfMeasure: "1 Hour", ProductName: "Virtual Machines DSv3 Series Windows"},
	{CurrencyCode: "USD", RetailPrice: 0.096, SkuName: "D2s v3", Type: "Consumption", UnitOfMeasure: "1 Hour", ProductName: "Virtual Machines DSv3 Series"},
	{CurrencyCode: "USD", RetailPrice: 1200, SkuName: "D2s v3", Type: "Reservation", UnitOfMeasure: "1 Hour", ReservationTerm: "3 Years"},
	{CurrencyCode: "USD", RetailPrice: 525.6, SkuName: "D2s v3", Type: "Reservation", UnitOfMeasure: "1 Hour", ReservationTerm: "1 Year"},
}

func TestVMPrice(t *testing.T) {
	tests := []struct {
		name    string
		windows bool
		model   string
		want    float64
	}{
		{"linux on demand skips spot and windows rows", false, model.PricingOnDemand, 0.096},
		{"windows on demand", true, model.PricingOnDemand, 0.188},
		{"reserved takes the 1 year term per hour", false, model.PricingReserved, 525.6 / 8760},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got float64
			found := false
			for _, item := range d2sItems {
				if p, ok := vmPrice(item, tt.windows, tt.model); ok {
					got, found = p, true
					break
				}
			}
			require.True(t, found)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, ok := vmPrice(retailItem{Type: "Consumption", UnitOfMeasure: "1/Month"}, false, model.PricingOnDemand)
	assert.False(t, ok)
}

// retailServer serves items split over two pages.
func retailServer(t *testing.T, items []retailItem) (*httptest.Server, *atomic.Int32, *atomic.Value) {
	var calls atomic.Int32
	var filter atomic.Value
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			_ = json.NewEncoder(w).Encode(retailPage{Items: items[1:]})
			return
		}
		filter.Store(r.URL.Query().Get("$filter"))
		_ = json.NewEncoder(w).Encode(retailPage{Items: items[:1], NextPageLink: srv.URL + "/prices?page=2"})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &filter
}

func TestGetPricingFollowsPages(t *testing.T) {
	srv, calls, filter := retailServer(t, d2sItems)
	a, _ := newAdapter(newClients(), WithEndpoints(srv.URL+"/prices", managementEndpoint), WithTransport(srv.Client()))

	q, err := a.GetPricing(context.Background(), vmResource("Standard_D2s_v3", "linux"), model.PricingOnDemand)
	require.NoError(t, err)
	assert.Equal(t, model.UnitHour, q.Unit)
	assert.InDelta(t, 0.096, q.UnitPrice, 1e-9)
	assert.Equal(t, "USD", q.Currency)
	assert.Equal(t, "eastus", q.Region)
	assert.EqualValues(t, 2, calls.Load())

	f := filter.Load().(string)
	assert.Contains(t, f, "armRegionName eq 'eastus'")
	assert.Contains(t, f, "armSkuName eq 'Standard_D2s_v3'")
	assert.Contains(t, f, "priceType eq 'Consumption'")
}

func TestGetPricingReservedFilter(t *testing.T) {
	srv, _, filter := retailServer(t, d2sItems)
	a, _ := newAdapter(newClients(), WithEndpoints(srv.URL+"/prices", managementEndpoint), WithTransport(srv.Client()))

	q, err := a.GetPricing(context.Background(), vmResource("Standard_D2s_v3", "linux"), model.PricingReserved)
	require.NoError(t, err)
	assert.InDelta(t, 0.06, q.UnitPrice, 1e-9)
	assert.Equal(t, model.PricingReserved, q.PricingModel)
	assert.Contains(t, filter.Load().(string), "priceType eq 'Reservation'")
}

func TestGetPricingFlatRates(t *testing.T) {
	a, _ := newAdapter(newClients(), WithEndpoints("http://127.0.0.1:0/prices", managementEndpoint))

	disk := model.Resource{Region: "eastus", NativeType: "compute:disk", SKU: "Premium_LRS", SizeGB: 256}
	q, err := a.GetPricing(context.Background(), disk, model.PricingOnDemand)
	require.NoError(t, err)
	assert.Equal(t, model.UnitGBMonth, q.Unit)
	assert.InDelta(t, 0.132, q.UnitPrice, 1e-9)

	ip := model.Resource{Region: "eastus", NativeType: "network:publicip", SKU: "public-ip-standard"}
	q, err = a.GetPricing(context.Background(), ip, model.PricingOnDemand)
	require.NoError(t, err)
	assert.Equal(t, model.UnitHour, q.Unit)

	_, err = a.GetPricing(context.Background(), model.Resource{NativeType: "compute:disk", SKU: "Mystery_LRS"}, model.PricingOnDemand)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGetPricingNoMatch(t *testing.T) {
	srv, _, _ := retailServer(t, []retailItem{{Type: "Consumption", UnitOfMeasure: "1 Hour", SkuName: "B1s Spot"}, {Type: "Consumption", UnitOfMeasure: "1/Month"}})
	a, _ := newAdapter(newClients(), WithEndpoints(srv.URL+"/prices", managementEndpoint), WithTransport(srv.Client()))

	_, err := a.GetPricing(context.Background(), vmResource("Standard_B1s", "linux"), model.PricingOnDemand)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGetPricingServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	a, _ := newAdapter(newClients(), WithEndpoints(srv.URL, managementEndpoint), WithTransport(srv.Client()))

	_, err := a.GetPricing(context.Background(), vmResource("Standard_B1s", "linux"), model.PricingOnDemand)
	var rl *model.RateLimitError
	assert.ErrorAs(t, err, &rl)
}

func TestGetBillingExport(t *testing.T) {
	c := newClients()
	costs := &fakeCosts{result: armcostmanagement.QueryResult{Properties: &armcostmanagement.QueryProperties{
		Columns: []*armcostmanagement.QueryColumn{
			{Name: to.Ptr("Cost")},
			{Name: to.Ptr("ServiceName")},
			{Name: to.Ptr("Currency")},
		},
		Rows: [][]any{
			{100.0, "Virtual Machines", "EUR"},
			{20.0, "Virtual Machines Licenses", "EUR"},
			{30.0, "Storage", "EUR"},
			{5.0, "Bandwidth", "EUR"},
			{9.0, "Azure DevOps", "EUR"},
			{"bogus", "Storage", "EUR"},
		},
	}}}
	c.Costs = costs
	a, _ := newAdapter(c)

	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	period := providers.Period{Start: start, End: start.Add(730 * time.Hour)}
	exp, err := a.GetBillingExport(context.Background(), acct(), period)
	require.NoError(t, err)

	assert.Equal(t, "/subscriptions/"+subscription, costs.scope)
	assert.Equal(t, armcostmanagement.TimeframeTypeCustom, *costs.query.Timeframe)
	assert.Equal(t, "EUR", exp.Currency)
	assert.InDelta(t, 120.0, exp.Totals[model.CategoryCompute], 1e-9)
	assert.InDelta(t, 30.0, exp.Totals[model.CategoryStorage], 1e-9)
	assert.InDelta(t, 5.0, exp.Totals[model.CategoryNetwork], 1e-9)
	assert.Len(t, exp.Totals, 3)
}

func TestBillingTotalsAreMonthly(t *testing.T) {
	c := newClients()
	c.Costs = &fakeCosts{result: armcostmanagement.QueryResult{Properties: &armcostmanagement.QueryProperties{
		Columns: []*armcostmanagement.QueryColumn{{Name: to.Ptr("PreTaxCost")}, {Name: to.Ptr("ServiceName")}},
		Rows:    [][]any{{50.0, "Storage"}},
	}}}
	a, _ := newAdapter(c)

	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	exp, err := a.GetBillingExport(context.Background(), acct(), providers.Period{Start: start, End: start.Add(365 * time.Hour)})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, exp.Totals[model.CategoryStorage], 1e-9)
	assert.Equal(t, "USD", exp.Currency)
}

func TestBillingWithoutCostColumn(t *testing.T) {
	c := newClients()
	c.Costs = &fakeCosts{result: armcostmanagement.QueryResult{Properties: &armcostmanagement.QueryProperties{
		Columns: []*armcostmanagement.QueryColumn{{Name: to.Ptr("UsageDate")}},
	}}}
	a, _ := newAdapter(c)

	_, err := a.GetBillingExport(context.Background(), acct(), providers.Period{Start: now.Add(-time.Hour), End: now})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no cost or service column"))
}
