package azure

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/version"
)

const (
	moduleName = "cloudmind/azure"
	// maxPricePages bounds NextPageLink chasing for one SKU.
	maxPricePages = 5
	hoursPerYear  = 8760
)

// flatRates are pay-as-you-go list prices for SKUs the Retail Prices API
// meters per tier rather than per unit.
var flatRates = map[string]model.RawPriceQuote{
	"Standard_LRS":       {Unit: model.UnitGBMonth, UnitPrice: 0.045},
	"StandardSSD_LRS":    {Unit: model.UnitGBMonth, UnitPrice: 0.075},
	"StandardSSD_ZRS":    {Unit: model.UnitGBMonth, UnitPrice: 0.094},
	"Premium_LRS":        {Unit: model.UnitGBMonth, UnitPrice: 0.132},
	"Premium_ZRS":        {Unit: model.UnitGBMonth, UnitPrice: 0.165},
	"PremiumV2_LRS":      {Unit: model.UnitGBMonth, UnitPrice: 0.082},
	"UltraSSD_LRS":       {Unit: model.UnitGBMonth, UnitPrice: 0.12},
	"public-ip-basic":    {Unit: model.UnitHour, UnitPrice: 0.0036},
	"public-ip-standard": {Unit: model.UnitHour, UnitPrice: 0.005},
}

// retailItem is one row of the Retail Prices API.
type retailItem struct {
	CurrencyCode    string  `json:"currencyCode"`
	RetailPrice     float64 `json:"retailPrice"`
	ArmRegionName   string  `json:"armRegionName"`
	ArmSkuName      string  `json:"armSkuName"`
	ProductName     string  `json:"productName"`
	SkuName         string  `json:"skuName"`
	Type            string  `json:"type"`
	UnitOfMeasure   string  `json:"unitOfMeasure"`
	ReservationTerm string  `json:"reservationTerm"`
}

type retailPage struct {
	Items        []retailItem `json:"Items"`
	NextPageLink string       `json:"NextPageLink"`
}

// retailPipeline is an unauthenticated azcore pipeline for the public
// Retail Prices API.
func (a *Adapter) retailPipeline() runtime.Pipeline {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.retail == nil {
		opts := a.clientOptions()
		pl := runtime.NewPipeline(moduleName, version.Current, runtime.PipelineOptions{}, &opts)
		a.retail = &pl
	}
	return *a.retail
}

// GetPricing quotes VM sizes from the Retail Prices API and disks and public
// IPs from the flat table. Spot VMs are quoted at the pay-as-you-go rate as an
// upper bound.
func (a *Adapter) GetPricing(ctx context.Context, res model.Resource, pricingModel string) (model.RawPriceQuote, error) {
	if q, ok := flatRates[res.SKU]; ok {
		q.SKU = res.SKU
		q.Region = res.Region
		q.Currency = "USD"
		q.PricingModel = pricingModel
		return q, nil
	}
	if res.NativeType != "compute:vm" || res.SKU == "" {
		return model.RawPriceQuote{}, fmt.Errorf("azure: no retail price for %s %q: %w", res.NativeType, res.SKU, model.ErrNotFound)
	}

	priceType := "Consumption"
	if pricingModel == model.PricingReserved {
		priceType = "Reservation"
	}
	filter := fmt.Sprintf("serviceName eq 'Virtual Machines' and armRegionName eq '%s' and armSkuName eq '%s' and priceType eq '%s'",
		res.Region, res.SKU, priceType)
	next := a.retailURL + "?" + url.Values{"$filter": {filter}}.Encode()

	windows := res.Attr("platform") == "windows"
	for i := 0; i < maxPricePages && next != ""; i++ {
		page, err := a.retailPage(ctx, next)
		if err != nil {
			return model.RawPriceQuote{}, fmt.Errorf("retail prices for %s: %w", res.SKU, err)
		}
		for _, item := range page.Items {
			price, ok := vmPrice(item, windows, pricingModel)
			if !ok {
				continue
			}
			return model.RawPriceQuote{
				SKU:          res.SKU,
				Region:       res.Region,
				Unit:         model.UnitHour,
				UnitPrice:    price,
				Currency:     item.CurrencyCode,
				PricingModel: pricingModel,
			}, nil
		}
		next = page.NextPageLink
	}
	return model.RawPriceQuote{}, fmt.Errorf("no retail price for %s %s: %w", res.Region, res.SKU, model.ErrNotFound)
}

// vmPrice picks the hourly rate from a retail row. Reservation rows carry the
// whole 1-year term price.
func vmPrice(item retailItem, windows bool, pricingModel string) (float64, bool) {
	if item.UnitOfMeasure != "1 Hour" {
		return 0, false
	}
	if strings.Contains(item.SkuName, "Spot") || strings.Contains(item.SkuName, "Low Priority") {
		return 0, false
	}
	if pricingModel == model.PricingReserved {
		if item.Type != "Reservation" || item.ReservationTerm != "1 Year" {
			return 0, false
		}
		return item.RetailPrice / hoursPerYear, true
	}
	if item.Type != "Consumption" || strings.Contains(item.ProductName, "Windows") != windows {
		return 0, false
	}
	return item.RetailPrice, true
}

func (a *Adapter) retailPage(ctx context.Context, link string) (retailPage, error) {
	var page retailPage
	pl := a.retailPipeline()
	err := a.guarded(ctx, safety.Call(model.ProviderAzure, "retailprices", "GetPrices"), func(ctx context.Context) error {
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
		return runtime.UnmarshalAsJSON(resp, &page)
	})
	return page, err
}
