package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/cloudbilling/v1"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/config"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

const (
	// computeService is the Cloud Billing id of Compute Engine.
	computeService = "services/6F81-5844-456A"
	catalogTTL     = 24 * time.Hour
)

// diskSKUs maps disk types to their catalog capacity description prefix.
var diskSKUs = map[string]string{
	"pd-standard": "Storage PD Capacity",
	"pd-balanced": "Balanced PD Capacity",
	"pd-ssd":      "SSD backed PD Capacity",
	"pd-extreme":  "Extreme PD Capacity",
}

// flatRates cover SKUs whose catalog entry is not per unit.
var flatRates = map[string]model.RawPriceQuote{
	"static-ip": {Unit: model.UnitHour, UnitPrice: 0.01},
}

// usageTypes maps pricing models onto catalog usage types.
var usageTypes = map[string]string{
	model.PricingOnDemand: "OnDemand",
	model.PricingSpot:     "Preemptible",
	model.PricingReserved: "Commit1Yr",
}

type skuCatalog struct {
	skus    []*cloudbilling.Sku
	fetched time.Time
}

// skus returns the Compute Engine catalog, refreshed daily. A failed fetch is
// not cached.
func (a *Adapter) skus(ctx context.Context, s *services) ([]*cloudbilling.Sku, error) {
	a.mu.Lock()
	cached := a.catalog
	a.mu.Unlock()
	if cached.skus != nil && a.now().Sub(cached.fetched) < catalogTTL {
		return cached.skus, nil
	}

	var all []*cloudbilling.Sku
	token := ""
	for {
		var page *cloudbilling.ListSkusResponse
		err := a.guarded(ctx, safety.Call(model.ProviderGCP, "cloudbilling", "ListSkus"), func(ctx context.Context) error {
			var err error
			page, err = s.billing.Services.Skus.List(computeService).CurrencyCode("USD").PageToken(token).Context(ctx).Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list compute SKUs: %w", err)
		}
		all = append(all, page.Skus...)
		if token = page.NextPageToken; token == "" {
			break
		}
	}

	a.mu.Lock()
	a.catalog = skuCatalog{skus: all, fetched: a.now()}
	a.mu.Unlock()
	return all, nil
}

// unitPrice reads the steady-state rate: the highest tier of the first
// pricing info.
func unitPrice(sku *cloudbilling.Sku) (float64, string, bool) {
	if len(sku.PricingInfo) == 0 || sku.PricingInfo[0].PricingExpression == nil {
		return 0, "", false
	}
	expr := sku.PricingInfo[0].PricingExpression
	if len(expr.TieredRates) == 0 || expr.TieredRates[len(expr.TieredRates)-1].UnitPrice == nil {
		return 0, "", false
	}
	m := expr.TieredRates[len(expr.TieredRates)-1].UnitPrice
	return float64(m.Units) + float64(m.Nanos)/1e9, expr.UsageUnit, true
}

func inRegion(sku *cloudbilling.Sku, region string) bool {
	for _, r := range sku.ServiceRegions {
		if r == region {
			return true
		}
	}
	return false
}

// componentRate finds the hourly core or RAM rate of a machine family.
// Predefined and custom machine types are billed on separate SKUs.
func componentRate(skus []*cloudbilling.Sku, sh shape, component, usage, region string) (float64, bool) {
	token := strings.ToUpper(sh.family) + " "
	for _, sku := range skus {
		c := sku.Category
		if c == nil || c.ResourceFamily != "Compute" || c.UsageType != usage || !inRegion(sku, region) {
			continue
		}
		desc := sku.Description
		if !strings.Contains(desc, token) || strings.Contains(desc, "Custom") != sh.custom ||
			strings.Contains(desc, "Sole Tenancy") || strings.Contains(desc, "Extended") {
			continue
		}
		switch component {
		case "core":
			if !strings.Contains(desc, "Core") && !strings.Contains(desc, "Cpu") {
				continue
			}
		case "ram":
			if !strings.Contains(desc, "Ram") {
				continue
			}
		}
		if p, unit, ok := unitPrice(sku); ok && (unit == "h" || unit == "GiBy.h") {
			return p, true
		}
	}
	return 0, false
}

// GetPricing quotes machine types as vCPU and memory components from the
// Cloud Billing catalog, and disks per GB-month.
func (a *Adapter) GetPricing(ctx context.Context, res model.Resource, pricingModel string) (model.RawPriceQuote, error) {
	quote := model.RawPriceQuote{SKU: res.SKU, Region: res.Region, Currency: "USD", PricingModel: pricingModel}
	if q, ok := flatRates[res.SKU]; ok {
		quote.Unit, quote.UnitPrice = q.Unit, q.UnitPrice
		return quote, nil
	}
	usage, ok := usageTypes[pricingModel]
	if !ok {
		return model.RawPriceQuote{}, fmt.Errorf("gcp: unknown pricing model %q: %w", pricingModel, model.ErrNotFound)
	}

	switch res.NativeType {
	case "compute:instance":
		sh, ok := machineShape(res.SKU)
		if !ok {
			return model.RawPriceQuote{}, fmt.Errorf("gcp: unknown machine type %q: %w", res.SKU, model.ErrNotFound)
		}
		s, err := a.servicesForProject(res.AccountID)
		if err != nil {
			return model.RawPriceQuote{}, err
		}
		skus, err := a.skus(ctx, s)
		if err != nil {
			return model.RawPriceQuote{}, err
		}
		core, okCore := componentRate(skus, sh, "core", usage, res.Region)
		ram, okRAM := componentRate(skus, sh, "ram", usage, res.Region)
		if !okCore || !okRAM {
			return model.RawPriceQuote{}, fmt.Errorf("gcp: no %s rate for %s in %s: %w", usage, res.SKU, res.Region, model.ErrNotFound)
		}
		quote.Unit = model.UnitHour
		quote.UnitPrice = sh.vcpus*core + sh.memGB*ram
		return quote, nil

	case "compute:disk":
		prefix, ok := diskSKUs[res.SKU]
		if !ok {
			return model.RawPriceQuote{}, fmt.Errorf("gcp: unknown disk type %q: %w", res.SKU, model.ErrNotFound)
		}
		s, err := a.servicesForProject(res.AccountID)
		if err != nil {
			return model.RawPriceQuote{}, err
		}
		skus, err := a.skus(ctx, s)
		if err != nil {
			return model.RawPriceQuote{}, err
		}
		for _, sku := range skus {
			c := sku.Category
			if c == nil || c.UsageType != "OnDemand" || !strings.HasPrefix(sku.Description, prefix) || !inRegion(sku, res.Region) {
				continue
			}
			p, unit, ok := unitPrice(sku)
			if !ok {
				continue
			}
			switch unit {
			case "GiBy.mo":
			case "GiBy.h":
				p *= config.HoursPerMonth
			default:
				continue
			}
			quote.Unit = model.UnitGBMonth
			quote.UnitPrice = p
			return quote, nil
		}
		return model.RawPriceQuote{}, fmt.Errorf("gcp: no rate for %s in %s: %w", res.SKU, res.Region, model.ErrNotFound)
	}
	return model.RawPriceQuote{}, fmt.Errorf("gcp: no price for %s: %w", res.NativeType, model.ErrNotFound)
}
