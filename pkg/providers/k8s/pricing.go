package k8s

import (
	"context"
	"fmt"
	"strconv"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// GetPricing quotes cluster resources from the configured rate card. Nodes
// are priced per vCPU and GB of memory. The card carries no commitment
// rates, so reserved quotes are not found.
func (a *Adapter) GetPricing(_ context.Context, res model.Resource, pricingModel string) (model.RawPriceQuote, error) {
	if pricingModel == model.PricingReserved {
		return model.RawPriceQuote{}, fmt.Errorf("kubernetes: no reserved rates: %w", model.ErrNotFound)
	}
	quote := model.RawPriceQuote{SKU: res.SKU, Region: res.Region, Currency: "USD", PricingModel: pricingModel}

	switch res.NativeType {
	case "core:node":
		vcpus, errCPU := strconv.ParseFloat(res.Attr("vcpus"), 64)
		mem, errMem := strconv.ParseFloat(res.Attr("memory_gb"), 64)
		if errCPU != nil || errMem != nil {
			return model.RawPriceQuote{}, fmt.Errorf("kubernetes: node %s has no capacity: %w", res.Name, model.ErrNotFound)
		}
		quote.Unit = model.UnitHour
		quote.UnitPrice = vcpus*a.rates.CPUCoreHour + mem*a.rates.MemoryGBHour
	case "core:persistentvolume":
		quote.Unit = model.UnitGBMonth
		quote.UnitPrice = a.rates.StorageGBMonth
	case "core:service":
		quote.Unit = model.UnitHour
		quote.UnitPrice = a.rates.LoadBalancerHour
	default:
		return model.RawPriceQuote{}, fmt.Errorf("kubernetes: no price for %s: %w", res.NativeType, model.ErrNotFound)
	}
	if quote.UnitPrice <= 0 {
		return model.RawPriceQuote{}, fmt.Errorf("kubernetes: rate card has no rate for %s: %w", res.NativeType, model.ErrNotFound)
	}
	return quote, nil
}
