package pricing

import (
	"strconv"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/config"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// Built-in list rates used when neither the cache nor the catalog can price a
// resource. They are deliberately coarse and always flagged stale.
var defaultRates = map[string]model.RawPriceQuote{
	model.TypeCompute:    {Unit: model.UnitHour, UnitPrice: 0.10},
	model.TypeDatabase:   {Unit: model.UnitHour, UnitPrice: 0.20},
	model.TypeCache:      {Unit: model.UnitHour, UnitPrice: 0.10},
	model.TypeContainer:  {Unit: model.UnitHour, UnitPrice: 0.10},
	model.TypeServerless: {Unit: model.UnitMonth, UnitPrice: 2.00},
	model.TypeStorage:    {Unit: model.UnitGBMonth, UnitPrice: 0.10},
	model.TypeNetwork:    {Unit: model.UnitHour, UnitPrice: 0.01},
}

var defaultKindRates = map[string]model.RawPriceQuote{
	"snapshot": {Unit: model.UnitGBMonth, UnitPrice: 0.05},
	"log":      {Unit: model.UnitGBMonth, UnitPrice: 0.03},
	"bucket":   {Unit: model.UnitGBMonth, UnitPrice: 0.023},
	"nat":      {Unit: model.UnitHour, UnitPrice: 0.045},
	"ip":       {Unit: model.UnitHour, UnitPrice: 0.005},
	"lb":       {Unit: model.UnitHour, UnitPrice: 0.0225},
}

// DefaultQuote returns the built-in rate for a resource.
func DefaultQuote(res model.Resource) (model.RawPriceQuote, bool) {
	q, ok := defaultKindRates[res.Attr("kind")]
	if !ok {
		q, ok = defaultRates[res.Type]
	}
	if !ok {
		return model.RawPriceQuote{}, false
	}
	q.SKU = res.SKU
	q.Region = res.Region
	q.Currency = "USD"
	return q, true
}

func isComputeLike(t string) bool {
	switch t {
	case model.TypeCompute, model.TypeDatabase, model.TypeServerless, model.TypeContainer, model.TypeCache:
		return true
	}
	return false
}

// Category maps a resource onto a cost category.
func Category(res model.Resource) string {
	switch res.Attr("kind") {
	case "snapshot", "log":
		return model.CategoryHidden
	case "ip":
		if res.Attr("associated") == "false" {
			return model.CategoryHidden
		}
	}
	switch {
	case res.Type == model.TypeStorage:
		return model.CategoryStorage
	case res.Type == model.TypeNetwork:
		return model.CategoryNetwork
	default:
		return model.CategoryCompute
	}
}

// Units is the number of billed units behind one resource: cluster nodes or
// provisioned capacity, read from the "units" attribute. It defaults to 1.
func Units(res model.Resource) float64 {
	if v, err := strconv.ParseFloat(res.Attr("units"), 64); err == nil && v >= 0 {
		return v
	}
	return 1
}

// MonthlyAmount converts a unit rate into a monthly amount for res.
func MonthlyAmount(q model.RawPriceQuote, res model.Resource) float64 {
	if isComputeLike(res.Type) && res.State == model.StateStopped {
		return 0
	}
	switch q.Unit {
	case model.UnitHour:
		return q.UnitPrice * config.HoursPerMonth * Units(res)
	case model.UnitGBMonth:
		return q.UnitPrice * res.SizeGB
	default:
		return q.UnitPrice * Units(res)
	}
}
