package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/pricing/types"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// flatRates are published us-east-1 list prices for SKUs the Price List API
// cannot filter down to one product.
var flatRates = map[string]model.RawPriceQuote{
	"snapshot":             {Unit: model.UnitGBMonth, UnitPrice: 0.05},
	"public-ipv4":          {Unit: model.UnitHour, UnitPrice: 0.005},
	"nat-gateway":          {Unit: model.UnitHour, UnitPrice: 0.045},
	"application":          {Unit: model.UnitHour, UnitPrice: 0.0225},
	"network":              {Unit: model.UnitHour, UnitPrice: 0.0225},
	"gateway":              {Unit: model.UnitHour, UnitPrice: 0.0125},
	"s3-standard":          {Unit: model.UnitGBMonth, UnitPrice: 0.023},
	"log-storage":          {Unit: model.UnitGBMonth, UnitPrice: 0.03},
	"ecr":                  {Unit: model.UnitGBMonth, UnitPrice: 0.10},
	"hosted-zone":          {Unit: model.UnitMonth, UnitPrice: 0.50},
	"eks-control-plane":    {Unit: model.UnitHour, UnitPrice: 0.10},
	"dynamodb-provisioned": {Unit: model.UnitHour, UnitPrice: 0.00065},
	"dynamodb-ondemand":    {Unit: model.UnitGBMonth, UnitPrice: 0.25},
	"lambda":               {Unit: model.UnitMonth, UnitPrice: 0}, // usage-priced
	"ecs":                  {Unit: model.UnitMonth, UnitPrice: 0},
}

// product is one Price List API query.
type product struct {
	service string
	unit    string
	filters map[string]string
}

var volumeAPINames = map[string]bool{"gp2": true, "gp3": true, "io1": true, "io2": true, "st1": true, "sc1": true, "standard": true}

var rdsEngines = map[string]string{
	"mysql":             "MySQL",
	"postgres":          "PostgreSQL",
	"mariadb":           "MariaDB",
	"aurora-mysql":      "Aurora MySQL",
	"aurora-postgresql": "Aurora PostgreSQL",
	"oracle-se2":        "Oracle",
	"sqlserver-se":      "SQL Server",
}

var cacheEngines = map[string]string{"redis": "Redis", "valkey": "Valkey", "memcached": "Memcached"}

func productFor(res model.Resource) (product, bool) {
	region := res.Region
	switch res.NativeType {
	case "ec2:instance":
		platform := "Linux"
		if res.Attr("platform") == "windows" {
			platform = "Windows"
		}
		return product{service: "AmazonEC2", unit: model.UnitHour, filters: map[string]string{
			"productFamily":   "Compute Instance",
			"regionCode":      region,
			"instanceType":    res.SKU,
			"tenancy":         "Shared",
			"operatingSystem": platform,
			"preInstalledSw":  "NA",
			"capacitystatus":  "Used",
			"licenseModel":    "No License required",
		}}, true
	case "ec2:volume":
		if !volumeAPINames[res.SKU] {
			return product{}, false
		}
		return product{service: "AmazonEC2", unit: model.UnitGBMonth, filters: map[string]string{
			"productFamily": "Storage",
			"regionCode":    region,
			"volumeApiName": res.SKU,
		}}, true
	case "rds:db":
		engine, ok := rdsEngines[res.Attr("engine")]
		if !ok {
			return product{}, false
		}
		deployment := "Single-AZ"
		if res.Attr("multi_az") == "true" {
			deployment = "Multi-AZ"
		}
		return product{service: "AmazonRDS", unit: model.UnitHour, filters: map[string]string{
			"productFamily":    "Database Instance",
			"regionCode":       region,
			"instanceType":     res.SKU,
			"databaseEngine":   engine,
			"deploymentOption": deployment,
		}}, true
	case "elasticache:cluster":
		engine, ok := cacheEngines[res.Attr("engine")]
		if !ok {
			return product{}, false
		}
		return product{service: "AmazonElastiCache", unit: model.UnitHour, filters: map[string]string{
			"productFamily": "Cache Instance",
			"regionCode":    region,
			"instanceType":  res.SKU,
			"cacheEngine":   engine,
		}}, true
	case "redshift:cluster":
		return product{service: "AmazonRedshift", unit: model.UnitHour, filters: map[string]string{
			"productFamily": "Compute Instance",
			"regionCode":    region,
			"instanceType":  res.SKU,
		}}, true
	}
	return product{}, false
}

// GetPricing quotes res from the Price List API, or from the flat table for
// SKUs without a filterable product. Spot capacity is quoted at the on-demand
// rate as an upper bound.
func (a *Adapter) GetPricing(ctx context.Context, res model.Resource, pricingModel string) (model.RawPriceQuote, error) {
	if q, ok := flatRates[res.SKU]; ok {
		q.SKU = res.SKU
		q.Region = res.Region
		q.Currency = "USD"
		q.PricingModel = pricingModel
		return q, nil
	}
	p, ok := productFor(res)
	if !ok {
		return model.RawPriceQuote{}, fmt.Errorf("aws: no catalog product for %s %q: %w", res.NativeType, res.SKU, model.ErrNotFound)
	}

	profile := a.profileFor(res.AccountID)
	c, err := a.clientsFor(ctx, profile, defaultRegion)
	if err != nil {
		return model.RawPriceQuote{}, err
	}

	filters := make([]types.Filter, 0, len(p.filters))
	for field, value := range p.filters {
		filters = append(filters, types.Filter{
			Type:  types.FilterTypeTermMatch,
			Field: aws.String(field),
			Value: aws.String(value),
		})
	}
	out, err := c.Pricing.GetProducts(ctx, &pricing.GetProductsInput{
		ServiceCode:   aws.String(p.service),
		Filters:       filters,
		FormatVersion: aws.String("aws_v1"),
		MaxResults:    aws.Int32(1),
	})
	if err != nil {
		return model.RawPriceQuote{}, fmt.Errorf("get products for %s: %w", res.SKU, err)
	}
	if len(out.PriceList) == 0 {
		return model.RawPriceQuote{}, fmt.Errorf("no pricing found for %s %s: %w", res.Region, res.SKU, model.ErrNotFound)
	}

	term := "OnDemand"
	if pricingModel == model.PricingReserved {
		term = "Reserved"
	}
	price, err := parsePrice(out.PriceList[0], term, p.unit)
	if err != nil {
		return model.RawPriceQuote{}, fmt.Errorf("parse price for %s: %w", res.SKU, err)
	}
	if a.calibrate && pricingModel == model.PricingOnDemand && res.Type == model.TypeCompute {
		price *= a.calibrator(profile).Factor(ctx)
	}
	return model.RawPriceQuote{
		SKU:          res.SKU,
		Region:       res.Region,
		Unit:         p.unit,
		UnitPrice:    price,
		Currency:     "USD",
		PricingModel: pricingModel,
	}, nil
}

type priceDimension struct {
	Unit         string            `json:"unit"`
	PricePerUnit map[string]string `json:"pricePerUnit"`
}

type priceTerm struct {
	TermAttributes  map[string]string         `json:"termAttributes"`
	PriceDimensions map[string]priceDimension `json:"priceDimensions"`
}

type priceProduct struct {
	Terms map[string]map[string]priceTerm `json:"terms"` // OnDemand|Reserved -> offer -> term
}

// priceUnits are the Price List units matching each quote unit.
var priceUnits = map[string][]string{
	model.UnitHour:    {"Hrs", "Hours"},
	model.UnitGBMonth: {"GB-Mo", "GB-month"},
}

// parsePrice extracts the USD rate for unit from a Price List document. For
// reserved terms it takes the 1yr No Upfront standard offer.
func parsePrice(doc, term, unit string) (float64, error) {
	var p priceProduct
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return 0, err
	}
	offers, ok := p.Terms[term]
	if !ok {
		return 0, fmt.Errorf("no %s terms in price document", term)
	}
	for _, t := range offers {
		if term == "Reserved" {
			a := t.TermAttributes
			if a["LeaseContractLength"] != "1yr" || a["PurchaseOption"] != "No Upfront" || a["OfferingClass"] == "convertible" {
				continue
			}
		}
		for _, dim := range t.PriceDimensions {
			if !unitMatches(dim.Unit, unit) {
				continue
			}
			if s, ok := dim.PricePerUnit["USD"]; ok {
				if v, err := strconv.ParseFloat(s, 64); err == nil {
					return v, nil
				}
			}
		}
	}
	return 0, fmt.Errorf("price not found in %s terms for unit %s", term, unit)
}

func unitMatches(priceUnit, unit string) bool {
	for _, u := range priceUnits[unit] {
		if u == priceUnit {
			return true
		}
	}
	return false
}
