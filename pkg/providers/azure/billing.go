package azure

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/config"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers"
)

// billedCategories maps Cost Management ServiceName values onto cost
// categories. Unlisted services are not compared.
var billedCategories = map[string]string{
	"Virtual Machines":          model.CategoryCompute,
	"Virtual Machines Licenses": model.CategoryCompute,
	"Storage":                   model.CategoryStorage,
	"Virtual Network":           model.CategoryNetwork,
	"Bandwidth":                 model.CategoryNetwork,
	"Load Balancer":             model.CategoryNetwork,
	"Azure Monitor":             model.CategoryHidden,
	"Log Analytics":             model.CategoryHidden,
}

// GetBillingExport queries actual cost per service for the subscription and
// rescales it to a monthly figure.
func (a *Adapter) GetBillingExport(ctx context.Context, acct model.CloudAccount, period providers.Period) (model.BillingExport, error) {
	c, err := a.clientsFor(acct)
	if err != nil {
		return model.BillingExport{}, err
	}
	query := armcostmanagement.QueryDefinition{
		Type:      to.Ptr(armcostmanagement.ExportTypeActualCost),
		Timeframe: to.Ptr(armcostmanagement.TimeframeTypeCustom),
		TimePeriod: &armcostmanagement.QueryTimePeriod{
			From: to.Ptr(period.Start.UTC()),
			To:   to.Ptr(period.End.UTC()),
		},
		Dataset: &armcostmanagement.QueryDataset{
			Aggregation: map[string]*armcostmanagement.QueryAggregation{
				"totalCost": {
					Name:     to.Ptr("Cost"),
					Function: to.Ptr(armcostmanagement.FunctionTypeSum),
				},
			},
			Grouping: []*armcostmanagement.QueryGrouping{
				{
					Type: to.Ptr(armcostmanagement.QueryColumnTypeDimension),
					Name: to.Ptr("ServiceName"),
				},
			},
		},
	}

	var resp armcostmanagement.QueryClientUsageResponse
	err = a.guarded(ctx, safety.Call(model.ProviderAzure, "costmanagement", "GetUsage"), func(ctx context.Context) error {
		var err error
		resp, err = c.Costs.Usage(ctx, "/subscriptions/"+acct.ID, query, nil)
		return err
	})
	if err != nil {
		return model.BillingExport{}, fmt.Errorf("failed to query costs: %w", err)
	}

	exp := model.BillingExport{
		Provider:    model.ProviderAzure,
		AccountID:   acct.ID,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Currency:    "USD",
		Totals:      map[string]float64{},
	}
	if resp.Properties == nil {
		return exp, nil
	}
	costCol, serviceCol, currencyCol := columns(resp.Properties.Columns)
	if costCol < 0 || serviceCol < 0 {
		return model.BillingExport{}, fmt.Errorf("cost query returned no cost or service column")
	}
	for _, row := range resp.Properties.Rows {
		if len(row) <= costCol || len(row) <= serviceCol {
			continue
		}
		cost, ok := row[costCol].(float64)
		if !ok {
			continue
		}
		service, _ := row[serviceCol].(string)
		cat, ok := billedCategories[service]
		if !ok {
			continue
		}
		if currencyCol >= 0 && currencyCol < len(row) {
			if cur, ok := row[currencyCol].(string); ok && cur != "" {
				exp.Currency = cur
			}
		}
		exp.Totals[cat] += cost
	}
	if hours := period.End.Sub(period.Start).Hours(); hours > 0 {
		for k, v := range exp.Totals {
			exp.Totals[k] = v * config.HoursPerMonth / hours
		}
	}
	return exp, nil
}

// columns locates the cost, service and currency columns of a query result.
func columns(cols []*armcostmanagement.QueryColumn) (cost, service, currency int) {
	cost, service, currency = -1, -1, -1
	for i, col := range cols {
		if col == nil || col.Name == nil {
			continue
		}
		switch strings.ToLower(*col.Name) {
		case "cost", "pretaxcost", "totalcost":
			cost = i
		case "servicename":
			service = i
		case "currency":
			currency = i
		}
	}
	return cost, service, currency
}
