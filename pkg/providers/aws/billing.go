package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/config"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers"
)

// billedCategories maps Cost Explorer SERVICE values onto cost categories.
// Services not listed (tax, support, marketplace) are not compared.
var billedCategories = map[string]string{
	"Amazon Elastic Compute Cloud - Compute":          model.CategoryCompute,
	"Amazon Relational Database Service":              model.CategoryCompute,
	"Amazon DynamoDB":                                 model.CategoryCompute,
	"Amazon Redshift":                                 model.CategoryCompute,
	"Amazon ElastiCache":                              model.CategoryCompute,
	"AWS Lambda":                                      model.CategoryCompute,
	"Amazon Elastic Container Service":                model.CategoryCompute,
	"Amazon Elastic Container Service for Kubernetes": model.CategoryCompute,
	"EC2 - Other":                                     model.CategoryStorage,
	"Amazon Simple Storage Service":                   model.CategoryStorage,
	"Amazon EC2 Container Registry (ECR)":             model.CategoryStorage,
	"Amazon Elastic Load Balancing":                   model.CategoryNetwork,
	"Amazon Route 53":                                 model.CategoryNetwork,
	"Amazon Virtual Private Cloud":                    model.CategoryNetwork,
	"AmazonCloudWatch":                                model.CategoryHidden,
}

// GetBillingExport reads unblended spend per service from Cost Explorer and
// folds it into monthly category totals.
func (a *Adapter) GetBillingExport(ctx context.Context, acct model.CloudAccount, period providers.Period) (model.BillingExport, error) {
	profile := a.remember(acct)
	c, err := a.clientsFor(ctx, profile, defaultRegion)
	if err != nil {
		return model.BillingExport{}, err
	}

	start := period.Start.UTC().Format("2006-01-02")
	end := period.End.UTC().Format("2006-01-02")
	if end <= start {
		end = period.Start.UTC().AddDate(0, 0, 1).Format("2006-01-02")
	}

	exp := model.BillingExport{
		Provider:    model.ProviderAWS,
		AccountID:   acct.ID,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Currency:    "USD",
		Totals:      map[string]float64{},
	}
	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod:  &types.DateInterval{Start: aws.String(start), End: aws.String(end)},
		Granularity: types.GranularityMonthly,
		Metrics:     []string{"UnblendedCost"},
		GroupBy:     []types.GroupDefinition{{Type: types.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")}},
		Filter: &types.Expression{
			Dimensions: &types.DimensionValues{Key: types.DimensionLinkedAccount, Values: []string{acct.ID}},
		},
	}
	for {
		out, err := c.CostExplorer.GetCostAndUsage(ctx, input)
		if err != nil {
			return model.BillingExport{}, fmt.Errorf("get cost and usage: %w", err)
		}
		for _, r := range out.ResultsByTime {
			for _, g := range r.Groups {
				if len(g.Keys) == 0 {
					continue
				}
				cat, ok := billedCategories[g.Keys[0]]
				if !ok {
					continue
				}
				m := g.Metrics["UnblendedCost"]
				if u := aws.ToString(m.Unit); u != "" {
					exp.Currency = u
				}
				exp.Totals[cat] += amount(m)
			}
		}
		if out.NextPageToken == nil {
			break
		}
		input.NextPageToken = out.NextPageToken
	}
	monthly(exp.Totals, period)
	return exp, nil
}

// monthly rescales window totals to a 730-hour month so they compare with
// computed monthly line items.
func monthly(totals map[string]float64, period providers.Period) {
	hours := period.End.Sub(period.Start).Hours()
	if hours <= 0 {
		return
	}
	for k, v := range totals {
		totals[k] = v * config.HoursPerMonth / hours
	}
}
