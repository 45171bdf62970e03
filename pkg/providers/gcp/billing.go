package gcp

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/config"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers"
)

// CostRow is one (service, SKU) cost total from the billing export, credits
// applied.
type CostRow struct {
	Service  string  `bigquery:"service"`
	SKU      string  `bigquery:"sku"`
	Currency string  `bigquery:"currency"`
	Cost     float64 `bigquery:"cost"`
}

// tableName accepts project.dataset.table identifiers only, since the
// table name cannot be a query parameter.
var tableName = regexp.MustCompile(`^[A-Za-z0-9_:-]+\.[A-Za-z0-9_]+\.[A-Za-z0-9_]+$`)

const costQuery = "SELECT service.description AS service, sku.description AS sku, currency, " +
	"SUM(cost) + SUM(IFNULL((SELECT SUM(c.amount) FROM UNNEST(credits) c), 0)) AS cost " +
	"FROM `%s` " +
	"WHERE project.id = @project AND usage_start_time >= @start AND usage_start_time < @end " +
	"GROUP BY service, sku, currency"

// category maps a billed service and SKU onto a cost category. Compute
// Engine bills disks and addresses under its own service name.
func category(service, sku string) (string, bool) {
	switch service {
	case "Compute Engine":
		switch {
		case strings.Contains(sku, "PD Capacity"), strings.Contains(sku, "Snapshot"), strings.Contains(sku, "Storage"):
			return model.CategoryStorage, true
		case strings.Contains(sku, "Ip Charge"), strings.Contains(sku, "IP Charge"), strings.Contains(sku, "Egress"), strings.Contains(sku, "Network"):
			return model.CategoryNetwork, true
		}
		return model.CategoryCompute, true
	case "Cloud Storage":
		return model.CategoryStorage, true
	case "Networking", "Cloud DNS", "Cloud Load Balancing":
		return model.CategoryNetwork, true
	case "Cloud Monitoring", "Cloud Logging":
		return model.CategoryHidden, true
	}
	return "", false
}

// bigQuery returns the BigQuery client for the account's credential, running
// jobs in the billing project.
func (a *Adapter) bigQuery(acct model.CloudAccount) (*bigquery.Client, error) {
	s, err := a.servicesFor(acct)
	if err != nil {
		return nil, err
	}
	project := a.billingProject
	if project == "" {
		project = acct.ID
	}
	key := acct.Credential.Value() + "|" + project

	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.bq[key]; ok {
		return c, nil
	}
	c, err := bigquery.NewClient(context.Background(), project, option.WithHTTPClient(s.http))
	if err != nil {
		return nil, fmt.Errorf("failed to create BigQuery client: %w", err)
	}
	a.bq[key] = c
	return c, nil
}

// queryBigQuery reads the standard billing export table.
func (a *Adapter) queryBigQuery(ctx context.Context, acct model.CloudAccount, period providers.Period) ([]CostRow, error) {
	if a.billingTable == "" {
		return nil, fmt.Errorf("gcp: no billing export table configured: %w", model.ErrNotFound)
	}
	if !tableName.MatchString(a.billingTable) {
		return nil, fmt.Errorf("gcp: invalid billing export table %q", a.billingTable)
	}
	client, err := a.bigQuery(acct)
	if err != nil {
		return nil, err
	}
	q := client.Query(fmt.Sprintf(costQuery, a.billingTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "project", Value: acct.ID},
		{Name: "start", Value: period.Start.UTC()},
		{Name: "end", Value: period.End.UTC()},
	}

	var it *bigquery.RowIterator
	err = a.guarded(ctx, safety.Call(model.ProviderGCP, "bigquery", "GetBillingExport"), func(ctx context.Context) error {
		var err error
		it, err = q.Read(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute BigQuery query: %w", err)
	}

	var rows []CostRow
	err = a.guarded(ctx, safety.Call(model.ProviderGCP, "bigquery", "GetBillingExportData"), func(ctx context.Context) error {
		for {
			var row CostRow
			err := it.Next(&row)
			if errors.Is(err, iterator.Done) {
				return nil
			}
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read BigQuery row: %w", err)
	}
	return rows, nil
}

// GetBillingExport totals the billing export per category and rescales it to
// a monthly figure.
func (a *Adapter) GetBillingExport(ctx context.Context, acct model.CloudAccount, period providers.Period) (model.BillingExport, error) {
	rows, err := a.query(ctx, acct, period)
	if err != nil {
		return model.BillingExport{}, err
	}
	exp := model.BillingExport{
		Provider:    model.ProviderGCP,
		AccountID:   acct.ID,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Currency:    "USD",
		Totals:      map[string]float64{},
	}
	for _, row := range rows {
		cat, ok := category(row.Service, row.SKU)
		if !ok {
			continue
		}
		if row.Currency != "" {
			exp.Currency = row.Currency
		}
		exp.Totals[cat] += row.Cost
	}
	if hours := period.End.Sub(period.Start).Hours(); hours > 0 {
		for k, v := range exp.Totals {
			exp.Totals[k] = v * config.HoursPerMonth / hours
		}
	}
	return exp, nil
}
