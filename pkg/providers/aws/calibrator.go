package aws

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
)

// calibrationTTL bounds how long one factor is reused.
const calibrationTTL = 24 * time.Hour

// Calibrator derives the ratio of amortized to unblended EC2 compute spend,
// so list prices reflect existing Savings Plans and RIs.
type Calibrator struct {
	ce     CostExplorerClient
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	factor  float64
	fetched time.Time
}

func NewCalibrator(ce CostExplorerClient, logger *slog.Logger, now func() time.Time) *Calibrator {
	return &Calibrator{ce: ce, logger: logger, now: now}
}

func (a *Adapter) calibrator(profile string) *Calibrator {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.calibrators[profile]; ok {
		return c
	}
	cl, ok := a.clients[profile+"|"+defaultRegion]
	if !ok {
		return &Calibrator{factor: 1, logger: a.logger, now: a.now}
	}
	c := NewCalibrator(cl.CostExplorer, a.logger, a.now)
	a.calibrators[profile] = c
	return c
}

// Factor returns the calibration multiplier. It fails open to 1.0.
func (c *Calibrator) Factor(ctx context.Context) float64 {
	if c.ce == nil {
		return 1.0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fetched.IsZero() && c.now().Sub(c.fetched) < calibrationTTL {
		return c.factor
	}

	factor, err := c.fetch(ctx)
	if err != nil {
		c.logger.Warn("Calibration failed, using standard list prices", "error", err)
		factor = 1.0
	}
	c.factor = factor
	c.fetched = c.now()
	return factor
}

func (c *Calibrator) fetch(ctx context.Context) (float64, error) {
	now := c.now().UTC()
	out, err := c.ce.GetCostAndUsage(ctx, &costexplorer.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: aws.String(now.AddDate(0, 0, -7).Format("2006-01-02")),
			End:   aws.String(now.Format("2006-01-02")),
		},
		Granularity: types.GranularityDaily,
		Metrics:     []string{"AmortizedCost", "UnblendedCost"},
		Filter: &types.Expression{
			Dimensions: &types.DimensionValues{
				Key:    types.DimensionService,
				Values: []string{"Amazon Elastic Compute Cloud - Compute"},
			},
		},
	})
	if err != nil {
		return 1.0, err
	}

	var amortized, unblended float64
	for _, r := range out.ResultsByTime {
		amortized += amount(r.Total["AmortizedCost"])
		unblended += amount(r.Total["UnblendedCost"])
	}
	if unblended == 0 {
		return 1.0, nil
	}
	factor := amortized / unblended
	// outside this range the data is more likely wrong than the discount
	if factor < 0.1 || factor > 1.5 {
		c.logger.Warn("Calibration factor out of range, ignoring", "factor", factor)
		return 1.0, nil
	}
	return factor, nil
}

func amount(v types.MetricValue) float64 {
	f, err := strconv.ParseFloat(aws.ToString(v.Amount), 64)
	if err != nil {
		return 0
	}
	return f
}
