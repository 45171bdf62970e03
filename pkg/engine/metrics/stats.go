package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// Summarize aggregates samples into a MetricSummary.
func Summarize(samples []model.UtilizationSample) model.MetricSummary {
	if len(samples) == 0 {
		return model.MetricSummary{}
	}
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	return model.MetricSummary{
		Count:      len(values),
		P50:        Percentile(sorted, 50),
		P95:        Percentile(sorted, 95),
		P99:        Percentile(sorted, 99),
		Mean:       mean(values),
		Max:        sorted[len(sorted)-1],
		TrendSlope: trendPerDay(samples),
	}
}

// Percentile computes the Nth percentile of sorted values using linear interpolation.
func Percentile(sortedValues []float64, percentile float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if len(sortedValues) == 1 {
		return sortedValues[0]
	}

	n := float64(len(sortedValues))
	rank := (percentile / 100.0) * (n - 1)
	lowerIndex := int(math.Floor(rank))
	upperIndex := int(math.Ceil(rank))
	if lowerIndex == upperIndex {
		return sortedValues[lowerIndex]
	}

	lowerValue := sortedValues[lowerIndex]
	upperValue := sortedValues[upperIndex]
	fraction := rank - float64(lowerIndex)
	return lowerValue + (upperValue-lowerValue)*fraction
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// trendPerDay is the least-squares slope of value over time, in units per day.
func trendPerDay(samples []model.UtilizationSample) float64 {
	if len(samples) < 2 {
		return 0
	}
	t0 := samples[0].Timestamp
	x := make([]float64, len(samples))
	y := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = s.Timestamp.Sub(t0).Hours() / 24
		y[i] = s.Value
	}
	slope, _ := linearRegression(x, y)
	return slope
}

func linearRegression(x, y []float64) (slope, intercept float64) {
	meanX := mean(x)
	meanY := mean(y)
	numerator := 0.0
	denominator := 0.0
	for i := range x {
		numerator += (x[i] - meanX) * (y[i] - meanY)
		denominator += (x[i] - meanX) * (x[i] - meanX)
	}
	if denominator == 0 {
		return 0, meanY
	}
	slope = numerator / denominator
	return slope, meanY - slope*meanX
}

// weekdayWeekend splits sample means by day of week.
func weekdayWeekend(samples []model.UtilizationSample) (weekday, weekend []float64) {
	for _, s := range samples {
		switch s.Timestamp.UTC().Weekday() {
		case time.Saturday, time.Sunday:
			weekend = append(weekend, s.Value)
		default:
			weekday = append(weekday, s.Value)
		}
	}
	return weekday, weekend
}
