package aws

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

const (
	metricPeriod = time.Hour
	// GetMetricStatistics returns at most 1440 datapoints per call.
	maxDatapoints = 1440
)

// metricQuery binds a normalized metric to its CloudWatch source.
type metricQuery struct {
	namespace string
	name      string
	dimension string
	value     string
	stat      types.Statistic
}

func queryFor(res model.Resource, metric string) (metricQuery, bool) {
	switch {
	case metric == "cpu" && res.NativeType == "ec2:instance":
		return metricQuery{"AWS/EC2", "CPUUtilization", "InstanceId", res.NativeID, types.StatisticAverage}, true
	case metric == "cpu" && res.NativeType == "rds:db":
		return metricQuery{"AWS/RDS", "CPUUtilization", "DBInstanceIdentifier", res.NativeID, types.StatisticAverage}, true
	case metric == "cpu" && res.NativeType == "elasticache:cluster":
		return metricQuery{"AWS/ElastiCache", "CPUUtilization", "CacheClusterId", res.NativeID, types.StatisticAverage}, true
	case metric == "requests" && res.NativeType == "ec2:natgateway":
		return metricQuery{"AWS/NATGateway", "ActiveConnectionCount", "NatGatewayId", res.NativeID, types.StatisticSum}, true
	case metric == "requests" && res.NativeType == "elbv2:loadbalancer" && res.SKU == "application":
		return metricQuery{"AWS/ApplicationELB", "RequestCount", "LoadBalancer", res.Attr("metric_dimension"), types.StatisticSum}, true
	case metric == "requests" && res.NativeType == "elbv2:loadbalancer" && res.SKU == "network":
		return metricQuery{"AWS/NetworkELB", "NewFlowCount", "LoadBalancer", res.Attr("metric_dimension"), types.StatisticSum}, true
	}
	return metricQuery{}, false
}

func (a *Adapter) MetricNames(res model.Resource) []string {
	var out []string
	for _, m := range []string{"cpu", "requests"} {
		if _, ok := queryFor(res, m); ok {
			out = append(out, m)
		}
	}
	return out
}

// FetchMetric returns hourly samples over [start, end), split into calls that
// stay under the datapoint limit.
func (a *Adapter) FetchMetric(ctx context.Context, res model.Resource, metric string, start, end time.Time) ([]model.UtilizationSample, error) {
	q, ok := queryFor(res, metric)
	if !ok || q.value == "" {
		return nil, fmt.Errorf("aws: no %s metric for %s: %w", metric, res.NativeType, model.ErrNotFound)
	}
	c, err := a.clientsFor(ctx, a.profileFor(res.AccountID), apiRegion(res.Region))
	if err != nil {
		return nil, err
	}

	var out []model.UtilizationSample
	chunk := maxDatapoints * metricPeriod
	for from := start; from.Before(end); from = from.Add(chunk) {
		to := from.Add(chunk)
		if to.After(end) {
			to = end
		}
		page, err := c.CloudWatch.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
			Namespace:  aws.String(q.namespace),
			MetricName: aws.String(q.name),
			Dimensions: []types.Dimension{{Name: aws.String(q.dimension), Value: aws.String(q.value)}},
			StartTime:  aws.Time(from),
			EndTime:    aws.Time(to),
			Period:     aws.Int32(int32(metricPeriod.Seconds())),
			Statistics: []types.Statistic{q.stat},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get metric statistics: %w", err)
		}
		for _, dp := range page.Datapoints {
			if dp.Timestamp == nil {
				continue
			}
			v := dp.Average
			if q.stat == types.StatisticSum {
				v = dp.Sum
			}
			if v == nil {
				continue
			}
			out = append(out, model.UtilizationSample{ResourceID: res.ID, Metric: metric, Timestamp: *dp.Timestamp, Value: *v})
		}
	}
	// CloudWatch returns datapoints in random order; sort by timestamp.
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
