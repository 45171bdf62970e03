package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// MockEC2Client implements EC2Client for testing.
type MockEC2Client struct {
	DescribeInstancesFunc func(ctx context.Context, params *ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error)
	DescribeVolumesFunc   func(ctx context.Context, params *ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error)
	DescribeAddressesFunc func(ctx context.Context, params *ec2.DescribeAddressesInput) (*ec2.DescribeAddressesOutput, error)
	DescribeSnapshotsFunc func(ctx context.Context, params *ec2.DescribeSnapshotsInput) (*ec2.DescribeSnapshotsOutput, error)
}

func (m *MockEC2Client) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if m.DescribeInstancesFunc != nil {
		return m.DescribeInstancesFunc(ctx, params)
	}
	return &ec2.DescribeInstancesOutput{}, nil
}

func (m *MockEC2Client) DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, _ ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
	if m.DescribeVolumesFunc != nil {
		return m.DescribeVolumesFunc(ctx, params)
	}
	return &ec2.DescribeVolumesOutput{}, nil
}

func (m *MockEC2Client) DescribeAddresses(ctx context.Context, params *ec2.DescribeAddressesInput, _ ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error) {
	if m.DescribeAddressesFunc != nil {
		return m.DescribeAddressesFunc(ctx, params)
	}
	return &ec2.DescribeAddressesOutput{}, nil
}

func (m *MockEC2Client) DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error) {
	if m.DescribeSnapshotsFunc != nil {
		return m.DescribeSnapshotsFunc(ctx, params)
	}
	return &ec2.DescribeSnapshotsOutput{}, nil
}

// Stubs for other interface methods
func (m *MockEC2Client) DescribeNatGateways(ctx context.Context, params *ec2.DescribeNatGatewaysInput, _ ...func(*ec2.Options)) (*ec2.DescribeNatGatewaysOutput, error) {
	return &ec2.DescribeNatGatewaysOutput{}, nil
}
func (m *MockEC2Client) DescribeReservedInstances(ctx context.Context, params *ec2.DescribeReservedInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeReservedInstancesOutput, error) {
	return &ec2.DescribeReservedInstancesOutput{}, nil
}

type mockS3 struct {
	buckets  []string
	location map[string]string
	tagErr   error
}

func (m *mockS3) ListBuckets(ctx context.Context, params *s3.ListBucketsInput, _ ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	out := &s3.ListBucketsOutput{}
	for _, b := range m.buckets {
		out.Buckets = append(out.Buckets, s3types.Bucket{Name: aws.String(b)})
	}
	return out, nil
}

func (m *mockS3) GetBucketLocation(ctx context.Context, params *s3.GetBucketLocationInput, _ ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error) {
	return &s3.GetBucketLocationOutput{LocationConstraint: s3types.BucketLocationConstraint(m.location[*params.Bucket])}, nil
}

func (m *mockS3) GetBucketTagging(ctx context.Context, params *s3.GetBucketTaggingInput, _ ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
	if m.tagErr != nil {
		return nil, m.tagErr
	}
	return &s3.GetBucketTaggingOutput{TagSet: []s3types.Tag{{Key: aws.String("team"), Value: aws.String("data")}}}, nil
}

type mockLogs struct {
	out *cloudwatchlogs.DescribeLogGroupsOutput
	err error
}

func (m *mockLogs) DescribeLogGroups(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.out == nil {
		return &cloudwatchlogs.DescribeLogGroupsOutput{}, nil
	}
	return m.out, nil
}

type mockECR struct{}

func (mockECR) DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, _ ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error) {
	return &ecr.DescribeRepositoriesOutput{}, nil
}

type mockELB struct {
	out *elbv2.DescribeLoadBalancersOutput
}

func (m *mockELB) DescribeLoadBalancers(ctx context.Context, params *elbv2.DescribeLoadBalancersInput, _ ...func(*elbv2.Options)) (*elbv2.DescribeLoadBalancersOutput, error) {
	if m.out == nil {
		return &elbv2.DescribeLoadBalancersOutput{}, nil
	}
	return m.out, nil
}

type mockRoute53 struct{ calls int }

func (m *mockRoute53) ListHostedZones(ctx context.Context, params *route53.ListHostedZonesInput, _ ...func(*route53.Options)) (*route53.ListHostedZonesOutput, error) {
	m.calls++
	return &route53.ListHostedZonesOutput{}, nil
}

type mockPricing struct {
	doc    string
	inputs []*pricing.GetProductsInput
}

func (m *mockPricing) GetProducts(ctx context.Context, params *pricing.GetProductsInput, _ ...func(*pricing.Options)) (*pricing.GetProductsOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.doc == "" {
		return &pricing.GetProductsOutput{}, nil
	}
	return &pricing.GetProductsOutput{PriceList: []string{m.doc}}, nil
}

type mockCostExplorer struct {
	pages  []*costexplorer.GetCostAndUsageOutput
	inputs []*costexplorer.GetCostAndUsageInput
}

func (m *mockCostExplorer) GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, _ ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error) {
	copied := *params
	m.inputs = append(m.inputs, &copied)
	page := m.pages[0]
	if len(m.pages) > 1 {
		m.pages = m.pages[1:]
	}
	return page, nil
}

type mockCloudWatch struct {
	inputs []*cloudwatch.GetMetricStatisticsInput
	out    func(in *cloudwatch.GetMetricStatisticsInput) *cloudwatch.GetMetricStatisticsOutput
}

func (m *mockCloudWatch) GetMetricStatistics(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error) {
	m.inputs = append(m.inputs, params)
	return m.out(params), nil
}

type mockSTS struct {
	account string
	err     error
}

func (m *mockSTS) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	arn := "arn:aws:iam::" + m.account + ":user/scanner"
	return &sts.GetCallerIdentityOutput{Account: &m.account, Arn: &arn}, nil
}
