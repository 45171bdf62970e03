package aws

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

func (d *discovery) loadBalancers(ctx context.Context) ([]model.Resource, error) {
	var out []model.Resource
	paginator := elbv2.NewDescribeLoadBalancersPaginator(d.c.ELB, &elbv2.DescribeLoadBalancersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe load balancers: %w", err)
		}
		for _, lb := range page.LoadBalancers {
			if lb.LoadBalancerArn == nil {
				continue
			}
			r := d.resource(model.TypeNetwork, "elbv2:loadbalancer", *lb.LoadBalancerArn, aws.ToString(lb.LoadBalancerName))
			r.SKU = string(lb.Type)
			r.State = model.StateRunning
			if lb.State != nil && lb.State.Code == elbtypes.LoadBalancerStateEnumFailed {
				r.State = model.StateUnknown
			}
			if lb.CreatedTime != nil {
				r.CreatedAt = *lb.CreatedTime
			}
			r.Attributes["kind"] = "lb"
			// CloudWatch keys load balancers by the ARN suffix after "loadbalancer/"
			if _, suffix, ok := strings.Cut(*lb.LoadBalancerArn, ":loadbalancer/"); ok {
				r.Attributes["metric_dimension"] = suffix
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func (d *discovery) dbInstances(ctx context.Context) ([]model.Resource, error) {
	var out []model.Resource
	paginator := rds.NewDescribeDBInstancesPaginator(d.c.RDS, &rds.DescribeDBInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe db instances: %w", err)
		}
		for _, db := range page.DBInstances {
			if db.DBInstanceIdentifier == nil {
				continue
			}
			tags := map[string]string{}
			for _, t := range db.TagList {
				if t.Key != nil && t.Value != nil {
					tags[*t.Key] = *t.Value
				}
			}
			r := d.resource(model.TypeDatabase, "rds:db", *db.DBInstanceIdentifier, *db.DBInstanceIdentifier)
			r.SKU = aws.ToString(db.DBInstanceClass)
			r.SizeGB = float64(aws.ToInt32(db.AllocatedStorage))
			r.Tags = model.NewTags(tags)
			switch aws.ToString(db.DBInstanceStatus) {
			case "available", "backing-up", "modifying", "starting":
				r.State = model.StateRunning
			case "stopped", "stopping":
				r.State = model.StateStopped
			}
			if db.InstanceCreateTime != nil {
				r.CreatedAt = *db.InstanceCreateTime
			}
			r.Attributes["engine"] = aws.ToString(db.Engine)
			r.Attributes["multi_az"] = strconv.FormatBool(aws.ToBool(db.MultiAZ))
			r.Attributes["pricing_model"] = model.PricingOnDemand
			out = append(out, r)
		}
	}
	return out, nil
}

func (d *discovery) tables(ctx context.Context) ([]model.Resource, error) {
	var names []string
	paginator := dynamodb.NewListTablesPaginator(d.c.DynamoDB, &dynamodb.ListTablesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list tables: %w", err)
		}
		names = append(names, page.TableNames...)
	}

	out := make([]model.Resource, 0, len(names))
	for _, name := range names {
		desc, err := d.c.DynamoDB.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
		if err != nil {
			return nil, fmt.Errorf("failed to describe table %s: %w", name, err)
		}
		t := desc.Table
		if t == nil {
			continue
		}
		r := d.resource(model.TypeDatabase, "dynamodb:table", name, name)
		r.SizeGB = float64(aws.ToInt64(t.TableSizeBytes)) / (1 << 30)
		r.State = model.StateRunning
		if t.CreationDateTime != nil {
			r.CreatedAt = *t.CreationDateTime
		}
		mode := ddbtypes.BillingModeProvisioned
		if t.BillingModeSummary != nil && t.BillingModeSummary.BillingMode != "" {
			mode = t.BillingModeSummary.BillingMode
		}
		r.Attributes["billing_mode"] = string(mode)
		r.SKU = "dynamodb-ondemand"
		if mode == ddbtypes.BillingModeProvisioned && t.ProvisionedThroughput != nil {
			rcu := aws.ToInt64(t.ProvisionedThroughput.ReadCapacityUnits)
			wcu := aws.ToInt64(t.ProvisionedThroughput.WriteCapacityUnits)
			r.SKU = "dynamodb-provisioned"
			r.Attributes["read_capacity"] = strconv.FormatInt(rcu, 10)
			r.Attributes["write_capacity"] = strconv.FormatInt(wcu, 10)
			// priced per write unit; a read unit costs a fifth of one
			r.Attributes["units"] = strconv.FormatFloat(float64(wcu)+float64(rcu)/5, 'f', -1, 64)
		}
		out = append(out, r)
	}
	return out, nil
}

func (d *discovery) warehouses(ctx context.Context) ([]model.Resource, error) {
	var out []model.Resource
	paginator := redshift.NewDescribeClustersPaginator(d.c.Redshift, &redshift.DescribeClustersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe redshift clusters: %w", err)
		}
		for _, c := range page.Clusters {
			if c.ClusterIdentifier == nil {
				continue
			}
			tags := map[string]string{}
			for _, t := range c.Tags {
				if t.Key != nil && t.Value != nil {
					tags[*t.Key] = *t.Value
				}
			}
			r := d.resource(model.TypeDatabase, "redshift:cluster", *c.ClusterIdentifier, *c.ClusterIdentifier)
			r.SKU = aws.ToString(c.NodeType)
			r.Tags = model.NewTags(tags)
			switch aws.ToString(c.ClusterStatus) {
			case "available", "modifying", "resizing":
				r.State = model.StateRunning
			case "paused":
				r.State = model.StateStopped
			}
			if c.ClusterCreateTime != nil {
				r.CreatedAt = *c.ClusterCreateTime
			}
			r.Attributes["units"] = strconv.Itoa(int(aws.ToInt32(c.NumberOfNodes)))
			r.Attributes["pricing_model"] = model.PricingOnDemand
			out = append(out, r)
		}
	}
	return out, nil
}

func (d *discovery) cacheClusters(ctx context.Context) ([]model.Resource, error) {
	var out []model.Resource
	paginator := elasticache.NewDescribeCacheClustersPaginator(d.c.ElastiCache, &elasticache.DescribeCacheClustersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe cache clusters: %w", err)
		}
		for _, c := range page.CacheClusters {
			if c.CacheClusterId == nil {
				continue
			}
			r := d.resource(model.TypeCache, "elasticache:cluster", *c.CacheClusterId, *c.CacheClusterId)
			r.SKU = aws.ToString(c.CacheNodeType)
			if aws.ToString(c.CacheClusterStatus) == "available" {
				r.State = model.StateRunning
			}
			if c.CacheClusterCreateTime != nil {
				r.CreatedAt = *c.CacheClusterCreateTime
			}
			r.Attributes["engine"] = aws.ToString(c.Engine)
			r.Attributes["units"] = strconv.Itoa(int(aws.ToInt32(c.NumCacheNodes)))
			out = append(out, r)
		}
	}
	return out, nil
}

func (d *discovery) functions(ctx context.Context) ([]model.Resource, error) {
	var out []model.Resource
	paginator := lambda.NewListFunctionsPaginator(d.c.Lambda, &lambda.ListFunctionsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list functions: %w", err)
		}
		for _, fn := range page.Functions {
			if fn.FunctionName == nil {
				continue
			}
			r := d.resource(model.TypeServerless, "lambda:function", *fn.FunctionName, *fn.FunctionName)
			r.SKU = "lambda"
			r.State = model.StateAvailable
			// Lambda reports only the last modification; it stands in for creation.
			if t, err := time.Parse("2006-01-02T15:04:05.000-0700", aws.ToString(fn.LastModified)); err == nil {
				r.CreatedAt = t
			}
			r.Attributes["runtime"] = string(fn.Runtime)
			r.Attributes["memory_mb"] = strconv.Itoa(int(aws.ToInt32(fn.MemorySize)))
			out = append(out, r)
		}
	}
	return out, nil
}

func (d *discovery) eksClusters(ctx context.Context) ([]model.Resource, error) {
	var names []string
	paginator := eks.NewListClustersPaginator(d.c.EKS, &eks.ListClustersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list eks clusters: %w", err)
		}
		names = append(names, page.Clusters...)
	}

	out := make([]model.Resource, 0, len(names))
	for _, name := range names {
		desc, err := d.c.EKS.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(name)})
		if err != nil {
			return nil, fmt.Errorf("failed to describe eks cluster %s: %w", name, err)
		}
		c := desc.Cluster
		if c == nil {
			continue
		}
		r := d.resource(model.TypeContainer, "eks:cluster", name, name)
		r.SKU = "eks-control-plane"
		r.Tags = model.NewTags(c.Tags)
		r.State = model.StateRunning
		if c.CreatedAt != nil {
			r.CreatedAt = *c.CreatedAt
		}
		r.Attributes["version"] = aws.ToString(c.Version)
		out = append(out, r)
	}
	return out, nil
}

func (d *discovery) ecsClusters(ctx context.Context) ([]model.Resource, error) {
	var arns []string
	paginator := ecs.NewListClustersPaginator(d.c.ECS, &ecs.ListClustersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list ecs clusters: %w", err)
		}
		arns = append(arns, page.ClusterArns...)
	}

	var out []model.Resource
	// DescribeClusters accepts at most 100 clusters per call
	for start := 0; start < len(arns); start += 100 {
		end := min(start+100, len(arns))
		desc, err := d.c.ECS.DescribeClusters(ctx, &ecs.DescribeClustersInput{Clusters: arns[start:end]})
		if err != nil {
			return nil, fmt.Errorf("failed to describe ecs clusters: %w", err)
		}
		for _, c := range desc.Clusters {
			if c.ClusterArn == nil {
				continue
			}
			r := d.resource(model.TypeContainer, "ecs:cluster", *c.ClusterArn, aws.ToString(c.ClusterName))
			r.SKU = "ecs"
			if aws.ToString(c.Status) == "ACTIVE" {
				r.State = model.StateRunning
			}
			r.Attributes["running_tasks"] = strconv.Itoa(int(c.RunningTasksCount))
			r.Attributes["services"] = strconv.Itoa(int(c.ActiveServicesCount))
			out = append(out, r)
		}
	}
	return out, nil
}

func (d *discovery) repositories(ctx context.Context) ([]model.Resource, error) {
	var out []model.Resource
	paginator := ecr.NewDescribeRepositoriesPaginator(d.c.ECR, &ecr.DescribeRepositoriesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe repositories: %w", err)
		}
		for _, repo := range page.Repositories {
			if repo.RepositoryName == nil {
				continue
			}
			r := d.resource(model.TypeStorage, "ecr:repository", *repo.RepositoryName, *repo.RepositoryName)
			r.SKU = "ecr"
			r.State = model.StateAvailable
			if repo.CreatedAt != nil {
				r.CreatedAt = *repo.CreatedAt
			}
			r.Attributes["kind"] = "registry"
			out = append(out, r)
		}
	}
	return out, nil
}

func (d *discovery) logGroups(ctx context.Context) ([]model.Resource, error) {
	var out []model.Resource
	paginator := cloudwatchlogs.NewDescribeLogGroupsPaginator(d.c.Logs, &cloudwatchlogs.DescribeLogGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe log groups: %w", err)
		}
		for _, lg := range page.LogGroups {
			if lg.LogGroupName == nil {
				continue
			}
			r := d.resource(model.TypeStorage, "logs:group", *lg.LogGroupName, *lg.LogGroupName)
			r.SKU = "log-storage"
			r.SizeGB = float64(aws.ToInt64(lg.StoredBytes)) / (1 << 30)
			r.State = model.StateAvailable
			if lg.CreationTime != nil {
				r.CreatedAt = time.UnixMilli(*lg.CreationTime).UTC()
			}
			r.Attributes["kind"] = "log"
			if lg.RetentionInDays != nil {
				r.Attributes["retention_days"] = strconv.Itoa(int(*lg.RetentionInDays))
			} else {
				r.Attributes["retention_days"] = "never_expire"
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// buckets lists the account's buckets located in this region. ListBuckets is
// global, so each regional task keeps only its own.
func (d *discovery) buckets(ctx context.Context) ([]model.Resource, error) {
	var out []model.Resource
	paginator := s3.NewListBucketsPaginator(d.c.S3, &s3.ListBucketsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list buckets: %w", err)
		}
		for _, b := range page.Buckets {
			if b.Name == nil {
				continue
			}
			region := aws.ToString(b.BucketRegion)
			if region == "" {
				loc, err := d.c.S3.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: b.Name})
				if err != nil {
					return nil, fmt.Errorf("failed to locate bucket %s: %w", *b.Name, err)
				}
				region = bucketRegion(string(loc.LocationConstraint))
			}
			if region != d.region {
				continue
			}
			r := d.resource(model.TypeStorage, "s3:bucket", *b.Name, *b.Name)
			r.SKU = "s3-standard"
			r.State = model.StateAvailable
			if b.CreationDate != nil {
				r.CreatedAt = *b.CreationDate
			}
			r.Attributes["kind"] = "bucket"
			tags, err := d.bucketTags(ctx, *b.Name)
			if err != nil {
				return nil, err
			}
			r.Tags = model.NewTags(tags)
			out = append(out, r)
		}
	}
	return out, nil
}

func (d *discovery) bucketTags(ctx context.Context, bucket string) (map[string]string, error) {
	out, err := d.c.S3.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: aws.String(bucket)})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchTagSet" {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read tags of bucket %s: %w", bucket, err)
	}
	tags := make(map[string]string, len(out.TagSet))
	for _, t := range out.TagSet {
		if t.Key != nil && t.Value != nil {
			tags[*t.Key] = *t.Value
		}
	}
	return tags, nil
}

// bucketRegion normalizes a LocationConstraint.
func bucketRegion(constraint string) string {
	switch constraint {
	case "":
		return "us-east-1"
	case "EU":
		return "eu-west-1"
	}
	return constraint
}

// hostedZones is a global listing reported once, from the home region.
func (d *discovery) hostedZones(ctx context.Context) ([]model.Resource, error) {
	if d.region != defaultRegion {
		return nil, nil
	}
	var out []model.Resource
	paginator := route53.NewListHostedZonesPaginator(d.c.Route53, &route53.ListHostedZonesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list hosted zones: %w", err)
		}
		for _, z := range page.HostedZones {
			if z.Id == nil {
				continue
			}
			id := strings.TrimPrefix(*z.Id, "/hostedzone/")
			r := d.resource(model.TypeNetwork, "route53:hostedzone", id, strings.TrimSuffix(aws.ToString(z.Name), "."))
			r.SKU = "hosted-zone"
			r.State = model.StateAvailable
			r.Attributes["kind"] = "dns"
			r.Attributes["records"] = strconv.FormatInt(aws.ToInt64(z.ResourceRecordSetCount), 10)
			if z.Config != nil {
				r.Attributes["private"] = strconv.FormatBool(z.Config.PrivateZone)
			}
			out = append(out, r)
		}
	}
	return out, nil
}
