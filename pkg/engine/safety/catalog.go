// Package safety enforces the read-only contract for every provider call and
// keeps the append-only audit trail of what was called.
package safety

import (
	"fmt"
	"sort"
	"strings"
)

// Permission pairs an API call with the provider-side permission it needs.
// Action is empty when the API requires no grant beyond authentication.
type Permission struct {
	Call   string // service:Operation
	Action string
}

// Catalog defines, per provider, every call the scanner may issue.
var Catalog = map[string][]Permission{
	"aws": {
		{"sts:GetCallerIdentity", "sts:GetCallerIdentity"},
		{"ec2:DescribeInstances", "ec2:DescribeInstances"},
		{"ec2:DescribeVolumes", "ec2:DescribeVolumes"},
		{"ec2:DescribeAddresses", "ec2:DescribeAddresses"},
		{"ec2:DescribeNatGateways", "ec2:DescribeNatGateways"},
		{"ec2:DescribeSnapshots", "ec2:DescribeSnapshots"},
		{"ec2:DescribeRegions", "ec2:DescribeRegions"},
		{"ec2:DescribeReservedInstances", "ec2:DescribeReservedInstances"},
		{"rds:DescribeDBInstances", "rds:DescribeDBInstances"},
		{"elasticloadbalancing:DescribeLoadBalancers", "elasticloadbalancing:DescribeLoadBalancers"},
		{"s3:ListBuckets", "s3:ListAllMyBuckets"},
		{"s3:GetBucketLocation", "s3:GetBucketLocation"},
		{"s3:GetBucketTagging", "s3:GetBucketTagging"},
		{"lambda:ListFunctions", "lambda:ListFunctions"},
		{"dynamodb:ListTables", "dynamodb:ListTables"},
		{"dynamodb:DescribeTable", "dynamodb:DescribeTable"},
		{"elasticache:DescribeCacheClusters", "elasticache:DescribeCacheClusters"},
		{"eks:ListClusters", "eks:ListClusters"},
		{"eks:DescribeCluster", "eks:DescribeCluster"},
		{"ecs:ListClusters", "ecs:ListClusters"},
		{"ecs:DescribeClusters", "ecs:DescribeClusters"},
		{"ecr:DescribeRepositories", "ecr:DescribeRepositories"},
		{"redshift:DescribeClusters", "redshift:DescribeClusters"},
		{"logs:DescribeLogGroups", "logs:DescribeLogGroups"},
		{"route53:ListHostedZones", "route53:ListHostedZones"},
		{"cloudwatch:GetMetricStatistics", "cloudwatch:GetMetricStatistics"},
		{"pricing:GetProducts", "pricing:GetProducts"},
		{"ce:GetCostAndUsage", "ce:GetCostAndUsage"},
	},
	"azure": {
		{"subscriptions:GetSubscription", "Microsoft.Resources/subscriptions/read"},
		{"compute:ListVirtualMachines", "Microsoft.Compute/virtualMachines/read"},
		{"compute:GetInstanceView", "Microsoft.Compute/virtualMachines/instanceView/read"},
		{"compute:ListDisks", "Microsoft.Compute/disks/read"},
		{"network:ListPublicIPAddresses", "Microsoft.Network/publicIPAddresses/read"},
		{"reservations:ListReservationOrders", "Microsoft.Capacity/reservationorders/read"},
		{"costmanagement:GetUsage", "Microsoft.CostManagement/query/read"},
		{"monitor:ListMetrics", "Microsoft.Insights/metrics/read"},
		{"retailprices:GetPrices", ""},
	},
	"gcp": {
		{"compute:GetProject", "compute.projects.get"},
		{"compute:ListZones", "compute.zones.list"},
		{"compute:ListInstances", "compute.instances.list"},
		{"compute:ListDisks", "compute.disks.list"},
		{"compute:ListAddresses", "compute.addresses.list"},
		{"cloudbilling:ListSkus", ""},
		{"bigquery:GetBillingExport", "bigquery.jobs.create"},
		{"bigquery:GetBillingExportData", "bigquery.tables.getData"},
		{"monitoring:ListTimeSeries", "monitoring.timeSeries.list"},
	},
	"kubernetes": {
		{"core:GetServerVersion", ""},
		{"core:ListNodes", "/nodes:list,watch"},
		{"core:ListPersistentVolumes", "/persistentvolumes:list,watch"},
		{"core:ListPods", "/pods:list,watch"},
		{"core:ListServices", "/services:list,watch"},
		{"metrics:ListNodeMetrics", "metrics.k8s.io/nodes:list"},
		{"prometheus:GetQueryRange", ""},
	},
	"mock": {
		{"mock:GetAccount", ""},
		{"mock:ListResources", ""},
		{"mock:GetPrice", ""},
		{"mock:GetBillingExport", ""},
		{"mock:GetMetric", ""},
	},
}

// ReadVerbs are the only operation prefixes a scanner call may start with.
var ReadVerbs = []string{"List", "Describe", "Get"}

// allowList is frozen at init from Catalog.
var allowList map[string]struct{}

func init() {
	allowList = make(map[string]struct{})
	for provider, perms := range Catalog {
		for _, p := range perms {
			op := operationOf(p.Call)
			if !hasReadVerb(op) {
				panic(fmt.Sprintf("safety: catalog entry %s:%s is not a read call", provider, p.Call))
			}
			allowList[provider+":"+p.Call] = struct{}{}
		}
	}
}

func operationOf(call string) string {
	if i := strings.LastIndex(call, ":"); i >= 0 {
		return call[i+1:]
	}
	return call
}

func hasReadVerb(op string) bool {
	for _, v := range ReadVerbs {
		if strings.HasPrefix(op, v) {
			return true
		}
	}
	return false
}

// Allowed lists the frozen allow-list entries for provider, sorted.
func Allowed(provider string) []string {
	var out []string
	prefix := provider + ":"
	for k := range allowList {
		if strings.HasPrefix(k, prefix) {
			out = append(out, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(out)
	return out
}
