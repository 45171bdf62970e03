package aws

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/version"
)

// defaultRegion hosts the global endpoints (pricing, cost explorer, route53).
const defaultRegion = "us-east-1"

// LoadConfig builds an SDK config for profile whose every operation passes
// through the guard. Retries are left to the scan engine.
func LoadConfig(ctx context.Context, g *safety.Guard, profile string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(defaultRegion),
		config.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	// Local endpoint override (localstack, tests).
	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load SDK config: %w", err)
	}
	Instrument(&cfg, g)
	return cfg, nil
}

// Instrument installs the guard and user-agent middlewares on cfg.
func Instrument(cfg *aws.Config, g *safety.Guard) {
	cfg.APIOptions = append(cfg.APIOptions, userAgent, guardMiddleware(g))
}

func userAgent(stack *middleware.Stack) error {
	return stack.Build.Add(middleware.BuildMiddlewareFunc("CloudMindUserAgent", func(ctx context.Context, input middleware.BuildInput, next middleware.BuildHandler) (
		middleware.BuildOutput, middleware.Metadata, error,
	) {
		if req, ok := input.Request.(*smithyhttp.Request); ok {
			ua := req.Header.Get("User-Agent")
			req.Header.Set("User-Agent", strings.TrimSpace(ua+" cloudmind/"+version.Current))
		}
		return next.HandleBuild(ctx, input)
	}), middleware.After)
}

// guardMiddleware runs in the initialize step, after service metadata is
// registered, so a refused call never reaches serialization or the network.
func guardMiddleware(g *safety.Guard) func(*middleware.Stack) error {
	return func(stack *middleware.Stack) error {
		return stack.Initialize.Add(middleware.InitializeMiddlewareFunc("CloudMindGuard", func(ctx context.Context, input middleware.InitializeInput, next middleware.InitializeHandler) (
			middleware.InitializeOutput, middleware.Metadata, error,
		) {
			call := safety.Call("aws", serviceName(awsmiddleware.GetServiceID(ctx)), middleware.GetOperationName(ctx)).
				With("region", awsmiddleware.GetRegion(ctx))
			finish, err := g.Begin(ctx, call)
			if err != nil {
				return middleware.InitializeOutput{}, middleware.Metadata{}, err
			}
			out, md, err := next.HandleInitialize(ctx, input)
			err = classify(ctx, call.Name(), err)
			finish(err)
			return out, md, err
		}), middleware.After)
	}
}

// serviceIDs maps SDK service ids onto IAM service prefixes.
var serviceIDs = map[string]string{
	"EC2":                       "ec2",
	"RDS":                       "rds",
	"Elastic Load Balancing v2": "elasticloadbalancing",
	"S3":                        "s3",
	"Lambda":                    "lambda",
	"DynamoDB":                  "dynamodb",
	"ElastiCache":               "elasticache",
	"EKS":                       "eks",
	"ECS":                       "ecs",
	"ECR":                       "ecr",
	"Redshift":                  "redshift",
	"CloudWatch Logs":           "logs",
	"Route 53":                  "route53",
	"CloudWatch":                "cloudwatch",
	"Pricing":                   "pricing",
	"Cost Explorer":             "ce",
	"STS":                       "sts",
}

func serviceName(id string) string {
	if s, ok := serviceIDs[id]; ok {
		return s
	}
	return strings.ToLower(strings.ReplaceAll(id, " ", ""))
}

// profileOf extracts the shared-config profile from a credential handle.
// "profile:<name>" selects a profile; anything else uses the default chain.
func profileOf(ref string) string {
	if name, ok := strings.CutPrefix(ref, "profile:"); ok {
		return name
	}
	return ""
}
