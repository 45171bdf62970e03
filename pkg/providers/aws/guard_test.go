package aws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/telemetry"
)

const describeInstancesXML = `<?xml version="1.0" encoding="UTF-8"?>
<DescribeInstancesResponse xmlns="http://ec2.amazonaws.com/doc/2016-11-15/">
  <requestId>req-1</requestId>
  <reservationSet/>
</DescribeInstancesResponse>`

const throttledXML = `<?xml version="1.0" encoding="UTF-8"?>
<Response><Errors><Error><Code>RequestLimitExceeded</Code><Message>Request limit exceeded.</Message></Error></Errors><RequestID>req-2</RequestID></Response>`

// fakeEC2 serves the EC2 query protocol and counts requests per action.
type fakeEC2 struct {
	hits      atomic.Int32
	throttle  bool
	userAgent atomic.Value
}

func (f *fakeEC2) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	f.userAgent.Store(r.Header.Get("User-Agent"))
	w.Header().Set("Content-Type", "text/xml")
	if f.throttle {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(throttledXML))
		return
	}
	_, _ = w.Write([]byte(describeInstancesXML))
}

func guardedEC2(t *testing.T, f *fakeEC2) (*ec2.Client, *safety.MemorySink, context.Context) {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	sink := &safety.MemorySink{}
	g := safety.NewGuard(safety.NewAuditLog(sink), safety.WithLogger(telemetry.Discard()))
	cfg := aws.Config{
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
		HTTPClient:   srv.Client(),
		Retryer:      func() aws.Retryer { return aws.NopRetryer{} },
		BaseEndpoint: aws.String(srv.URL),
	}
	Instrument(&cfg, g)

	ctx := safety.WithScope(context.Background(), safety.Scope{ScanID: "scan-1", AccountID: account, Provider: "aws", Region: "us-east-1"})
	return ec2.NewFromConfig(cfg), sink, ctx
}

func TestGuardMiddlewareAuditsAllowedCalls(t *testing.T) {
	f := &fakeEC2{}
	client, sink, ctx := guardedEC2(t, f)

	_, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.hits.Load())
	assert.True(t, strings.Contains(f.userAgent.Load().(string), "cloudmind/"))

	entries := sink.Entries("scan-1")
	require.Len(t, entries, 2)
	assert.Equal(t, model.PhaseAttempt, entries[0].Phase)
	assert.Equal(t, "ec2:DescribeInstances", entries[0].Call)
	assert.Equal(t, model.OutcomeSuccess, entries[1].Outcome)
	assert.Equal(t, account, entries[1].AccountID)
}

func TestGuardMiddlewareRefusesMutations(t *testing.T) {
	f := &fakeEC2{}
	client, sink, ctx := guardedEC2(t, f)

	_, err := client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{"i-1"}})
	require.Error(t, err)
	assert.True(t, model.IsSafetyViolation(err))
	assert.Equal(t, int32(0), f.hits.Load(), "refused call must not reach the network")

	entries := sink.Entries("scan-1")
	require.Len(t, entries, 1)
	assert.Equal(t, model.OutcomeDenied, entries[0].Outcome)
	assert.Equal(t, "ec2:TerminateInstances", entries[0].Call)
}

func TestGuardMiddlewareClassifiesThrottling(t *testing.T) {
	f := &fakeEC2{throttle: true}
	client, sink, ctx := guardedEC2(t, f)

	_, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{})
	var rl *model.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "ec2:DescribeInstances", rl.Call)
	assert.Equal(t, "us-east-1", rl.Region)
	assert.Equal(t, int32(1), f.hits.Load(), "retries belong to the engine")

	entries := sink.Entries("scan-1")
	require.Len(t, entries, 2)
	assert.Equal(t, model.OutcomeError, entries[1].Outcome)
	assert.Contains(t, entries[1].Detail, "RequestLimitExceeded")
}

func TestServiceName(t *testing.T) {
	assert.Equal(t, "elasticloadbalancing", serviceName("Elastic Load Balancing v2"))
	assert.Equal(t, "ce", serviceName("Cost Explorer"))
	assert.Equal(t, "secretsmanager", serviceName("Secrets Manager"))
}
