//go:build integration

package aws

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/localstack"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/telemetry"
)

// TestDiscoverAgainstLocalStack seeds waste into LocalStack and discovers it
// through the guarded adapter. Requires Docker.
func TestDiscoverAgainstLocalStack(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := localstack.Run(ctx, "localstack/localstack:3.0")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	})
	endpoint, err := container.PortEndpoint(ctx, "4566/tcp", "http")
	require.NoError(t, err)

	base := aws.Config{
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider("test", "test", "test"),
		BaseEndpoint: aws.String(endpoint),
	}

	// seed with an unguarded client
	seed := ec2.NewFromConfig(base)
	vol, err := seed.CreateVolume(ctx, &ec2.CreateVolumeInput{
		AvailabilityZone: aws.String("us-east-1a"),
		Size:             aws.Int32(20),
		VolumeType:       types.VolumeTypeGp3,
	})
	require.NoError(t, err)

	sink := &safety.MemorySink{}
	g := safety.NewGuard(safety.NewAuditLog(sink), safety.WithLogger(telemetry.Discard()))
	a := New(g, WithLogger(telemetry.Discard()), WithClientFactory(func(_ context.Context, _, region string) (*Clients, error) {
		cfg := base.Copy()
		Instrument(&cfg, g)
		return NewClients(cfg, region), nil
	}))

	scanCtx := safety.WithScope(ctx, safety.Scope{ScanID: "it", AccountID: "000000000000", Provider: "aws", Region: "us-east-1"})
	res, _, err := a.Discover(scanCtx, providers.DiscoveryRequest{
		Account:      model.CloudAccount{ID: "000000000000", Provider: "aws", Regions: []string{"us-east-1"}},
		Region:       "us-east-1",
		ResourceType: model.TypeStorage,
	})
	require.NoError(t, err)

	got := byNativeID(res)
	require.Contains(t, got, aws.ToString(vol.VolumeId))
	assert.Equal(t, "false", got[aws.ToString(vol.VolumeId)].Attr("attached"))

	for _, e := range sink.Entries("it") {
		assert.NotEqual(t, model.OutcomeDenied, e.Outcome, e.Call)
	}
}
