package history

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockS3 struct {
	GetObjectFunc func(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObjectFunc func(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

func (m *mockS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return m.GetObjectFunc(ctx, in, opts...)
}

func (m *mockS3) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return m.PutObjectFunc(ctx, in, opts...)
}

func TestFileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewClient(NewLocalBackend(filepath.Join(t.TempDir(), "nested", "feedback.jsonl")))

	empty, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, c.Record(ctx, Feedback{RecommendationID: "r1", Category: "waste", Rules: []string{"waste.stopped_compute"}, Accepted: true}))
	require.NoError(t, c.Record(ctx, Feedback{RecommendationID: "r2", Category: "waste", Rules: []string{"waste.stopped_compute"}}))

	got, err := c.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Accepted)
	assert.NotZero(t, got[1].Timestamp)
}

func TestS3BackendReadModifyWrite(t *testing.T) {
	var object []byte
	m := &mockS3{
		GetObjectFunc: func(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			if object == nil {
				return nil, &types.NoSuchKey{}
			}
			return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(object))}, nil
		},
		PutObjectFunc: func(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			assert.Equal(t, "ops-bucket", *in.Bucket)
			assert.Equal(t, "cloudmind/feedback.jsonl", *in.Key)
			object, _ = io.ReadAll(in.Body)
			return &s3.PutObjectOutput{}, nil
		},
	}
	bucket, key, err := ParseS3URL("s3://ops-bucket/cloudmind/feedback.jsonl")
	require.NoError(t, err)
	b := &S3Backend{Bucket: bucket, Key: key, Client: m}

	ctx := context.Background()
	require.NoError(t, b.Append(ctx, Feedback{RecommendationID: "a", Accepted: true}))
	require.NoError(t, b.Append(ctx, Feedback{RecommendationID: "b"}))

	got, err := b.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].RecommendationID)
}

func TestParseS3URLRejectsOtherSchemes(t *testing.T) {
	_, _, err := ParseS3URL("https://example.com/x")
	assert.Error(t, err)
}

func TestRatesSmoothingAndDecay(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rule := []string{"rightsizing.downsize"}
	entries := []Feedback{
		{Timestamp: now.Unix(), Category: "rightsizing", Rules: rule, Accepted: true},
		{Timestamp: now.Unix(), Category: "rightsizing", Rules: rule, Accepted: true},
		{Timestamp: now.Unix(), Category: "rightsizing", Rules: rule, Accepted: false},
	}

	snap := Rates(entries, now, 1)
	k := FeatureKey("rightsizing.downsize", "rightsizing")
	assert.InDelta(t, 3.0/5.0, snap.AcceptanceRates[k], 1e-9)
	assert.InDelta(t, 3.0, snap.Observations[k], 1e-9)

	old := []Feedback{{Timestamp: now.Add(-100 * 24 * time.Hour).Unix(), Category: "rightsizing", Rules: rule, Accepted: true}}
	decayed := Rates(old, now, 0.99)
	assert.InDelta(t, 0.366, decayed.Observations[k], 1e-3)
	assert.Less(t, decayed.AcceptanceRates[k], Rates(old, now, 1).AcceptanceRates[k])
}
