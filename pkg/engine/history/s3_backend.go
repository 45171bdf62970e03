package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client the ledger needs.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Backend stores the ledger as a single JSONL object in the operator's bucket.
type S3Backend struct {
	Bucket string
	Key    string
	Client S3API
	mu     sync.Mutex
}

// NewS3Backend initializes an S3 backend from s3://bucket/key.
func NewS3Backend(ctx context.Context, s3URL string) (*S3Backend, error) {
	bucket, key, err := ParseS3URL(s3URL)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return &S3Backend{Bucket: bucket, Key: key, Client: s3.NewFromConfig(cfg)}, nil
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(s3URL string) (bucket, key string, err error) {
	u, err := url.Parse(s3URL)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 url: %w", err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 url %q", s3URL)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// Append does a read-modify-write; S3 objects cannot be appended to.
func (b *S3Backend) Append(ctx context.Context, f Feedback) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, err := b.readAll(ctx)
	if err != nil {
		return err
	}
	existing = append(existing, f)

	var buf bytes.Buffer
	for _, e := range existing {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	_, err = b.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.Bucket),
		Key:         aws.String(b.Key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	return err
}

func (b *S3Backend) Load(ctx context.Context) ([]Feedback, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readAll(ctx)
}

func (b *S3Backend) readAll(ctx context.Context) ([]Feedback, error) {
	resp, err := b.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.Key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger s3://%s/%s: %w", b.Bucket, b.Key, err)
	}
	defer resp.Body.Close()
	return decode(resp.Body)
}
