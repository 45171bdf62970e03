package storage

import (
	"context"
	"net/url"
	"strings"
)

// BlobStore archives exported scan results.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// OpenBlobStore picks S3 for s3://bucket/prefix targets and the local
// filesystem otherwise.
func OpenBlobStore(ctx context.Context, target, region string) (BlobStore, error) {
	if strings.HasPrefix(target, "s3://") {
		u, err := url.Parse(target)
		if err != nil {
			return nil, err
		}
		return NewS3Store(ctx, region, u.Host, strings.Trim(u.Path, "/"))
	}
	return NewLocalStore(target), nil
}

// ResultKey is where a scan's exported result lives inside a blob store.
func ResultKey(scanID, format string) string {
	return "scans/" + scanID + "/result." + format
}
