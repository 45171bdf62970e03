// Package history keeps the recommendation feedback ledger that feeds the
// acceptance-rate scorer.
package history

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Feedback is one accept/reject decision on an emitted recommendation.
type Feedback struct {
	Timestamp        int64    `json:"timestamp"`
	ScanID           string   `json:"scan_id"`
	RecommendationID string   `json:"recommendation_id"`
	ResourceID       string   `json:"resource_id"`
	Category         string   `json:"category"`
	Rules            []string `json:"rules"`
	Accepted         bool     `json:"accepted"`
}

// Backend stores the ledger.
type Backend interface {
	Append(ctx context.Context, f Feedback) error
	Load(ctx context.Context) ([]Feedback, error)
}

// Client manages the feedback ledger.
type Client struct {
	backend Backend
	now     func() time.Time
}

// NewClient initializes a history client. A nil backend keeps feedback in memory.
func NewClient(backend Backend) *Client {
	if backend == nil {
		backend = &MemoryBackend{}
	}
	return &Client{backend: backend, now: time.Now}
}

// Open picks a backend from a path: s3://bucket/key, a file path, or "" for memory.
func Open(ctx context.Context, path string) (*Client, error) {
	switch {
	case path == "":
		return NewClient(nil), nil
	case strings.HasPrefix(path, "s3://"):
		b, err := NewS3Backend(ctx, path)
		if err != nil {
			return nil, err
		}
		return NewClient(b), nil
	default:
		return NewClient(NewLocalBackend(path)), nil
	}
}

// Record appends a decision, stamping it with the current time if unset.
func (c *Client) Record(ctx context.Context, f Feedback) error {
	if f.Timestamp == 0 {
		f.Timestamp = c.now().Unix()
	}
	if err := c.backend.Append(ctx, f); err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}
	return nil
}

// Load returns the full ledger.
func (c *Client) Load(ctx context.Context) ([]Feedback, error) {
	return c.backend.Load(ctx)
}

// NewLocalBackend creates a file-based backend at the specified path.
func NewLocalBackend(path string) *FileBackend {
	return &FileBackend{Path: path}
}

// FileBackend implements local JSONL storage.
type FileBackend struct {
	Path string
	mu   sync.Mutex
}

func (b *FileBackend) Append(_ context.Context, f Feedback) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(b.Path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(b.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = file.Write(append(data, '\n'))
	return err
}

func (b *FileBackend) Load(_ context.Context) ([]Feedback, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	file, err := os.Open(b.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return decode(file)
}

// decode reads JSONL, skipping lines that do not parse.
func decode(r io.Reader) ([]Feedback, error) {
	var out []Feedback
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var f Feedback
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			continue
		}
		out = append(out, f)
	}
	return out, scanner.Err()
}

// MemoryBackend is used when no ledger path is configured.
type MemoryBackend struct {
	mu      sync.Mutex
	entries []Feedback
}

func (b *MemoryBackend) Append(_ context.Context, f Feedback) error {
	b.mu.Lock()
	b.entries = append(b.entries, f)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Load(_ context.Context) ([]Feedback, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Feedback(nil), b.entries...), nil
}
