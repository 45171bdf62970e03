package safety

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// Sink persists audit entries. Implementations must be append-only.
type Sink interface {
	AppendAudit(ctx context.Context, e model.AuditEntry) error
}

// AuditLog numbers entries per scan and forwards them to a Sink.
type AuditLog struct {
	sink Sink
	now  func() time.Time

	mu   sync.Mutex
	seqs map[string]*atomic.Int64
}

// NewAuditLog creates a log writing to sink.
func NewAuditLog(sink Sink) *AuditLog {
	return &AuditLog{
		sink: sink,
		now:  time.Now,
		seqs: make(map[string]*atomic.Int64),
	}
}

func (l *AuditLog) counter(scanID string) *atomic.Int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.seqs[scanID]
	if !ok {
		c = new(atomic.Int64)
		l.seqs[scanID] = c
	}
	return c
}

// Append assigns the next sequence number for the entry's scan and writes it.
func (l *AuditLog) Append(ctx context.Context, e model.AuditEntry) (model.AuditEntry, error) {
	e.Seq = l.counter(e.ScanID).Add(1)
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	return e, l.sink.AppendAudit(ctx, e)
}

// Forget drops the in-memory counter for a finished scan. Stored entries are kept.
func (l *AuditLog) Forget(scanID string) {
	l.mu.Lock()
	delete(l.seqs, scanID)
	l.mu.Unlock()
}

// MemorySink keeps entries in process; used by tests and the CLI.
type MemorySink struct {
	mu      sync.Mutex
	entries []model.AuditEntry
	seen    map[string]map[int64]bool
}

func (m *MemorySink) AppendAudit(_ context.Context, e model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]map[int64]bool)
	}
	if m.seen[e.ScanID] == nil {
		m.seen[e.ScanID] = make(map[int64]bool)
	}
	if m.seen[e.ScanID][e.Seq] {
		return model.ErrAlreadyExists
	}
	m.seen[e.ScanID][e.Seq] = true
	m.entries = append(m.entries, e)
	return nil
}

// Entries returns the entries for scanID ordered by sequence.
func (m *MemorySink) Entries(scanID string) []model.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AuditEntry
	for _, e := range m.entries {
		if e.ScanID == scanID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
