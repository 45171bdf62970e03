package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

type auditKey struct {
	scanID string
	seq    int64
}

// MemoryStore keeps everything in process. Values are copied in and out.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]model.ScanJob
	results map[string]model.ScanResult
	recs    map[string]model.OptimizationRecommendation
	audit   map[string][]model.AuditEntry
	seen    map[auditKey]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    map[string]model.ScanJob{},
		results: map[string]model.ScanResult{},
		recs:    map[string]model.OptimizationRecommendation{},
		audit:   map[string][]model.AuditEntry{},
		seen:    map[auditKey]bool{},
	}
}

func (m *MemoryStore) SaveJob(_ context.Context, job model.ScanJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, scanID string) (model.ScanJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[scanID]
	if !ok {
		return model.ScanJob{}, fmt.Errorf("job %s: %w", scanID, model.ErrNotFound)
	}
	return job, nil
}

func (m *MemoryStore) ListJobs(_ context.Context) ([]model.ScanJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.ScanJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sortJobs(out)
	return out, nil
}

func (m *MemoryStore) InsertResult(_ context.Context, result model.ScanResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[result.ScanID]; ok {
		return fmt.Errorf("result %s: %w", result.ScanID, model.ErrAlreadyExists)
	}
	m.results[result.ScanID] = result
	for _, r := range result.Recommendations {
		m.recs[r.ID] = r
	}
	return nil
}

func (m *MemoryStore) GetResult(_ context.Context, scanID string) (model.ScanResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[scanID]
	if !ok {
		return model.ScanResult{}, fmt.Errorf("result %s: %w", scanID, model.ErrNotFound)
	}
	return r, nil
}

func (m *MemoryStore) GetRecommendation(_ context.Context, id string) (model.OptimizationRecommendation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recs[id]
	if !ok {
		return model.OptimizationRecommendation{}, fmt.Errorf("recommendation %s: %w", id, model.ErrNotFound)
	}
	return r, nil
}

func (m *MemoryStore) AppendAudit(_ context.Context, e model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := auditKey{e.ScanID, e.Seq}
	if m.seen[k] {
		return fmt.Errorf("audit %s/%d: %w", e.ScanID, e.Seq, model.ErrAlreadyExists)
	}
	m.seen[k] = true
	m.audit[e.ScanID] = append(m.audit[e.ScanID], e)
	return nil
}

func (m *MemoryStore) ListAudit(_ context.Context, scanID string) ([]model.AuditEntry, error) {
	m.mu.RLock()
	out := append([]model.AuditEntry(nil), m.audit[scanID]...)
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

// sortJobs orders newest first, then by id.
func sortJobs(jobs []model.ScanJob) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].StartedAt.Equal(jobs[j].StartedAt) {
			return jobs[i].StartedAt.After(jobs[j].StartedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}
