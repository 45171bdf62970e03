// Package storage persists scan jobs, results and the audit trail, and archives
// exported results to blob storage.
package storage

import (
	"context"
	"fmt"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/config"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// Store is the result store. Results are insert-if-absent and audit entries
// are append-only; neither is ever updated or deleted.
type Store interface {
	SaveJob(ctx context.Context, job model.ScanJob) error
	GetJob(ctx context.Context, scanID string) (model.ScanJob, error)
	ListJobs(ctx context.Context) ([]model.ScanJob, error)

	InsertResult(ctx context.Context, result model.ScanResult) error
	GetResult(ctx context.Context, scanID string) (model.ScanResult, error)
	GetRecommendation(ctx context.Context, id string) (model.OptimizationRecommendation, error)

	AppendAudit(ctx context.Context, e model.AuditEntry) error
	ListAudit(ctx context.Context, scanID string) ([]model.AuditEntry, error)

	Close() error
}

// Open builds the store selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite", "postgres":
		return OpenSQL(ctx, cfg.Driver, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
