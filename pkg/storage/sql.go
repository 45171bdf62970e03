package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLStore keeps jobs and results as JSON documents next to a few indexed
// columns. It runs on SQLite (driver "sqlite") and PostgreSQL ("postgres").
type SQLStore struct {
	db *sqlx.DB
}

type auditRow struct {
	ScanID       string `db:"scan_id"`
	Seq          int64  `db:"seq"`
	TS           int64  `db:"ts"`
	AccountID    string `db:"account_id"`
	Provider     string `db:"provider"`
	Region       string `db:"region"`
	Call         string `db:"call_name"`
	ParamsDigest string `db:"params_digest"`
	Phase        string `db:"phase"`
	Outcome      string `db:"outcome"`
	Detail       string `db:"detail"`
}

// OpenSQL connects and applies the embedded migrations.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver == "sqlite" && dsn == "" {
		dsn = ":memory:"
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// SQLite allows one writer, and each :memory: connection is its own database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	s := &SQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		for _, stmt := range strings.Split(string(data), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %s: %w", name, err)
			}
		}
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) SaveJob(ctx context.Context, job model.ScanJob) error {
	doc, err := json.Marshal(job)
	if err != nil {
		return err
	}
	q := s.db.Rebind(`
		INSERT INTO scan_jobs (id, status, started_at, updated_at, document)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at,
			document = excluded.document`)
	_, err = s.db.ExecContext(ctx, q, job.ID, string(job.Status), job.StartedAt.UnixNano(), time.Now().UnixNano(), string(doc))
	return err
}

func (s *SQLStore) GetJob(ctx context.Context, scanID string) (model.ScanJob, error) {
	var doc string
	err := s.db.GetContext(ctx, &doc, s.db.Rebind(`SELECT document FROM scan_jobs WHERE id = ?`), scanID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScanJob{}, fmt.Errorf("job %s: %w", scanID, model.ErrNotFound)
	}
	if err != nil {
		return model.ScanJob{}, err
	}
	var job model.ScanJob
	if err := json.Unmarshal([]byte(doc), &job); err != nil {
		return model.ScanJob{}, fmt.Errorf("decode job %s: %w", scanID, err)
	}
	return job, nil
}

func (s *SQLStore) ListJobs(ctx context.Context) ([]model.ScanJob, error) {
	var docs []string
	if err := s.db.SelectContext(ctx, &docs, `SELECT document FROM scan_jobs`); err != nil {
		return nil, err
	}
	out := make([]model.ScanJob, 0, len(docs))
	for _, d := range docs {
		var job model.ScanJob
		if err := json.Unmarshal([]byte(d), &job); err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	sortJobs(out)
	return out, nil
}

// InsertResult writes the result and its recommendations in one transaction.
// A second insert for the same scan id fails with model.ErrAlreadyExists.
func (s *SQLStore) InsertResult(ctx context.Context, result model.ScanResult) error {
	doc, err := json.Marshal(result)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO scan_results (scan_id, generated_at, partial, document)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (scan_id) DO NOTHING`),
		result.ScanID, result.GeneratedAt.UnixNano(), result.Partial, string(doc))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("result %s: %w", result.ScanID, model.ErrAlreadyExists)
	}

	recQ := tx.Rebind(`
		INSERT INTO recommendations (id, scan_id, resource_id, category, savings, confidence, document)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	for _, r := range result.Recommendations {
		rd, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, recQ, r.ID, r.ScanID, r.PrimaryResource(), r.Category,
			r.EstimatedMonthlySavings, r.Confidence, string(rd)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) GetResult(ctx context.Context, scanID string) (model.ScanResult, error) {
	var doc string
	err := s.db.GetContext(ctx, &doc, s.db.Rebind(`SELECT document FROM scan_results WHERE scan_id = ?`), scanID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScanResult{}, fmt.Errorf("result %s: %w", scanID, model.ErrNotFound)
	}
	if err != nil {
		return model.ScanResult{}, err
	}
	var r model.ScanResult
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return model.ScanResult{}, fmt.Errorf("decode result %s: %w", scanID, err)
	}
	return r, nil
}

func (s *SQLStore) GetRecommendation(ctx context.Context, id string) (model.OptimizationRecommendation, error) {
	var doc string
	err := s.db.GetContext(ctx, &doc, s.db.Rebind(`SELECT document FROM recommendations WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.OptimizationRecommendation{}, fmt.Errorf("recommendation %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.OptimizationRecommendation{}, err
	}
	var r model.OptimizationRecommendation
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return model.OptimizationRecommendation{}, err
	}
	return r, nil
}

func (s *SQLStore) AppendAudit(ctx context.Context, e model.AuditEntry) error {
	row := auditRow{
		ScanID: e.ScanID, Seq: e.Seq, TS: e.Timestamp.UnixNano(),
		AccountID: e.AccountID, Provider: e.Provider, Region: e.Region,
		Call: e.Call, ParamsDigest: e.ParamsDigest, Phase: e.Phase,
		Outcome: e.Outcome, Detail: e.Detail,
	}
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO audit_entries (scan_id, seq, ts, account_id, provider, region, call_name, params_digest, phase, outcome, detail)
		VALUES (:scan_id, :seq, :ts, :account_id, :provider, :region, :call_name, :params_digest, :phase, :outcome, :detail)
		ON CONFLICT (scan_id, seq) DO NOTHING`, row)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("audit %s/%d: %w", e.ScanID, e.Seq, model.ErrAlreadyExists)
	}
	return nil
}

func (s *SQLStore) ListAudit(ctx context.Context, scanID string) ([]model.AuditEntry, error) {
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT scan_id, seq, ts, account_id, provider, region, call_name, params_digest, phase, outcome, detail
		FROM audit_entries WHERE scan_id = ? ORDER BY seq`), scanID)
	if err != nil {
		return nil, err
	}
	out := make([]model.AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.AuditEntry{
			ScanID: r.ScanID, Seq: r.Seq, Timestamp: time.Unix(0, r.TS).UTC(),
			AccountID: r.AccountID, Provider: r.Provider, Region: r.Region,
			Call: r.Call, ParamsDigest: r.ParamsDigest, Phase: r.Phase,
			Outcome: r.Outcome, Detail: r.Detail,
		})
	}
	return out, nil
}
