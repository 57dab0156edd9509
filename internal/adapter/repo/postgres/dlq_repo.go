// Package postgres provides PostgreSQL database adapters.
package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/spriteforge/orchestrator/internal/domain"
)

// DLQRepo persists dead-lettered jobs (§3, §4.10), giving the admin
// surface a durable audit trail independent of the queue engine's own
// retention window.
type DLQRepo struct{ Pool PgxPool }

// NewDLQRepo constructs a DLQRepo with the given pool.
func NewDLQRepo(p PgxPool) *DLQRepo { return &DLQRepo{Pool: p} }

// Put inserts or replaces the DLQ entry for a job id.
func (r *DLQRepo) Put(ctx domain.Context, entry domain.DLQEntry) error {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.Put")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "dlq_entries"),
	)

	snapshot, err := json.Marshal(entry.OriginalJobSnapshot)
	if err != nil {
		return fmt.Errorf("op=dlq.Put: marshal snapshot: %w", err)
	}
	lastErr, err := json.Marshal(entry.LastError)
	if err != nil {
		return fmt.Errorf("op=dlq.Put: marshal last_error: %w", err)
	}

	q := `INSERT INTO dlq_entries
		(job_id, user_id, original_job_snapshot, failure_reason, failed_at, retry_attempts, last_error, remote_job_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (job_id) DO UPDATE SET
			original_job_snapshot=EXCLUDED.original_job_snapshot,
			failure_reason=EXCLUDED.failure_reason,
			failed_at=EXCLUDED.failed_at,
			retry_attempts=EXCLUDED.retry_attempts,
			last_error=EXCLUDED.last_error,
			remote_job_id=EXCLUDED.remote_job_id`
	_, err = r.Pool.Exec(ctx, q, entry.JobID, entry.UserID, snapshot, entry.FailureReason,
		entry.FailedAt, entry.RetryAttempts, lastErr, entry.RemoteJobID)
	if err != nil {
		return fmt.Errorf("op=dlq.Put: %w", err)
	}
	return nil
}

// List returns up to limit DLQ entries, most recently failed first, for the
// admin surface's list endpoint (§4.10).
func (r *DLQRepo) List(ctx domain.Context, limit int) ([]domain.DLQEntry, error) {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.List")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "dlq_entries"),
	)
	q := dlqSelectQuery + ` ORDER BY failed_at DESC LIMIT $1`
	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=dlq.List: %w", err)
	}
	defer rows.Close()

	var entries []domain.DLQEntry
	for rows.Next() {
		e, err := scanDLQEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("op=dlq.List: scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=dlq.List: rows: %w", err)
	}
	return entries, nil
}

// Get loads a single DLQ entry by job id.
func (r *DLQRepo) Get(ctx domain.Context, jobID string) (domain.DLQEntry, error) {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "dlq_entries"),
	)
	row := r.Pool.QueryRow(ctx, dlqSelectQuery+` WHERE job_id=$1`, jobID)
	e, err := scanDLQEntry(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.DLQEntry{}, fmt.Errorf("op=dlq.Get: %w", domain.ErrNotFound)
		}
		return domain.DLQEntry{}, fmt.Errorf("op=dlq.Get: %w", err)
	}
	return e, nil
}

// Delete permanently removes a DLQ entry.
func (r *DLQRepo) Delete(ctx domain.Context, jobID string) error {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.sql.table", "dlq_entries"),
	)
	if _, err := r.Pool.Exec(ctx, `DELETE FROM dlq_entries WHERE job_id=$1`, jobID); err != nil {
		return fmt.Errorf("op=dlq.Delete: %w", err)
	}
	return nil
}

// DeleteOlderThan removes entries that failed before cutoff, used by the
// DLQ retention sweep (§6 dlq_max_age_hours).
func (r *DLQRepo) DeleteOlderThan(ctx domain.Context, cutoff time.Time) (int64, error) {
	tag, err := r.Pool.Exec(ctx, `DELETE FROM dlq_entries WHERE failed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=dlq.DeleteOlderThan: %w", err)
	}
	return tag.RowsAffected(), nil
}

const dlqSelectQuery = `SELECT job_id, user_id, original_job_snapshot, failure_reason, failed_at,
	retry_attempts, last_error, COALESCE(remote_job_id,'') FROM dlq_entries`

func scanDLQEntry(row rowScanner) (domain.DLQEntry, error) {
	var e domain.DLQEntry
	var snapshot, lastErr []byte
	if err := row.Scan(&e.JobID, &e.UserID, &snapshot, &e.FailureReason, &e.FailedAt,
		&e.RetryAttempts, &lastErr, &e.RemoteJobID); err != nil {
		return domain.DLQEntry{}, err
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &e.OriginalJobSnapshot); err != nil {
			return domain.DLQEntry{}, fmt.Errorf("unmarshal snapshot: %w", err)
		}
	}
	if len(lastErr) > 0 {
		if err := json.Unmarshal(lastErr, &e.LastError); err != nil {
			return domain.DLQEntry{}, fmt.Errorf("unmarshal last_error: %w", err)
		}
	}
	return e, nil
}
