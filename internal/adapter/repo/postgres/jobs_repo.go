// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
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

// JobRepo persists and loads sprite-generation jobs from PostgreSQL using a
// minimal pgx pool.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

// Create inserts a new job row (§3).
func (r *JobRepo) Create(ctx domain.Context, j domain.Job) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "jobs"),
	)

	prompt, err := json.Marshal(j.Prompt)
	if err != nil {
		return fmt.Errorf("op=jobs.Create: marshal prompt: %w", err)
	}

	q := `INSERT INTO jobs
		(job_id, user_id, prompt, fingerprint, attempts, state, submitted_at, updated_at,
		 remote_job_id, timeout_ms, correlation_id, retried_from_dlq, last_error, artifact)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	_, err = r.Pool.Exec(ctx, q,
		j.JobID, j.UserID, prompt, j.Fingerprint, j.Attempts, j.State, j.SubmittedAt, j.UpdatedAt,
		j.RemoteJobID, j.TimeoutMs, j.CorrelationID, j.RetriedFromDLQ, j.LastError, nil)
	if err != nil {
		return fmt.Errorf("op=jobs.Create: %w", err)
	}
	return nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, jobID string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)
	row := r.Pool.QueryRow(ctx, jobSelectQuery+" WHERE job_id=$1", jobID)
	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=jobs.Get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=jobs.Get: %w", err)
	}
	return j, nil
}

// UpdateState loads the current row, applies mutate and the new state, and
// writes the result back inside a single transaction, so a caller's mutate
// closure always observes the latest persisted fields (§3, §4.10).
func (r *JobRepo) UpdateState(ctx domain.Context, jobID string, state domain.JobState, mutate func(*domain.Job)) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateState")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "jobs"),
	)

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=jobs.UpdateState: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, jobSelectQuery+" WHERE job_id=$1 FOR UPDATE", jobID)
	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("op=jobs.UpdateState: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("op=jobs.UpdateState: load: %w", err)
	}

	if mutate != nil {
		mutate(&j)
	}
	j.State = state
	j.UpdatedAt = time.Now().UTC()

	prompt, err := json.Marshal(j.Prompt)
	if err != nil {
		return fmt.Errorf("op=jobs.UpdateState: marshal prompt: %w", err)
	}
	var artifact []byte
	if j.Artifact != nil {
		if artifact, err = json.Marshal(j.Artifact); err != nil {
			return fmt.Errorf("op=jobs.UpdateState: marshal artifact: %w", err)
		}
	}

	q := `UPDATE jobs SET prompt=$2, attempts=$3, state=$4, updated_at=$5, remote_job_id=$6,
		timeout_ms=$7, retried_from_dlq=$8, last_error=$9, artifact=$10 WHERE job_id=$1`
	if _, err := tx.Exec(ctx, q, jobID, prompt, j.Attempts, j.State, j.UpdatedAt, j.RemoteJobID,
		j.TimeoutMs, j.RetriedFromDLQ, j.LastError, artifact); err != nil {
		return fmt.Errorf("op=jobs.UpdateState: exec: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=jobs.UpdateState: commit: %w", err)
	}
	committed = true
	return nil
}

// ListByState pages through jobs in a given state, used by the stuck-job
// sweeper (§4.8 supplemental).
func (r *JobRepo) ListByState(ctx domain.Context, state domain.JobState, offset, limit int) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListByState")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)
	q := jobSelectQuery + " WHERE state=$1 ORDER BY updated_at ASC LIMIT $2 OFFSET $3"
	rows, err := r.Pool.Query(ctx, q, state, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("op=jobs.ListByState: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=jobs.ListByState: scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=jobs.ListByState: rows: %w", err)
	}
	return jobs, nil
}

// Count returns the total number of jobs, used by the admin dashboard.
func (r *JobRepo) Count(ctx domain.Context) (int64, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Count")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "COUNT"),
		attribute.String("db.sql.table", "jobs"),
	)
	row := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=jobs.Count: %w", err)
	}
	return count, nil
}

const jobSelectQuery = `SELECT job_id, user_id, prompt, fingerprint, attempts, state, submitted_at, updated_at,
	COALESCE(remote_job_id,''), timeout_ms, COALESCE(correlation_id,''), retried_from_dlq, COALESCE(last_error,''), artifact
	FROM jobs`

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var j domain.Job
	var prompt, artifact []byte
	if err := row.Scan(&j.JobID, &j.UserID, &prompt, &j.Fingerprint, &j.Attempts, &j.State,
		&j.SubmittedAt, &j.UpdatedAt, &j.RemoteJobID, &j.TimeoutMs, &j.CorrelationID,
		&j.RetriedFromDLQ, &j.LastError, &artifact); err != nil {
		return domain.Job{}, err
	}
	if len(prompt) > 0 {
		if err := json.Unmarshal(prompt, &j.Prompt); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshal prompt: %w", err)
		}
	}
	if len(artifact) > 0 {
		j.Artifact = &domain.Artifact{}
		if err := json.Unmarshal(artifact, j.Artifact); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshal artifact: %w", err)
		}
	}
	return j, nil
}
