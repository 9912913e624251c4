package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lumenfeed/lumenfeed/internal/domain"
	"github.com/lumenfeed/lumenfeed/internal/pagination"
)

type JobRepository struct {
	db dbtx
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{db: pool}
}

func NewJobRepositoryWithTx(tx pgx.Tx) *JobRepository {
	return &JobRepository{db: tx}
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO jobs (id, queue, payload, status, attempts, max_attempts, scheduled_at, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Queue, job.Payload, job.Status, job.Attempts, job.MaxAttempts,
		job.ScheduledAt, nullableString(job.LastError), job.CreatedAt, job.UpdatedAt,
	)
	return err
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, queue, payload, status, attempts, max_attempts, scheduled_at, last_error, created_at, updated_at
		 FROM jobs WHERE id = $1`,
		id,
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// ClaimDue atomically claims up to limit due pending jobs on the queue,
// moving them to processing. Uses SKIP LOCKED so multiple dispatchers never
// hand out the same job twice.
func (r *JobRepository) ClaimDue(ctx context.Context, queue string, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 1
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM jobs
			 WHERE queue = $1 AND status = $2 AND scheduled_at <= now()
			 ORDER BY scheduled_at ASC, created_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $3
		 )
		 UPDATE jobs
		 SET status = $4,
		     updated_at = now()
		 FROM cte
		 WHERE jobs.id = cte.id
		 RETURNING jobs.id, jobs.queue, jobs.payload, jobs.status, jobs.attempts,
		           jobs.max_attempts, jobs.scheduled_at, jobs.last_error, jobs.created_at, jobs.updated_at`,
		queue, domain.JobStatusPending, limit, domain.JobStatusProcessing,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobRows(rows)
}

// Complete removes a finished job. Succeeded jobs leave no trace.
func (r *JobRepository) Complete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// Reschedule sends a failed attempt back to pending with a new due time.
func (r *JobRepository) Reschedule(ctx context.Context, id string, errMsg string, at time.Time) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE jobs
		 SET status = $1, attempts = attempts + 1, scheduled_at = $2, last_error = $3, updated_at = now()
		 WHERE id = $4`,
		domain.JobStatusPending, at, nullableString(errMsg), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// MarkFailed parks a job past its attempt ceiling for manual inspection.
func (r *JobRepository) MarkFailed(ctx context.Context, id string, errMsg string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE jobs
		 SET status = $1, attempts = attempts + 1, last_error = $2, updated_at = now()
		 WHERE id = $3`,
		domain.JobStatusFailed, nullableString(errMsg), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// Requeue resets a failed job to pending with its attempts cleared.
func (r *JobRepository) Requeue(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE jobs
		 SET status = $1, attempts = 0, scheduled_at = now(), last_error = NULL, updated_at = now()
		 WHERE id = $2 AND status = $3`,
		domain.JobStatusPending, id, domain.JobStatusFailed,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		// Distinguish a missing row from one in the wrong state.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrJobNotRequeueable
	}
	return nil
}

// ResetStale returns processing jobs older than the threshold to pending.
// Run at startup so a crashed worker's claims are not lost.
func (r *JobRepository) ResetStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE jobs
		 SET status = $1, scheduled_at = now(), updated_at = now()
		 WHERE status = $2 AND updated_at < now() - $3::interval`,
		domain.JobStatusPending, domain.JobStatusProcessing, olderThan.String(),
	)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

// ListFailed returns failed jobs newest first, keyset-paginated.
func (r *JobRepository) ListFailed(ctx context.Context, cursor *pagination.Cursor, limit int) ([]*domain.Job, string, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT id, queue, payload, status, attempts, max_attempts, scheduled_at, last_error, created_at, updated_at
			 FROM jobs
			 WHERE status = $1 AND (updated_at, id) < ($2, $3)
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $4`,
			domain.JobStatusFailed, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, queue, payload, status, attempts, max_attempts, scheduled_at, last_error, created_at, updated_at
			 FROM jobs
			 WHERE status = $1
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $2`,
			domain.JobStatusFailed, limit+1,
		)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	jobs, err := scanJobRows(rows)
	if err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(jobs) > limit {
		jobs = jobs[:limit]
		last := jobs[len(jobs)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.UpdatedAt)
	}

	return jobs, nextCursor, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var lastError pgtype.Text
	err := row.Scan(&job.ID, &job.Queue, &job.Payload, &job.Status, &job.Attempts,
		&job.MaxAttempts, &job.ScheduledAt, &lastError, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastError.Valid {
		job.LastError = lastError.String
	}
	return &job, nil
}

func scanJobRows(rows pgx.Rows) ([]*domain.Job, error) {
	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
