//go:build integration

package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenfeed/lumenfeed/internal/domain"
	"github.com/lumenfeed/lumenfeed/internal/pagination"
	"github.com/lumenfeed/lumenfeed/internal/testutil"
)

func newPendingJob(queue string, due time.Time) *domain.Job {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Job{
		ID:          uuid.NewString(),
		Queue:       queue,
		Payload:     json.RawMessage(`{"interaction_id":"int-1"}`),
		Status:      domain.JobStatusPending,
		MaxAttempts: 3,
		ScheduledAt: due,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestJobRepository_ClaimDue(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewJobRepository(pool)

	due := newPendingJob(domain.QueueClassification, time.Now().UTC().Add(-time.Minute))
	future := newPendingJob(domain.QueueClassification, time.Now().UTC().Add(time.Hour))
	otherQueue := newPendingJob(domain.QueueRetention, time.Now().UTC().Add(-time.Minute))

	require.NoError(t, repo.Create(ctx, due))
	require.NoError(t, repo.Create(ctx, future))
	require.NoError(t, repo.Create(ctx, otherQueue))

	claimed, err := repo.ClaimDue(ctx, domain.QueueClassification, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
	assert.Equal(t, domain.JobStatusProcessing, claimed[0].Status)

	// A second claim finds nothing: the job is already processing.
	claimed, err = repo.ClaimDue(ctx, domain.QueueClassification, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestJobRepository_CompleteRemovesJob(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewJobRepository(pool)
	job := newPendingJob(domain.QueueClassification, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, job))

	require.NoError(t, repo.Complete(ctx, job.ID))

	_, err := repo.GetByID(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestJobRepository_RescheduleIncrementsAttempts(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewJobRepository(pool)
	job := newPendingJob(domain.QueueSanitization, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, repo.Create(ctx, job))

	_, err := repo.ClaimDue(ctx, domain.QueueSanitization, 1)
	require.NoError(t, err)

	nextRun := time.Now().UTC().Add(30 * time.Second).Truncate(time.Microsecond)
	require.NoError(t, repo.Reschedule(ctx, job.ID, "chunk fetch failed", nextRun))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, int32(1), got.Attempts)
	assert.Equal(t, "chunk fetch failed", got.LastError)
	assert.WithinDuration(t, nextRun, got.ScheduledAt, time.Second)
}

func TestJobRepository_RequeueFailedJob(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewJobRepository(pool)
	job := newPendingJob(domain.QueueClassification, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, job))
	require.NoError(t, repo.MarkFailed(ctx, job.ID, "gave up"))

	require.NoError(t, repo.Requeue(ctx, job.ID))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, int32(0), got.Attempts)
	assert.Empty(t, got.LastError)
}

func TestJobRepository_RequeuePendingJobRejected(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewJobRepository(pool)
	job := newPendingJob(domain.QueueClassification, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, job))

	err := repo.Requeue(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotRequeueable)

	err = repo.Requeue(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestJobRepository_ResetStale(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewJobRepository(pool)
	job := newPendingJob(domain.QueueClassification, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, repo.Create(ctx, job))

	claimed, err := repo.ClaimDue(ctx, domain.QueueClassification, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Backdate the claim so it looks abandoned.
	_, err = pool.Exec(ctx, `UPDATE jobs SET updated_at = now() - interval '1 hour' WHERE id = $1`, job.ID)
	require.NoError(t, err)

	reset, err := repo.ResetStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
}

func TestJobRepository_ListFailedPagination(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewJobRepository(pool)

	for i := 0; i < 3; i++ {
		job := newPendingJob(domain.QueueSanitization, time.Now().UTC())
		require.NoError(t, repo.Create(ctx, job))
		require.NoError(t, repo.MarkFailed(ctx, job.ID, "boom"))
	}

	page1, next, err := repo.ListFailed(ctx, nil, 2)
	require.NoError(t, err)
	assert.Len(t, page1, 2)
	require.NotEmpty(t, next)

	cursor, err := pagination.DecodeCursor(next)
	require.NoError(t, err)

	page2, next2, err := repo.ListFailed(ctx, cursor, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 1)
	assert.Empty(t, next2)
}
