package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lumenfeed/lumenfeed/internal/domain"
)

type ReplayRepository struct {
	db dbtx
}

func NewReplayRepository(pool *pgxpool.Pool) *ReplayRepository {
	return &ReplayRepository{db: pool}
}

func NewReplayRepositoryWithTx(tx pgx.Tx) *ReplayRepository {
	return &ReplayRepository{db: tx}
}

const replayColumns = `id, project_id, session_id, status, chunks, event_count, duration_ms, ended_at, created_at, updated_at`

func (r *ReplayRepository) Create(ctx context.Context, replay *domain.Replay) error {
	chunks, err := json.Marshal(replay.Chunks)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO replays (`+replayColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		replay.ID, replay.ProjectID, nullableString(replay.SessionID), replay.Status, chunks,
		replay.EventCount, replay.DurationMS, replay.EndedAt, replay.CreatedAt, replay.UpdatedAt,
	)
	return err
}

func (r *ReplayRepository) GetByID(ctx context.Context, id string) (*domain.Replay, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+replayColumns+` FROM replays WHERE id = $1`,
		id,
	)
	replay, err := scanReplay(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReplayNotFound
		}
		return nil, err
	}
	return replay, nil
}

// ClaimForProcessing moves a replay to processing unless it already reached
// ready. Sanitization jobs retry, so a job for an already-sanitized replay
// must claim nothing and exit cleanly.
func (r *ReplayRepository) ClaimForProcessing(ctx context.Context, id string) (claimed bool, err error) {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE replays SET status = $1, updated_at = now()
		 WHERE id = $2 AND status <> $3`,
		domain.ReplayStatusProcessing, id, domain.ReplayStatusReady,
	)
	if err != nil {
		return false, err
	}
	if cmdTag.RowsAffected() == 0 {
		// Verify the row exists before reporting it as already done.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return true, nil
}

// MarkReady stores sanitized chunk metadata and the replay aggregates.
func (r *ReplayRepository) MarkReady(ctx context.Context, replay *domain.Replay) error {
	chunks, err := json.Marshal(replay.Chunks)
	if err != nil {
		return err
	}
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE replays
		 SET status = $1, chunks = $2, event_count = $3, duration_ms = $4, ended_at = $5, updated_at = now()
		 WHERE id = $6`,
		domain.ReplayStatusReady, chunks, replay.EventCount, replay.DurationMS, replay.EndedAt, replay.ID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrReplayNotFound
	}
	return nil
}

func (r *ReplayRepository) MarkFailed(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE replays SET status = $1, updated_at = now() WHERE id = $2`,
		domain.ReplayStatusFailed, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrReplayNotFound
	}
	return nil
}

// ListExpired returns full replay rows older than the cutoff. Callers need
// the chunk metadata to delete the stored blobs alongside the rows.
func (r *ReplayRepository) ListExpired(ctx context.Context, projectID string, cutoff time.Time, limit int) ([]*domain.Replay, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+replayColumns+`
		 FROM replays
		 WHERE project_id = $1 AND created_at < $2
		 ORDER BY created_at ASC
		 LIMIT $3`,
		projectID, cutoff, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReplayRows(rows)
}

// ListBySessionIDs returns the replays attached to the given sessions.
func (r *ReplayRepository) ListBySessionIDs(ctx context.Context, sessionIDs []string) ([]*domain.Replay, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+replayColumns+` FROM replays WHERE session_id = ANY($1)`,
		sessionIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReplayRows(rows)
}

func (r *ReplayRepository) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `DELETE FROM replays WHERE id = ANY($1)`, ids)
	return err
}

func scanReplay(row pgx.Row) (*domain.Replay, error) {
	var replay domain.Replay
	var chunks []byte
	var sessionID pgtype.Text
	err := row.Scan(&replay.ID, &replay.ProjectID, &sessionID, &replay.Status, &chunks,
		&replay.EventCount, &replay.DurationMS, &replay.EndedAt, &replay.CreatedAt, &replay.UpdatedAt)
	if err != nil {
		return nil, err
	}
	replay.SessionID = sessionID.String
	if len(chunks) > 0 {
		if err := json.Unmarshal(chunks, &replay.Chunks); err != nil {
			return nil, err
		}
	}
	return &replay, nil
}

func scanReplayRows(rows pgx.Rows) ([]*domain.Replay, error) {
	var replays []*domain.Replay
	for rows.Next() {
		replay, err := scanReplay(rows)
		if err != nil {
			return nil, err
		}
		replays = append(replays, replay)
	}
	return replays, rows.Err()
}
