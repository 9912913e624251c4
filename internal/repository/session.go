package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SessionRepository struct {
	db dbtx
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: pool}
}

func NewSessionRepositoryWithTx(tx pgx.Tx) *SessionRepository {
	return &SessionRepository{db: tx}
}

// ListExpired returns ids of sessions older than the cutoff. A session with
// any interaction at or past the cutoff is preserved regardless of its own
// age, since that interaction still references it.
func (r *SessionRepository) ListExpired(ctx context.Context, projectID string, cutoff time.Time, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT s.id
		 FROM sessions s
		 WHERE s.project_id = $1
		   AND s.created_at < $2
		   AND NOT EXISTS (
			   SELECT 1 FROM interactions i
			   WHERE i.session_id = s.id AND i.created_at >= $2
		   )
		 ORDER BY s.created_at ASC
		 LIMIT $3`,
		projectID, cutoff, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SessionRepository) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = ANY($1)`, ids)
	return err
}
