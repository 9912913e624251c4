package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditLogRepository struct {
	db dbtx
}

func NewAuditLogRepository(pool *pgxpool.Pool) *AuditLogRepository {
	return &AuditLogRepository{db: pool}
}

func NewAuditLogRepositoryWithTx(tx pgx.Tx) *AuditLogRepository {
	return &AuditLogRepository{db: tx}
}

// DeleteOlderThan bulk-deletes audit entries past the cutoff. Audit rows have
// no dependents, so no batching is needed.
func (r *AuditLogRepository) DeleteOlderThan(ctx context.Context, projectID string, cutoff time.Time) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM audit_logs WHERE project_id = $1 AND created_at < $2`,
		projectID, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}
