package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lumenfeed/lumenfeed/internal/domain"
)

type ProjectRepository struct {
	db dbtx
}

func NewProjectRepository(pool *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{db: pool}
}

func NewProjectRepositoryWithTx(tx pgx.Tx) *ProjectRepository {
	return &ProjectRepository{db: tx}
}

// ListProjectIDs returns every project id, oldest first. The retention sweep
// iterates this list so new projects are picked up without restarts.
func (r *ProjectRepository) ListProjectIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM projects ORDER BY created_at ASC`)
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

// GetSettings loads a project's analysis settings. Missing retention fields
// fall back to platform defaults.
func (r *ProjectRepository) GetSettings(ctx context.Context, projectID string) (*domain.ProjectSettings, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, classification_enabled, retention_policy FROM projects WHERE id = $1`,
		projectID,
	)

	var settings domain.ProjectSettings
	var retention []byte
	err := row.Scan(&settings.ProjectID, &settings.ClassificationEnabled, &retention)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProjectNotFound
		}
		return nil, err
	}

	if len(retention) > 0 {
		if err := json.Unmarshal(retention, &settings.Retention); err != nil {
			return nil, err
		}
	}
	settings.Retention = settings.Retention.WithDefaults()

	return &settings, nil
}

// UpdateRetention replaces a project's retention policy.
func (r *ProjectRepository) UpdateRetention(ctx context.Context, projectID string, policy domain.RetentionPolicy) error {
	raw, err := json.Marshal(policy)
	if err != nil {
		return err
	}
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE projects SET retention_policy = $1, updated_at = now() WHERE id = $2`,
		raw, projectID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}
