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

type InteractionRepository struct {
	db dbtx
}

func NewInteractionRepository(pool *pgxpool.Pool) *InteractionRepository {
	return &InteractionRepository{db: pool}
}

func NewInteractionRepositoryWithTx(tx pgx.Tx) *InteractionRepository {
	return &InteractionRepository{db: tx}
}

const interactionColumns = `id, project_id, session_id, type, status, severity, title, description,
	content, labels, duplicate_group_id, match_confidence, linked_issue_key, created_at, updated_at`

func (r *InteractionRepository) Create(ctx context.Context, i *domain.Interaction) error {
	content, err := json.Marshal(i.Content)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO interactions (`+interactionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		i.ID, i.ProjectID, nullableString(i.SessionID), i.Type, i.Status, nullableString(i.Severity),
		i.Title, i.Description, content, i.Labels, nullableString(i.DuplicateGroupID),
		i.MatchConfidence, nullableString(i.LinkedIssueKey), i.CreatedAt, i.UpdatedAt,
	)
	return err
}

func (r *InteractionRepository) GetByID(ctx context.Context, id string) (*domain.Interaction, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+interactionColumns+` FROM interactions WHERE id = $1`,
		id,
	)
	i, err := scanInteraction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInteractionNotFound
		}
		return nil, err
	}
	return i, nil
}

// SetLabels commits a label set independently of any duplicate decision.
func (r *InteractionRepository) SetLabels(ctx context.Context, id string, labels []string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE interactions SET labels = $1, updated_at = now() WHERE id = $2`,
		labels, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrInteractionNotFound
	}
	return nil
}

// AssignDuplicateGroup records the duplicate decision. An existing group id is
// only overwritten by a higher-confidence run, never cleared. A nil confidence
// marks the interaction as the representative of a freshly minted group and
// only applies when no group is assigned yet.
func (r *InteractionRepository) AssignDuplicateGroup(ctx context.Context, id, groupID string, confidence *float64) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE interactions
		 SET duplicate_group_id = $1, match_confidence = $2, updated_at = now()
		 WHERE id = $3
		   AND (duplicate_group_id IS NULL OR COALESCE(match_confidence, 0) < COALESCE($2, 0))`,
		groupID, confidence, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		// Either the row is gone or a higher-confidence assignment already exists.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

// ListDedupCandidates returns same-project, same-type interactions created
// since the given time that already carry a duplicate group, newest first.
func (r *InteractionRepository) ListDedupCandidates(ctx context.Context, projectID string, itype domain.InteractionType, since time.Time, limit int) ([]*domain.Interaction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+interactionColumns+`
		 FROM interactions
		 WHERE project_id = $1 AND type = $2 AND created_at >= $3 AND duplicate_group_id IS NOT NULL
		 ORDER BY created_at DESC
		 LIMIT $4`,
		projectID, itype, since, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInteractionRows(rows)
}

// ListUnclustered returns recent interactions without a duplicate group,
// used by the periodic backlog scan.
func (r *InteractionRepository) ListUnclustered(ctx context.Context, projectID string, since time.Time, limit int) ([]*domain.Interaction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+interactionColumns+`
		 FROM interactions
		 WHERE project_id = $1 AND created_at >= $2 AND duplicate_group_id IS NULL
		 ORDER BY created_at ASC
		 LIMIT $3`,
		projectID, since, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInteractionRows(rows)
}

// ListExpiredUnlinked returns ids of interactions older than the cutoff that
// are not referenced by an external issue.
func (r *InteractionRepository) ListExpiredUnlinked(ctx context.Context, projectID string, cutoff time.Time, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id
		 FROM interactions
		 WHERE project_id = $1 AND created_at < $2 AND linked_issue_key IS NULL
		 ORDER BY created_at ASC
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

// DeleteCascade removes child rows before the interaction rows themselves.
// Meant to run inside a transaction via TxRunner.
func (r *InteractionRepository) DeleteCascade(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	if _, err := r.db.Exec(ctx, `DELETE FROM interaction_logs WHERE interaction_id = ANY($1)`, ids); err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM interaction_media WHERE interaction_id = ANY($1)`, ids); err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM feedback_links WHERE interaction_id = ANY($1)`, ids); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `DELETE FROM interactions WHERE id = ANY($1)`, ids)
	return err
}

func scanInteraction(row pgx.Row) (*domain.Interaction, error) {
	var i domain.Interaction
	var sessionID, severity, groupID, linkedIssue pgtype.Text
	var content []byte
	err := row.Scan(&i.ID, &i.ProjectID, &sessionID, &i.Type, &i.Status, &severity,
		&i.Title, &i.Description, &content, &i.Labels, &groupID, &i.MatchConfidence,
		&linkedIssue, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if sessionID.Valid {
		i.SessionID = sessionID.String
	}
	if severity.Valid {
		i.Severity = severity.String
	}
	if groupID.Valid {
		i.DuplicateGroupID = groupID.String
	}
	if linkedIssue.Valid {
		i.LinkedIssueKey = linkedIssue.String
	}
	if len(content) > 0 {
		if err := json.Unmarshal(content, &i.Content); err != nil {
			return nil, err
		}
	}
	return &i, nil
}

func scanInteractionRows(rows pgx.Rows) ([]*domain.Interaction, error) {
	var items []*domain.Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
