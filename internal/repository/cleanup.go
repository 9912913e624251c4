package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InteractionCleanup wraps the interaction cascade in a transaction so child
// rows and the interaction rows go together.
type InteractionCleanup struct {
	repo   *InteractionRepository
	runner *TxRunner
}

func NewInteractionCleanup(pool *pgxpool.Pool) *InteractionCleanup {
	return &InteractionCleanup{
		repo:   NewInteractionRepository(pool),
		runner: NewTxRunner(pool),
	}
}

func (c *InteractionCleanup) ListExpiredUnlinked(ctx context.Context, projectID string, cutoff time.Time, limit int) ([]string, error) {
	return c.repo.ListExpiredUnlinked(ctx, projectID, cutoff, limit)
}

func (c *InteractionCleanup) DeleteCascade(ctx context.Context, ids []string) error {
	return c.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return NewInteractionRepositoryWithTx(tx).DeleteCascade(ctx, ids)
	})
}
