package repository

import (
	"context"

	"github.com/i-aayush/whatif/internal/models"
)

type TransactionRepository interface {
	// Apply atomically appends tx to the transaction log and moves the user's
	// cached balance by tx.Amount in a single database transaction. For
	// negative amounts the balance update is conditional on sufficiency: if the
	// user cannot cover the debit nothing is written and
	// pkgerrors.ErrInsufficientCredits is returned.
	Apply(ctx context.Context, tx *models.CreditTransaction) error
	GetByID(ctx context.Context, id string) (*models.CreditTransaction, error)
	// SumAmounts recomputes the balance from the authoritative log.
	SumAmounts(ctx context.Context, userID string) (int64, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.CreditTransaction, error)
	CountByRun(ctx context.Context, runID string) (int, error)
}
