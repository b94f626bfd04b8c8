package repository

import (
	"context"
	"time"

	"github.com/i-aayush/whatif/internal/models"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	// GetBalance returns the cached credits balance from the user row.
	GetBalance(ctx context.Context, userID string) (int64, error)
	// SetBalance overwrites the cached balance and stamps the correction time.
	// Used only by ledger reconciliation.
	SetBalance(ctx context.Context, userID string, balance int64, checkedAt time.Time) error
}
