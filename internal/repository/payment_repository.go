package repository

import (
	"context"

	"github.com/i-aayush/whatif/internal/models"
)

type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	// MarkCompleted flips a pending payment to completed. Returns
	// pkgerrors.ErrPaymentAlreadyProcessed when the payment is not pending.
	MarkCompleted(ctx context.Context, orderID string) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Payment, error)
}
