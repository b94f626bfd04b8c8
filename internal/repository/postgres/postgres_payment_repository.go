package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/i-aayush/whatif/internal/models"
	pkgerrors "github.com/i-aayush/whatif/pkg/errors"
)

type PostgresPaymentRepository struct {
	db *sql.DB
}

func NewPostgresPaymentRepository(db *sql.DB) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

func (r *PostgresPaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if payment == nil {
		return fmt.Errorf("payment is nil")
	}
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.Status == "" {
		payment.Status = models.PaymentPending
	}

	query := `
	INSERT INTO payments (id, user_id, order_id, amount_cents, currency, credits_purchased, status)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		payment.ID, payment.UserID, payment.OrderID, payment.AmountCents,
		payment.Currency, payment.CreditsPurchased, payment.Status,
	).Scan(&payment.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *PostgresPaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	query := `
		SELECT id, user_id, order_id, amount_cents, currency, credits_purchased, status, created_at
		FROM payments WHERE order_id = $1
	`
	var p models.Payment
	err := r.db.QueryRowContext(ctx, query, orderID).Scan(
		&p.ID, &p.UserID, &p.OrderID, &p.AmountCents, &p.Currency, &p.CreditsPurchased, &p.Status, &p.CreatedAt,
	)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrPaymentNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// MarkCompleted flips a pending payment to completed. The condition makes
// re-verification of the same order a conflict instead of a double credit.
func (r *PostgresPaymentRepository) MarkCompleted(ctx context.Context, orderID string) error {
	query := `UPDATE payments SET status = $1 WHERE order_id = $2 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, models.PaymentCompleted, orderID, models.PaymentPending)
	if err != nil {
		return fmt.Errorf("failed to mark payment completed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark payment completed: %w", err)
	}
	if affected == 0 {
		var exists bool
		if checkErr := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM payments WHERE order_id = $1)`, orderID).Scan(&exists); checkErr != nil {
			return fmt.Errorf("failed to check payment: %w", checkErr)
		}
		if !exists {
			return pkgerrors.ErrPaymentNotFound
		}
		return pkgerrors.ErrPaymentAlreadyProcessed
	}
	return nil
}

func (r *PostgresPaymentRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Payment, error) {
	query := `
		SELECT id, user_id, order_id, amount_cents, currency, credits_purchased, status, created_at
		FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.UserID, &p.OrderID, &p.AmountCents, &p.Currency, &p.CreditsPurchased, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
