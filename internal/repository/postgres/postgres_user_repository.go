package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/i-aayush/whatif/internal/models"
	pkgerrors "github.com/i-aayush/whatif/pkg/errors"
)

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *models.User) error {
	if user == nil {
		return fmt.Errorf("user is nil")
	}
	if user.Email == "" || user.PasswordHash == "" {
		return fmt.Errorf("%w: email and password are required", pkgerrors.ErrInvalidInput)
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	query := `
	INSERT INTO users (id, email, name, password_hash, credits_balance)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING created_at
	`
	err := r.db.QueryRowContext(
		ctx,
		query,
		user.ID,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.CreditsBalance,
	).Scan(&user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT id, email, name, credits_balance, balance_checked_at, created_at FROM users WHERE id = $1`

	var user models.User
	var checkedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.CreditsBalance,
		&checkedAt,
		&user.CreatedAt,
	)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrUserNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	if checkedAt.Valid {
		user.BalanceCheckedAt = &checkedAt.Time
	}
	return &user, nil
}

func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if email == "" {
		return nil, fmt.Errorf("%w: email cannot be empty", pkgerrors.ErrInvalidInput)
	}

	query := `SELECT id, email, name, password_hash, credits_balance, created_at FROM users WHERE email = $1`

	var user models.User
	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.CreditsBalance,
		&user.CreatedAt,
	)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrUserNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &user, nil
}

func (r *PostgresUserRepository) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	query := `SELECT credits_balance FROM users WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&balance)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

func (r *PostgresUserRepository) SetBalance(ctx context.Context, userID string, balance int64, checkedAt time.Time) error {
	query := `UPDATE users SET credits_balance = $1, balance_checked_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, balance, checkedAt, userID)
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	if affected == 0 {
		return pkgerrors.ErrUserNotFound
	}
	slog.Info("balance overwritten", "method", "SetBalance", "user_id", userID, "balance", balance)
	return nil
}
