package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/i-aayush/whatif/internal/infrastructure/observability"
	"github.com/i-aayush/whatif/internal/models"
	pkgerrors "github.com/i-aayush/whatif/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

// Apply appends the transaction and moves the user's cached balance inside one
// database transaction. The UPDATE runs first so the row lock on users
// serializes concurrent debits for the same user; two debits racing for the
// last sufficient balance cannot both pass the conditional update.
func (r *PostgresTransactionRepository) Apply(ctx context.Context, tx *models.CreditTransaction) error {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "ApplyTransaction")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("ApplyTransaction", status).Inc()
		observability.RepositoryDuration.WithLabelValues("ApplyTransaction").Observe(time.Since(start).Seconds())
	}()

	if tx == nil {
		err = pkgerrors.ErrNilTransaction
		slog.Error("failed to apply transaction", "method", "Apply", "error", err)
		return err
	}
	if !models.ValidType(tx.Type) {
		err = pkgerrors.ErrInvalidTransactionType
		slog.Error("invalid transaction type", "method", "Apply", "type", tx.Type, "error", err)
		return err
	}
	if tx.Amount == 0 {
		err = pkgerrors.ErrInvalidAmount
		slog.Error("zero amount", "method", "Apply", "error", err)
		return err
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}

	span.SetAttributes(
		attribute.String("user_id", tx.UserID),
		attribute.Int64("amount", tx.Amount),
		attribute.String("type", string(tx.Type)),
	)

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Apply", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	var balanceQuery string
	if tx.Amount < 0 {
		// Debits must not push the cached balance negative.
		balanceQuery = `UPDATE users SET credits_balance = credits_balance + $1 WHERE id = $2 AND credits_balance + $1 >= 0`
	} else {
		balanceQuery = `UPDATE users SET credits_balance = credits_balance + $1 WHERE id = $2`
	}
	res, err := dbTx.ExecContext(ctx, balanceQuery, tx.Amount, tx.UserID)
	if err != nil {
		dbTx.Rollback()
		slog.Error("failed to update balance", "method", "Apply", "user_id", tx.UserID, "error", err)
		return fmt.Errorf("failed to update balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		dbTx.Rollback()
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if affected == 0 {
		var exists bool
		checkErr := dbTx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, tx.UserID).Scan(&exists)
		dbTx.Rollback()
		if checkErr != nil {
			err = fmt.Errorf("failed to check user: %w", checkErr)
			return err
		}
		if !exists {
			err = pkgerrors.ErrUserNotFound
		} else {
			err = pkgerrors.ErrInsufficientCredits
		}
		slog.Warn("transaction rejected", "method", "Apply", "user_id", tx.UserID, "amount", tx.Amount, "error", err)
		return err
	}

	insertQuery := `INSERT INTO credit_transactions (id, user_id, amount, type, description, run_id) VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')) RETURNING created_at`
	err = dbTx.QueryRowContext(ctx, insertQuery, tx.ID, tx.UserID, tx.Amount, tx.Type, tx.Description, tx.RunID).Scan(&tx.CreatedAt)
	if err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			err = fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
			slog.Error("rollback failed", "method", "Apply", "error", rbErr)
		} else {
			slog.Error("failed to append transaction", "method", "Apply", "user_id", tx.UserID, "type", tx.Type, "error", err)
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Apply", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("transaction applied", "method", "Apply", "id", tx.ID, "user_id", tx.UserID, "amount", tx.Amount, "type", tx.Type, "run_id", tx.RunID)
	return nil
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id string) (*models.CreditTransaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "GetTransactionByID")
	span.SetAttributes(attribute.String("transaction_id", id))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("GetTransactionByID", status).Inc()
		observability.RepositoryDuration.WithLabelValues("GetTransactionByID").Observe(time.Since(start).Seconds())
	}()

	var tx models.CreditTransaction
	var runID sql.NullString
	query := `SELECT id, user_id, amount, type, description, run_id, created_at FROM credit_transactions WHERE id = $1`
	err = r.db.QueryRowContext(ctx, query, id).Scan(&tx.ID, &tx.UserID, &tx.Amount, &tx.Type, &tx.Description, &runID, &tx.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, pkgerrors.ErrInvalidInput)
	}
	if err != nil {
		slog.Error("failed to get transaction by id", "method", "GetByID", "transaction_id", id, "error", err)
		return nil, fmt.Errorf("failed to get transaction by id: %w", err)
	}
	tx.RunID = runID.String
	return &tx, nil
}

// SumAmounts recomputes the balance from the authoritative log. Reconciliation
// only; never called on the hot path.
func (r *PostgresTransactionRepository) SumAmounts(ctx context.Context, userID string) (int64, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "SumAmounts")
	span.SetAttributes(attribute.String("user_id", userID))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("SumAmounts", status).Inc()
		observability.RepositoryDuration.WithLabelValues("SumAmounts").Observe(time.Since(start).Seconds())
	}()

	var balance int64
	query := `SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = $1`
	err = r.db.QueryRowContext(ctx, query, userID).Scan(&balance)
	if err != nil {
		slog.Error("failed to sum transactions", "method", "SumAmounts", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return balance, nil
}

func (r *PostgresTransactionRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.CreditTransaction, error) {
	query := `
		SELECT id, user_id, amount, type, description, run_id, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []models.CreditTransaction
	for rows.Next() {
		var tx models.CreditTransaction
		var runID sql.NullString
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Amount, &tx.Type, &tx.Description, &runID, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.RunID = runID.String
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func (r *PostgresTransactionRepository) CountByRun(ctx context.Context, runID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM credit_transactions WHERE run_id = $1`
	if err := r.db.QueryRowContext(ctx, query, runID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions by run: %w", err)
	}
	return count, nil
}
