package ledger

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/i-aayush/whatif/internal/infrastructure/kafka"
	"github.com/i-aayush/whatif/internal/infrastructure/observability"
	"github.com/i-aayush/whatif/internal/infrastructure/redis"
	"github.com/i-aayush/whatif/internal/models"
	"github.com/i-aayush/whatif/internal/repository"
	pkgerrors "github.com/i-aayush/whatif/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const balanceCacheTTL = 5 * time.Minute

// Ledger maintains the per-user credit balance and its append-only
// transaction log. The cached balance on the user row and the log entry for
// an operation always move together inside one store transaction.
type Ledger interface {
	Balance(ctx context.Context, userID string) (int64, error)
	BalanceFromLog(ctx context.Context, userID string) (int64, error)
	Reconcile(ctx context.Context, userID string) (int64, bool, error)
	HasSufficient(ctx context.Context, userID string, amount int64) (bool, error)
	Debit(ctx context.Context, userID string, amount int64, description, runID string) (*models.CreditTransaction, error)
	Credit(ctx context.Context, userID string, amount int64, txType models.TransactionType, description string) (*models.CreditTransaction, error)
	Refund(ctx context.Context, userID string, amount int64, description, runID string) (*models.CreditTransaction, error)
	Transactions(ctx context.Context, userID string, limit, offset int) ([]models.CreditTransaction, error)
}

type creditLedger struct {
	userRepo    repository.UserRepository
	txRepo      repository.TransactionRepository
	redisClient redis.RedisClient
	producer    kafka.EventProducer
}

func NewCreditLedger(
	userRepo repository.UserRepository,
	txRepo repository.TransactionRepository,
	redisClient redis.RedisClient,
	producer kafka.EventProducer,
) *creditLedger {
	return &creditLedger{
		userRepo:    userRepo,
		txRepo:      txRepo,
		redisClient: redisClient,
		producer:    producer,
	}
}

func (l *creditLedger) Balance(ctx context.Context, userID string) (int64, error) {
	tracer := otel.Tracer("credit-ledger")
	ctx, span := tracer.Start(ctx, "Balance")
	defer span.End()

	cacheKey := balanceKey(userID)
	if cached, err := l.redisClient.Get(ctx, cacheKey); err == nil {
		if balance, err := strconv.ParseInt(cached, 10, 64); err == nil {
			return balance, nil
		}
	}

	balance, err := l.userRepo.GetBalance(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get balance")
		return 0, err
	}

	if err := l.redisClient.Set(ctx, cacheKey, balance, balanceCacheTTL); err != nil {
		slog.Error("failed to cache balance", "user_id", userID, "error", err)
	}
	return balance, nil
}

// BalanceFromLog recomputes the balance from the transaction log. Used only
// for reconciliation, never on the hot path.
func (l *creditLedger) BalanceFromLog(ctx context.Context, userID string) (int64, error) {
	return l.txRepo.SumAmounts(ctx, userID)
}

// Reconcile compares the cached balance against the computed one and
// overwrites the cache when they diverge. Returns the authoritative balance
// and whether a correction was written.
func (l *creditLedger) Reconcile(ctx context.Context, userID string) (int64, bool, error) {
	tracer := otel.Tracer("credit-ledger")
	ctx, span := tracer.Start(ctx, "Reconcile")
	span.SetAttributes(attribute.String("user_id", userID))
	defer span.End()

	cached, err := l.userRepo.GetBalance(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return 0, false, err
	}
	computed, err := l.txRepo.SumAmounts(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return 0, false, err
	}

	if cached == computed {
		return cached, false, nil
	}

	slog.Warn("balance divergence detected",
		"user_id", userID,
		"cached", cached,
		"computed", computed)
	observability.BalanceCorrections.Inc()

	if err := l.userRepo.SetBalance(ctx, userID, computed, time.Now().UTC()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to correct balance")
		return 0, false, err
	}
	l.invalidateCache(ctx, userID)
	return computed, true, nil
}

func (l *creditLedger) HasSufficient(ctx context.Context, userID string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, pkgerrors.ErrInvalidAmount
	}

	balance, err := l.userRepo.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	if balance < 0 {
		// A negative cached balance means the cache has drifted from the log;
		// recompute before deciding.
		balance, _, err = l.Reconcile(ctx, userID)
		if err != nil {
			return false, err
		}
	}
	return balance >= amount, nil
}

func (l *creditLedger) Debit(ctx context.Context, userID string, amount int64, description, runID string) (*models.CreditTransaction, error) {
	tracer := otel.Tracer("credit-ledger")
	ctx, span := tracer.Start(ctx, "Debit")
	span.SetAttributes(attribute.String("user_id", userID), attribute.Int64("amount", amount))
	defer span.End()

	ok, err := l.HasSufficient(ctx, userID, amount)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !ok {
		span.SetStatus(codes.Error, "insufficient credits")
		slog.Warn("debit rejected", "user_id", userID, "amount", amount)
		return nil, pkgerrors.ErrInsufficientCredits
	}

	tx := &models.CreditTransaction{
		UserID:      userID,
		Amount:      -amount,
		Type:        models.TypeUsage,
		Description: description,
		RunID:       runID,
	}
	if err := l.txRepo.Apply(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "debit failed")
		return nil, err
	}

	l.invalidateCache(ctx, userID)
	l.publishEvent(userID, tx)
	slog.Info("credits debited", "user_id", userID, "amount", amount, "run_id", runID, "transaction_id", tx.ID)
	return tx, nil
}

func (l *creditLedger) Credit(ctx context.Context, userID string, amount int64, txType models.TransactionType, description string) (*models.CreditTransaction, error) {
	tracer := otel.Tracer("credit-ledger")
	ctx, span := tracer.Start(ctx, "Credit")
	span.SetAttributes(attribute.String("user_id", userID), attribute.Int64("amount", amount), attribute.String("type", string(txType)))
	defer span.End()

	if amount <= 0 {
		return nil, pkgerrors.ErrInvalidAmount
	}
	if !models.CreditableType(txType) {
		span.SetStatus(codes.Error, "invalid transaction type")
		return nil, pkgerrors.ErrInvalidTransactionType
	}

	tx := &models.CreditTransaction{
		UserID:      userID,
		Amount:      amount,
		Type:        txType,
		Description: description,
	}
	if err := l.txRepo.Apply(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credit failed")
		return nil, err
	}

	l.invalidateCache(ctx, userID)
	l.publishEvent(userID, tx)
	slog.Info("credits added", "user_id", userID, "amount", amount, "type", txType, "transaction_id", tx.ID)
	return tx, nil
}

// Refund restores credits held against a run that produced no output. Unlike
// Credit it records the run linkage for the audit trail.
func (l *creditLedger) Refund(ctx context.Context, userID string, amount int64, description, runID string) (*models.CreditTransaction, error) {
	tracer := otel.Tracer("credit-ledger")
	ctx, span := tracer.Start(ctx, "Refund")
	span.SetAttributes(attribute.String("user_id", userID), attribute.Int64("amount", amount), attribute.String("run_id", runID))
	defer span.End()

	if amount <= 0 {
		return nil, pkgerrors.ErrInvalidAmount
	}

	tx := &models.CreditTransaction{
		UserID:      userID,
		Amount:      amount,
		Type:        models.TypeRefund,
		Description: description,
		RunID:       runID,
	}
	if err := l.txRepo.Apply(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refund failed")
		return nil, err
	}

	observability.RefundsIssued.Inc()
	l.invalidateCache(ctx, userID)
	l.publishEvent(userID, tx)
	slog.Info("credits refunded", "user_id", userID, "amount", amount, "run_id", runID, "transaction_id", tx.ID)
	return tx, nil
}

func (l *creditLedger) Transactions(ctx context.Context, userID string, limit, offset int) ([]models.CreditTransaction, error) {
	return l.txRepo.ListByUser(ctx, userID, limit, offset)
}

func (l *creditLedger) invalidateCache(ctx context.Context, userID string) {
	if err := l.redisClient.Del(ctx, balanceKey(userID)); err != nil && !stderrors.Is(err, redis.ErrKeyNotFound) {
		slog.Error("failed to invalidate balance cache", "user_id", userID, "error", err)
	}
}

// publishEvent emits the transaction to the ledger event stream. Best effort;
// the store transaction has already committed and is the source of truth.
func (l *creditLedger) publishEvent(userID string, tx *models.CreditTransaction) {
	if l.producer == nil {
		return
	}
	event := map[string]any{
		"event_type":     "credit_transaction",
		"transaction_id": tx.ID,
		"user_id":        userID,
		"amount":         tx.Amount,
		"type":           tx.Type,
		"run_id":         tx.RunID,
		"created_at":     tx.CreatedAt.UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal ledger event", "transaction_id", tx.ID, "error", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.producer.Send(ctx, userID, payload); err != nil {
			slog.Error("failed to publish ledger event", "transaction_id", tx.ID, "error", err)
		}
	}()
}

func balanceKey(userID string) string {
	return fmt.Sprintf("user:%s:credits", userID)
}
