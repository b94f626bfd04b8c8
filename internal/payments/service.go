package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/i-aayush/whatif/internal/infrastructure/redis"
	"github.com/i-aayush/whatif/internal/ledger"
	"github.com/i-aayush/whatif/internal/models"
	"github.com/i-aayush/whatif/internal/repository"
	pkgerrors "github.com/i-aayush/whatif/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

type Service interface {
	// RecordOrder stores a pending payment created on the gateway side.
	RecordOrder(ctx context.Context, payment *models.Payment) error
	// Verify authenticates a completed payment and credits the purchase.
	Verify(ctx context.Context, userID, orderID, paymentID, signature string) (*models.Payment, error)
	History(ctx context.Context, userID string, limit, offset int) ([]models.Payment, error)
}

type service struct {
	paymentRepo  repository.PaymentRepository
	creditLedger ledger.Ledger
	gateway      Gateway
	redisClient  redis.RedisClient
}

func NewService(paymentRepo repository.PaymentRepository, creditLedger ledger.Ledger, gateway Gateway, redisClient redis.RedisClient) *service {
	return &service{
		paymentRepo:  paymentRepo,
		creditLedger: creditLedger,
		gateway:      gateway,
		redisClient:  redisClient,
	}
}

func (s *service) RecordOrder(ctx context.Context, payment *models.Payment) error {
	if payment == nil || payment.OrderID == "" || payment.UserID == "" {
		return pkgerrors.ErrInvalidInput
	}
	if payment.CreditsPurchased <= 0 {
		return pkgerrors.ErrInvalidAmount
	}
	return s.paymentRepo.Create(ctx, payment)
}

func (s *service) Verify(ctx context.Context, userID, orderID, paymentID, signature string) (*models.Payment, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "VerifyPayment")
	defer span.End()

	if !s.gateway.VerifySignature(orderID, paymentID, signature) {
		span.SetStatus(codes.Error, "invalid signature")
		slog.Error("payment signature mismatch", "user_id", userID, "order_id", orderID)
		return nil, pkgerrors.ErrInvalidSignature
	}

	// Request-level idempotency guard ahead of the row-level one.
	requestKey := fmt.Sprintf("payment:%s:verify", orderID)
	ok, err := s.redisClient.SetNX(ctx, requestKey, "pending", 24*time.Hour)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to set payment request key", "order_id", orderID, "error", err)
		return nil, err
	}
	if !ok {
		span.SetStatus(codes.Error, "payment already processed")
		return nil, pkgerrors.ErrPaymentAlreadyProcessed
	}

	payment, err := s.paymentRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		s.redisClient.Del(ctx, requestKey)
		span.RecordError(err)
		return nil, err
	}
	if payment.UserID != userID {
		s.redisClient.Del(ctx, requestKey)
		span.SetStatus(codes.Error, "payment user mismatch")
		return nil, pkgerrors.ErrPaymentNotFound
	}

	if err := s.paymentRepo.MarkCompleted(ctx, orderID); err != nil {
		s.redisClient.Del(ctx, requestKey)
		span.RecordError(err)
		return nil, err
	}

	description := fmt.Sprintf("Credits purchased - Payment ID: %s", paymentID)
	if _, err := s.creditLedger.Credit(ctx, userID, payment.CreditsPurchased, models.TypePurchase, description); err != nil {
		// The payment row is already completed; the credit must not be lost.
		// Surface loudly so the transaction can be replayed by support tooling.
		span.RecordError(err)
		span.SetStatus(codes.Error, "credit after payment failed")
		slog.Error("payment completed but credit failed", "user_id", userID, "order_id", orderID, "error", err)
		return nil, fmt.Errorf("%w: credit after payment failed", pkgerrors.ErrInternal)
	}

	payment.Status = models.PaymentCompleted
	slog.Info("payment verified", "user_id", userID, "order_id", orderID, "credits", payment.CreditsPurchased)
	return payment, nil
}

func (s *service) History(ctx context.Context, userID string, limit, offset int) ([]models.Payment, error) {
	return s.paymentRepo.ListByUser(ctx, userID, limit, offset)
}
