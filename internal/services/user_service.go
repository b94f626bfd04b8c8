package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/i-aayush/whatif/internal/infrastructure/auth"
	"github.com/i-aayush/whatif/internal/infrastructure/redis"
	"github.com/i-aayush/whatif/internal/ledger"
	"github.com/i-aayush/whatif/internal/models"
	"github.com/i-aayush/whatif/internal/repository"
	pkgerrors "github.com/i-aayush/whatif/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"
)

type UserService interface {
	Register(ctx context.Context, email, name, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	Me(ctx context.Context, userID string) (*models.User, error)
}

type userService struct {
	userRepo     repository.UserRepository
	creditLedger ledger.Ledger
	redisClient  redis.RedisClient
	jwtSecret    string
	signupBonus  int64
}

func NewUserService(
	userRepo repository.UserRepository,
	creditLedger ledger.Ledger,
	redisClient redis.RedisClient,
	jwtSecret string,
	signupBonus int64,
) *userService {
	return &userService{
		userRepo:     userRepo,
		creditLedger: creditLedger,
		redisClient:  redisClient,
		jwtSecret:    jwtSecret,
		signupBonus:  signupBonus,
	}
}

func (s *userService) Register(ctx context.Context, email, name, password string) (*models.User, error) {
	tracer := otel.Tracer("user-service")
	ctx, span := tracer.Start(ctx, "Register")
	defer span.End()

	if email == "" || password == "" {
		span.SetStatus(codes.Error, "empty email or password")
		return nil, pkgerrors.ErrInvalidInput
	}

	existing, err := s.userRepo.GetByEmail(ctx, email)
	if existing != nil {
		span.SetStatus(codes.Error, "email already registered")
		slog.Warn("email already registered", "email", email, "existing_id", existing.ID)
		return nil, pkgerrors.ErrEmailExists
	}
	if err != nil && !stderrors.Is(err, pkgerrors.ErrUserNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user check failed")
		slog.Error("failed to check user existence", "email", email, "error", err)
		return nil, fmt.Errorf("%w: failed to check user existence", pkgerrors.ErrInternal)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "password hashing failed")
		slog.Error("failed to hash password", "email", email, "error", err)
		return nil, fmt.Errorf("%w: failed to hash password", pkgerrors.ErrInternal)
	}

	user := &models.User{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		// The balance cache starts at zero; credits arrive only through the
		// ledger so the cache always equals the transaction log.
		CreditsBalance: 0,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user creation failed")
		slog.Error("failed to create user", "email", email, "error", err)
		return nil, fmt.Errorf("%w: failed to create user", pkgerrors.ErrInternal)
	}

	if s.signupBonus > 0 {
		if _, err := s.creditLedger.Credit(ctx, user.ID, s.signupBonus, models.TypeBonus, "welcome bonus"); err != nil {
			slog.Error("failed to grant welcome bonus", "user_id", user.ID, "error", err)
		} else {
			user.CreditsBalance = s.signupBonus
		}
	}

	slog.Info("user registered", "user_id", user.ID, "email", email)
	return user, nil
}

func (s *userService) Login(ctx context.Context, email, password string) (string, error) {
	tracer := otel.Tracer("user-service")
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		slog.Error("failed to login", "email", email, "error", err)
		return "", pkgerrors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Error("invalid password", "email", email)
		return "", pkgerrors.ErrInvalidCredentials
	}

	token, err := auth.GenerateToken(user.ID, s.jwtSecret)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to generate JWT", "error", err)
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	if err := s.redisClient.Set(ctx, fmt.Sprintf("user:%s:token", user.ID), token, auth.TokenTTL); err != nil {
		slog.Error("failed to cache JWT", "user_id", user.ID, "error", err)
	}

	slog.Info("user logged in", "email", email, "user_id", user.ID)
	return token, nil
}

func (s *userService) Me(ctx context.Context, userID string) (*models.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}
