package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/i-aayush/whatif/internal/api"
	"github.com/i-aayush/whatif/internal/config"
	"github.com/i-aayush/whatif/internal/handler"
	"github.com/i-aayush/whatif/internal/inference"
	"github.com/i-aayush/whatif/internal/infrastructure/kafka"
	"github.com/i-aayush/whatif/internal/infrastructure/redis"
	"github.com/i-aayush/whatif/internal/ledger"
	"github.com/i-aayush/whatif/internal/observability"
	"github.com/i-aayush/whatif/internal/payments"
	core "github.com/i-aayush/whatif/internal/repository/postgres"
	"github.com/i-aayush/whatif/internal/runs"
	service "github.com/i-aayush/whatif/internal/services"
	"github.com/i-aayush/whatif/internal/storage"
	_ "github.com/lib/pq"
)

func main() {
	shutdown, _ := observability.Setup("whatif-backend")
	defer shutdown(context.Background())

	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	userRepo := core.NewPostgresUserRepository(db)
	transactionRepo := core.NewPostgresTransactionRepository(db)
	runRepo := core.NewPostgresRunRepository(db)
	paymentRepo := core.NewPostgresPaymentRepository(db)

	redisClient, err := redis.NewClient(cfg.RedisAddr)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	creditEvents := kafka.NewProducer(cfg.KafkaBrokers, "credit-transactions")
	runEvents := kafka.NewProducer(cfg.KafkaBrokers, "runs")
	defer creditEvents.Close()
	defer runEvents.Close()

	creditLedger := ledger.NewCreditLedger(userRepo, transactionRepo, redisClient, creditEvents)
	userService := service.NewUserService(userRepo, creditLedger, redisClient, cfg.JWTSecret, cfg.SignupBonus)

	inferenceClient := inference.NewHTTPClient(cfg.ReplicateAPIBase, cfg.ReplicateToken)
	artifacts := storage.NewS3Store(cfg.S3Endpoint, cfg.S3Bucket)

	controller := runs.NewController(runRepo, creditLedger, inferenceClient, artifacts, runEvents, runs.PollConfig{
		BaseInterval:     cfg.PollBaseInterval,
		MaxInterval:      cfg.PollMaxInterval,
		MaxAttempts:      cfg.PollMaxAttempts,
		MaxTotalDuration: cfg.PollMaxTotal,
	})

	sweeper := runs.NewSweeper(controller, cfg.SweepSchedule, cfg.SweepOlderThan)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("Failed to start run sweeper: %v", err)
	}
	defer sweeper.Stop()

	gateway := payments.NewHMACGateway(cfg.PaymentSecret)
	paymentService := payments.NewService(paymentRepo, creditLedger, gateway, redisClient)

	h := handler.NewHandler(userService, creditLedger, controller, paymentService)
	router := api.SetupRouter(h, redisClient, cfg.JWTSecret)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
