package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers []string
	JWTSecret    string

	ReplicateAPIBase string
	ReplicateToken   string

	S3Endpoint string
	S3Bucket   string

	PaymentSecret string
	SignupBonus   int64

	PollBaseInterval time.Duration
	PollMaxInterval  time.Duration
	PollMaxAttempts  int
	PollMaxTotal     time.Duration
	SweepSchedule    string
	SweepOlderThan   time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		PostgresDSN:      getEnv("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=whatif sslmode=disable"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:     []string{getEnv("KAFKA_BROKER", "localhost:9092")},
		JWTSecret:        getEnv("JWT_SECRET", "supersecret"),
		ReplicateAPIBase: getEnv("REPLICATE_API_BASE", "https://api.replicate.com"),
		ReplicateToken:   os.Getenv("REPLICATE_API_TOKEN"),
		S3Endpoint:       getEnv("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:         getEnv("S3_BUCKET", "whatif-artifacts"),
		PaymentSecret:    os.Getenv("PAYMENT_SECRET"),
		SignupBonus:      getEnvInt64("SIGNUP_BONUS_CREDITS", 5),
		PollBaseInterval: getEnvDuration("POLL_BASE_INTERVAL", 2*time.Second),
		PollMaxInterval:  getEnvDuration("POLL_MAX_INTERVAL", time.Minute),
		PollMaxAttempts:  getEnvInt("POLL_MAX_ATTEMPTS", 30),
		PollMaxTotal:     getEnvDuration("POLL_MAX_TOTAL", 30*time.Minute),
		SweepSchedule:    getEnv("SWEEP_SCHEDULE", "@every 5m"),
		SweepOlderThan:   getEnvDuration("SWEEP_OLDER_THAN", 10*time.Minute),
	}

	slog.Info("config loaded",
		"http_addr", cfg.HTTPAddr,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"replicate_api_base", cfg.ReplicateAPIBase,
		"s3_endpoint", cfg.S3Endpoint,
		"s3_bucket", cfg.S3Bucket,
		"signup_bonus", cfg.SignupBonus,
	)
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("invalid integer env value, using fallback", "key", key, "value", v)
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		slog.Warn("invalid integer env value, using fallback", "key", key, "value", v)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("invalid duration env value, using fallback", "key", key, "value", v)
	}
	return fallback
}
