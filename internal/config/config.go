package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	CRDBDSN      string
	MongoURI     string
	RedisAddr    string
	RabbitURL    string
	HTTPAddr     string
	OTLPEndpoint string

	// ExpiryWindow is how long a Pending booking waits for a host response
	// before the expiry sweep refunds it.
	ExpiryWindow time.Duration
	// ExpirySweepInterval and ReleaseSweepInterval drive the two lifecycle
	// sweeps.
	ExpirySweepInterval  time.Duration
	ReleaseSweepInterval time.Duration

	// ServiceFeeRate is the platform fee as a fraction of the booking
	// subtotal.
	ServiceFeeRate float64

	IdempotencyTTL  time.Duration
	ListingCacheTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		HTTPAddr:     envOr("HTTP_ADDR", ":8080"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		ExpiryWindow:         durationOr("EXPIRY_WINDOW", time.Hour),
		ExpirySweepInterval:  durationOr("EXPIRY_SWEEP_INTERVAL", time.Minute),
		ReleaseSweepInterval: durationOr("RELEASE_SWEEP_INTERVAL", 5*time.Minute),

		ServiceFeeRate: floatOr("SERVICE_FEE_RATE", 0.10),

		IdempotencyTTL:  durationOr("IDEMPOTENCY_TTL", time.Hour),
		ListingCacheTTL: durationOr("LISTING_CACHE_TTL", 5*time.Minute),
	}, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationOr(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d == 0 {
		return def
	}
	return d
}

func floatOr(key string, def float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return f
}
