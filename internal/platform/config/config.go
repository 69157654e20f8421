package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the ledger reads from the environment so main
// stays lean.
type Config struct {
	Addr string

	DatabaseURL string

	Redis RedisConfig

	KafkaBrokers []string
	KafkaTopic   string

	// PassSigningKey signs admission pass tokens. Shared secret: any holder
	// can validate a pass without a database round trip.
	PassSigningKey string
	PassTTL        time.Duration

	// JWTSigningKey validates caller identity tokens issued by the identity
	// provider.
	JWTSigningKey string

	OutboxBuffer       int
	EmitTimeout        time.Duration
	ConversionLookback time.Duration
	PayoutLockTTL      time.Duration
}

// RedisConfig holds connection settings for the Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from environment variables, with development
// defaults for everything except secrets in production.
func FromEnv() Config {
	cfg := Config{
		Addr:               envOr("DOORLEDGER_ADDR", ":8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		KafkaTopic:         envOr("KAFKA_TOPIC", "doorledger.domain-events"),
		PassSigningKey:     envOr("PASS_SIGNING_KEY", "dev-pass-secret-change-in-production"),
		PassTTL:            envDuration("PASS_TTL", 48*time.Hour),
		JWTSigningKey:      envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		OutboxBuffer:       envInt("OUTBOX_BUFFER", 256),
		EmitTimeout:        envDuration("EMIT_TIMEOUT", 2*time.Second),
		ConversionLookback: envDuration("CONVERSION_LOOKBACK", 7*24*time.Hour),
		PayoutLockTTL:      envDuration("PAYOUT_LOCK_TTL", 2*time.Minute),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	cfg.Redis = RedisConfig{
		URL:          os.Getenv("REDIS_URL"),
		PoolSize:     envInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
