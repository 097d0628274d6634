// Package config loads runtime configuration from the environment. A local
// .env file is honored in development; in production the variables come from
// the process environment.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values.
type Config struct {
	Env           string
	Port          string
	DatabaseURL   string
	JWTSecret     string
	AdminEmail    string
	AdminName     string
	AdminPassword string
	RedisAddr     string
	RedisPassword string
	CacheTTL      time.Duration
	AMQPURL       string
	OutboxWorkers int
}

// Load reads configuration from the environment. Required variables cause a
// fatal log when missing.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:           getenv("APP_ENV", "dev"),
		Port:          getenv("APP_PORT", "8080"),
		DatabaseURL:   must("DATABASE_URL"),
		JWTSecret:     must("JWT_SECRET"),
		AdminEmail:    getenv("ADMIN_EMAIL", ""),
		AdminName:     getenv("ADMIN_NAME", "Ledger Admin"),
		AdminPassword: getenv("ADMIN_PASSWORD", ""),
		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		CacheTTL:      getduration("CACHE_TTL_SECONDS", 5*time.Second),
		AMQPURL:       getenv("AMQP_URL", ""),
		OutboxWorkers: getint("OUTBOX_WORKERS", 2),
	}
}

func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, v)
	}
	return n
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, v)
	}
	return time.Duration(n) * time.Second
}
