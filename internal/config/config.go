// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the service configuration.
type Config struct {
	Port        string
	DatabaseURL string // empty = in-memory store (dev only)
	RedisURL    string // empty = no cache layer
	CacheTTL    time.Duration
}

// Load reads configuration from a .env file (if present) and the process
// environment. Environment variables win over .env values.
func Load() (Config, error) {
	// Missing .env is fine; env vars alone are a full configuration.
	_ = godotenv.Load()

	cfg := Config{
		Port:        os.Getenv("PORT"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		CacheTTL:    30 * time.Second,
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	if raw := os.Getenv("CACHE_TTL_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid CACHE_TTL_SECONDS: %q", raw)
		}
		cfg.CacheTTL = time.Duration(seconds) * time.Second
	}

	return cfg, nil
}
