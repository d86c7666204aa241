package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration for the landslide monitoring service.
type Config struct {
	Port        string
	DatabaseURL string

	// Detection service
	DetectionServiceURL string
	DetectionAPIKey     string

	// Optional collaborators; empty disables them
	OverpassURL string
	NatsURL     string

	// Job polling budgets
	PollInterval           time.Duration
	MaxPollAttempts        int
	MaxConsecutiveFailures int
	StatusCacheTTL         time.Duration

	// Monitoring check memoization window
	CheckCacheTTL time.Duration

	// Deduplication tolerance in degrees
	DedupTolerance float64
}

// Load reads configuration from environment variables and an optional
// .env file.
func Load() (*Config, error) {
	envPaths := []string{
		".env",
		"../.env",
		"/app/.env", // Docker
	}

	loaded := false
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			log.Info().Str("path", path).Msg("loaded config file")
			loaded = true
			break
		}
	}
	if !loaded {
		log.Info().Msg("no .env file found, using environment variables")
	}

	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		DetectionServiceURL: os.Getenv("DETECTION_SERVICE_URL"),
		DetectionAPIKey:     os.Getenv("DETECTION_API_KEY"),

		OverpassURL: os.Getenv("OVERPASS_URL"),
		NatsURL:     os.Getenv("NATS_URL"),

		PollInterval:           time.Duration(parseIntOrDefault("POLL_INTERVAL_SECONDS", 10)) * time.Second,
		MaxPollAttempts:        parseIntOrDefault("MAX_POLL_ATTEMPTS", 30),
		MaxConsecutiveFailures: parseIntOrDefault("MAX_CONSECUTIVE_FAILURES", 3),
		StatusCacheTTL:         time.Duration(parseIntOrDefault("STATUS_CACHE_TTL_SECONDS", 5)) * time.Second,

		CheckCacheTTL: time.Duration(parseIntOrDefault("CHECK_CACHE_TTL_SECONDS", 60)) * time.Second,

		DedupTolerance: parseFloatOrDefault("DEDUP_TOLERANCE_DEGREES", 0.0001),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and budgets
// are sane.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DetectionServiceURL == "" {
		return fmt.Errorf("DETECTION_SERVICE_URL is required")
	}
	if c.MaxPollAttempts <= 0 {
		return fmt.Errorf("MAX_POLL_ATTEMPTS must be positive")
	}
	if c.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("MAX_CONSECUTIVE_FAILURES must be positive")
	}
	if c.DedupTolerance <= 0 {
		return fmt.Errorf("DEDUP_TOLERANCE_DEGREES must be positive")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseFloat(value, 64); err == nil {
			return result
		}
	}
	return defaultValue
}
