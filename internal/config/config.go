// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Resolution engine
	SweepInterval    time.Duration // how often the timed-state sweep runs
	DecayInterval    time.Duration // how often passive risk decay is applied
	CASMaxRetries    int           // bounded retries on version conflicts
	ProbabilityFloor float64       // lowest resolvable success probability
	ProbabilityCeil  float64       // highest resolvable success probability
	CascadeMaxDepth  int
	CascadeMaxFanout int

	// Content-generation collaborator
	ContentURL     string        // base URL of the generation service (optional)
	ContentTimeout time.Duration // hard deadline per generation call
	ContentAPIKey  string

	// Notifications
	EventSecret string // default HMAC secret for event subscriptions

	// Tracing
	OTLPEndpoint string

	// Rate limiting
	RateLimitRPM int
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultSweepInterval    = 5 * time.Second
	DefaultDecayInterval    = time.Minute
	DefaultCASMaxRetries    = 3
	DefaultProbabilityFloor = 5.0
	DefaultProbabilityCeil  = 95.0
	DefaultCascadeMaxDepth  = 2
	DefaultCascadeMaxFanout = 5
	DefaultContentTimeout   = 3 * time.Second
	DefaultRateLimit        = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		DecayInterval:    getEnvDuration("DECAY_INTERVAL", DefaultDecayInterval),
		CASMaxRetries:    int(getEnvInt64("CAS_MAX_RETRIES", DefaultCASMaxRetries)),
		ProbabilityFloor: getEnvFloat("PROBABILITY_FLOOR", DefaultProbabilityFloor),
		ProbabilityCeil:  getEnvFloat("PROBABILITY_CEIL", DefaultProbabilityCeil),
		CascadeMaxDepth:  int(getEnvInt64("CASCADE_MAX_DEPTH", DefaultCascadeMaxDepth)),
		CascadeMaxFanout: int(getEnvInt64("CASCADE_MAX_FANOUT", DefaultCascadeMaxFanout)),
		ContentURL:       os.Getenv("CONTENT_URL"), // Optional, fallback tables used if not set
		ContentTimeout:   getEnvDuration("CONTENT_TIMEOUT", DefaultContentTimeout),
		ContentAPIKey:    os.Getenv("CONTENT_API_KEY"),
		EventSecret:      os.Getenv("EVENT_SECRET"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:     int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and coherent
func (c *Config) Validate() error {
	if c.ProbabilityFloor < 0 || c.ProbabilityCeil > 100 || c.ProbabilityFloor >= c.ProbabilityCeil {
		return fmt.Errorf("probability band [%.1f, %.1f] must satisfy 0 <= floor < ceil <= 100",
			c.ProbabilityFloor, c.ProbabilityCeil)
	}
	if c.CascadeMaxDepth < 1 {
		return fmt.Errorf("CASCADE_MAX_DEPTH must be at least 1")
	}
	if c.CascadeMaxFanout < 1 {
		return fmt.Errorf("CASCADE_MAX_FANOUT must be at least 1")
	}
	if c.CASMaxRetries < 1 {
		return fmt.Errorf("CAS_MAX_RETRIES must be at least 1")
	}
	if c.SweepInterval < time.Second {
		return fmt.Errorf("SWEEP_INTERVAL must be at least 1s")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
