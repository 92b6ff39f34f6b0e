package config

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/caldsync/caldsync/internal/validator"
	"github.com/joho/godotenv"
)

var (
	ErrMissingConfig     = errors.New("missing required configuration")
	ErrInvalidConfig     = errors.New("invalid configuration value")
	ErrEncryptionKeySize = errors.New("encryption key must be exactly 32 bytes (64 hex characters)")
	ErrValidationFailed  = errors.New("configuration validation failed")
)

// Environment represents the deployment environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	Security     SecurityConfig
	Database     DatabaseConfig
	Discovery    DiscoveryConfig
	Remote       RemoteConfig
	RateLimiting RateLimitConfig
	Sync         SyncConfig
	Notify       NotifyConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        int
	Environment Environment
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	EncryptionKey []byte
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string
}

// DiscoveryConfig holds calendar discovery configuration.
type DiscoveryConfig struct {
	Strategies     []string
	TimeoutSeconds int
}

// RemoteConfig holds outbound CalDAV request configuration.
type RemoteConfig struct {
	RPS   float64
	Burst int
}

// RateLimitConfig holds admin API rate limiting configuration.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// SyncConfig holds sync interval configuration.
type SyncConfig struct {
	MinInterval     int
	MaxInterval     int
	DefaultInterval int
}

// NotifyConfig holds change notification configuration.
type NotifyConfig struct {
	WebhookURL string
}

// defaultStrategies is the discovery order used when DISCOVERY_STRATEGIES is unset.
const defaultStrategies = "builtin,well-known,root,bruteforce"

// Load loads configuration from environment variables.
// It attempts to load from .env file first, but continues if not found.
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load() //nolint:errcheck // Intentionally ignore - .env file is optional

	cfg := &Config{}

	// Server configuration
	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%w: PORT: %w", ErrInvalidConfig, err)
	}
	cfg.Server.Port = port
	cfg.Server.Environment = Environment(strings.ToLower(getEnv("ENVIRONMENT", "production")))

	// Security configuration
	encKeyHex := getEnvRequired("ENCRYPTION_KEY")
	if encKeyHex != "" {
		encKey, err := hex.DecodeString(encKeyHex)
		if err != nil {
			return nil, fmt.Errorf("%w: ENCRYPTION_KEY: invalid hex: %w", ErrInvalidConfig, err)
		}
		if len(encKey) != 32 {
			return nil, ErrEncryptionKeySize
		}
		cfg.Security.EncryptionKey = encKey
	}

	// Database configuration
	cfg.Database.Path = getEnv("DATABASE_PATH", "./data/caldsync.db")

	// Discovery configuration
	cfg.Discovery.Strategies = splitList(getEnv("DISCOVERY_STRATEGIES", defaultStrategies))
	discoveryTimeout, err := getEnvInt("DISCOVERY_TIMEOUT", 10)
	if err != nil {
		return nil, fmt.Errorf("%w: DISCOVERY_TIMEOUT: %w", ErrInvalidConfig, err)
	}
	cfg.Discovery.TimeoutSeconds = discoveryTimeout

	// Outbound request configuration
	remoteRPS, err := getEnvFloat("REMOTE_RATE_LIMIT_RPS", 5.0)
	if err != nil {
		return nil, fmt.Errorf("%w: REMOTE_RATE_LIMIT_RPS: %w", ErrInvalidConfig, err)
	}
	cfg.Remote.RPS = remoteRPS

	remoteBurst, err := getEnvInt("REMOTE_RATE_LIMIT_BURST", 10)
	if err != nil {
		return nil, fmt.Errorf("%w: REMOTE_RATE_LIMIT_BURST: %w", ErrInvalidConfig, err)
	}
	cfg.Remote.Burst = remoteBurst

	// Rate limiting configuration
	rps, err := getEnvFloat("RATE_LIMIT_RPS", 10.0)
	if err != nil {
		return nil, fmt.Errorf("%w: RATE_LIMIT_RPS: %w", ErrInvalidConfig, err)
	}
	cfg.RateLimiting.RPS = rps

	burst, err := getEnvInt("RATE_LIMIT_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("%w: RATE_LIMIT_BURST: %w", ErrInvalidConfig, err)
	}
	cfg.RateLimiting.Burst = burst

	// Sync configuration
	minInterval, err := getEnvInt("MIN_SYNC_INTERVAL", 30)
	if err != nil {
		return nil, fmt.Errorf("%w: MIN_SYNC_INTERVAL: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.MinInterval = minInterval

	maxInterval, err := getEnvInt("MAX_SYNC_INTERVAL", 3600)
	if err != nil {
		return nil, fmt.Errorf("%w: MAX_SYNC_INTERVAL: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.MaxInterval = maxInterval

	defaultInterval, err := getEnvInt("DEFAULT_SYNC_INTERVAL", 300)
	if err != nil {
		return nil, fmt.Errorf("%w: DEFAULT_SYNC_INTERVAL: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.DefaultInterval = defaultInterval

	// Notification configuration
	cfg.Notify.WebhookURL = getEnv("WEBHOOK_URL", "")

	// Check for missing required configuration
	missing := cfg.getMissingRequired()
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}

	return cfg, nil
}

// getMissingRequired returns a list of missing required configuration values.
func (c *Config) getMissingRequired() []string {
	var missing []string

	if len(c.Security.EncryptionKey) == 0 {
		missing = append(missing, "ENCRYPTION_KEY")
	}

	return missing
}

// Validate validates configured URLs and value ranges.
func (c *Config) Validate(ctx context.Context) error {
	v := validator.New()

	if c.Notify.WebhookURL != "" {
		if err := v.ValidateURL(c.Notify.WebhookURL, c.IsProduction()); err != nil {
			return fmt.Errorf("%w: WEBHOOK_URL: %w", ErrValidationFailed, err)
		}
	}

	if c.Sync.MinInterval <= 0 || c.Sync.MaxInterval < c.Sync.MinInterval {
		return fmt.Errorf("%w: sync interval bounds are inconsistent", ErrValidationFailed)
	}
	if c.Sync.DefaultInterval < c.Sync.MinInterval || c.Sync.DefaultInterval > c.Sync.MaxInterval {
		return fmt.Errorf("%w: DEFAULT_SYNC_INTERVAL outside min/max bounds", ErrValidationFailed)
	}

	if len(c.Discovery.Strategies) == 0 {
		return fmt.Errorf("%w: DISCOVERY_STRATEGIES is empty", ErrValidationFailed)
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// splitList splits a comma-separated value, trimming whitespace and dropping empties.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvRequired returns the value of an environment variable.
// Returns empty string if not set (caller should check for required values).
func getEnvRequired(key string) string {
	return os.Getenv(key)
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	return parsed, nil
}

// getEnvFloat returns the float value of an environment variable or a default.
func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float: %w", err)
	}
	return parsed, nil
}
