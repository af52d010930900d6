package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Ledger configuration
	TokenRulesPath  string
	DefaultPageSize int
	MaxPageSize     int

	// Solana deposit configuration
	SolanaRPCURL          string
	CustodyDepositAddress string
	// DepositTokenMints maps an SPL mint address to the ledger token it
	// credits. Native SOL transfers always credit "SOL".
	DepositTokenMints     map[string]string
	DepositSignatureLimit int

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Polling configuration
	DepositPollInterval time.Duration
	MinPollInterval     time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Ledger configuration
	cfg.TokenRulesPath = os.Getenv("TOKEN_RULES_PATH")

	pageSize, err := parseInt("DEFAULT_PAGE_SIZE", 10)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DefaultPageSize = pageSize
	}

	maxPageSize, err := parseInt("MAX_PAGE_SIZE", 100)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxPageSize = maxPageSize
	}

	if cfg.DefaultPageSize < 1 {
		errs = append(errs, fmt.Errorf("DEFAULT_PAGE_SIZE must be at least 1"))
	}
	if cfg.MaxPageSize < cfg.DefaultPageSize {
		errs = append(errs, fmt.Errorf("MAX_PAGE_SIZE (%d) cannot be less than DEFAULT_PAGE_SIZE (%d)",
			cfg.MaxPageSize, cfg.DefaultPageSize))
	}

	// Solana configuration
	cfg.SolanaRPCURL = getEnvOrDefault("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	cfg.CustodyDepositAddress = os.Getenv("CUSTODY_DEPOSIT_ADDRESS")

	mints, err := ParseMints(os.Getenv("DEPOSIT_TOKEN_MINTS"))
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DepositTokenMints = mints
	}

	limit, err := parseInt("DEPOSIT_SIGNATURE_LIMIT", 100)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DepositSignatureLimit = limit
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "ledgerwallet-deposits")

	// Polling configuration
	pollInterval, err := parseDuration("DEPOSIT_POLL_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DepositPollInterval = pollInterval
	}

	minInterval, err := parseDuration("MIN_POLL_INTERVAL", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinPollInterval = minInterval
	}

	if cfg.MinPollInterval > cfg.DepositPollInterval {
		errs = append(errs, fmt.Errorf("MIN_POLL_INTERVAL (%v) cannot be greater than DEPOSIT_POLL_INTERVAL (%v)",
			cfg.MinPollInterval, cfg.DepositPollInterval))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.DefaultPageSize < 1 {
		errs = append(errs, fmt.Errorf("DefaultPageSize must be at least 1"))
	}

	if c.MaxPageSize < c.DefaultPageSize {
		errs = append(errs, fmt.Errorf("MaxPageSize cannot be less than DefaultPageSize"))
	}

	if c.MinPollInterval > c.DepositPollInterval {
		errs = append(errs, fmt.Errorf("MinPollInterval cannot be greater than DepositPollInterval"))
	}

	if c.DepositPollInterval < time.Second {
		errs = append(errs, fmt.Errorf("DepositPollInterval must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// ValidateDepositPolling checks the settings the deposit worker needs on
// top of Validate.
func (c *Config) ValidateDepositPolling() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.CustodyDepositAddress == "" {
		return fmt.Errorf("configuration validation failed: CUSTODY_DEPOSIT_ADDRESS is required for deposit polling")
	}
	if c.SolanaRPCURL == "" {
		return fmt.Errorf("configuration validation failed: SOLANA_RPC_URL is required for deposit polling")
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// ParseMints parses "mint=SYMBOL,mint=SYMBOL" into a mint to token map.
func ParseMints(value string) (map[string]string, error) {
	mints := map[string]string{}
	if strings.TrimSpace(value) == "" {
		return mints, nil
	}
	for _, pair := range strings.Split(value, ",") {
		mint, symbol, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || mint == "" || symbol == "" {
			return nil, fmt.Errorf("DEPOSIT_TOKEN_MINTS: invalid entry %q, want mint=SYMBOL", pair)
		}
		mints[mint] = symbol
	}
	return mints, nil
}
