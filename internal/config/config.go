// Package config provides centralized configuration management for the trade collector.
// This module handles configuration loading from multiple sources (defaults, a JSON file,
// a .env file and environment variables), validation, and provides typed configuration
// structures for the exchange client, the sync run, storage, logging and metrics.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "github.com/johnayoung/go-trade-collector/internal/errors"
)

// EnvPrefix prefixes every environment variable the collector reads, except
// DATABASE_URL which is accepted unprefixed.
const EnvPrefix = "TRADESYNC_"

// DefaultConfigPath is used when neither a flag nor CONFIG_PATH names a file.
const DefaultConfigPath = "tradesync.json"

// AppConfig represents the complete application configuration
type AppConfig struct {
	// Application metadata
	AppName    string `json:"app_name"`
	Version    string `json:"version"`
	ConfigPath string `json:"-"`

	// Exchange configuration
	Exchange ExchangeConfig `json:"exchange"`

	// Sync run configuration
	Sync SyncConfig `json:"sync"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `json:"metrics"`
}

// ExchangeConfig configures the exchange client
type ExchangeConfig struct {
	BaseURL     string            `json:"base_url"`     // API root, endpoints are appended to it
	Timeout     string            `json:"timeout"`      // HTTP request timeout
	RateLimit   float64           `json:"rate_limit"`   // Requests per second, 0 disables limiting
	UserAgent   string            `json:"user_agent"`   // User-Agent header
	RetryPolicy RetryPolicyConfig `json:"retry_policy"` // Retry configuration for transport errors
}

// RetryPolicyConfig configures retry behavior
type RetryPolicyConfig struct {
	MaxAttempts  int    `json:"max_attempts"`  // Total attempts, 1 disables retry
	InitialDelay string `json:"initial_delay"` // Initial delay between retries
	MaxDelay     string `json:"max_delay"`     // Maximum delay between retries
	Jitter       bool   `json:"jitter"`        // Add randomness to delays
}

// SyncConfig configures what a sync run collects
type SyncConfig struct {
	Pairs     []string `json:"pairs"`      // Pairs to collect, e.g. ETHEUR or ETH/EUR
	Since     int64    `json:"since"`      // Starting cursor in Unix nanoseconds
	Until     int64    `json:"until"`      // Upper bound in Unix nanoseconds, 0 runs until exhausted
	BatchSize int      `json:"batch_size"` // Trades buffered before each sink write
	Resume    bool     `json:"resume"`     // Start from the latest stored trade when it is ahead of Since
}

// StorageConfig configures the storage backend
type StorageConfig struct {
	Type         string `json:"type"`          // "memory", "duckdb", "postgres"
	DatabaseURL  string `json:"database_url"`  // File path for DuckDB, connection string for PostgreSQL
	BatchSize    int    `json:"batch_size"`    // Maximum rows per bulk insert
	MaxConns     int    `json:"max_conns"`     // Maximum database connections
	QueryTimeout string `json:"query_timeout"` // Query execution timeout
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level"`          // Log level: debug, info, warn, error
	Format        string            `json:"format"`         // Log format: json, text
	Output        string            `json:"output"`         // Output: stdout, stderr, file
	FilePath      string            `json:"file_path"`      // Log file path
	MaxSize       int               `json:"max_size"`       // Maximum log file size in MB
	MaxBackups    int               `json:"max_backups"`    // Maximum log file backups
	MaxAge        int               `json:"max_age"`        // Maximum log file age in days
	Compress      bool              `json:"compress"`       // Compress old log files
	ContextFields map[string]string `json:"context_fields"` // Additional context fields
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"` // Serve metrics during sync runs
	Addr    string `json:"addr"`    // Listen address, e.g. ":9090"
	Path    string `json:"path"`    // Metrics endpoint path
}

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	config     *AppConfig
	configPath string
	envFile    string
	logger     *slog.Logger
}

// NewConfigManager creates a new configuration manager
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigManager{
		configPath: configPath,
		envFile:    ".env",
		logger:     logger,
	}
}

// WithEnvFile sets the dotenv file read before the environment. An empty
// path disables dotenv loading.
func (cm *ConfigManager) WithEnvFile(path string) *ConfigManager {
	cm.envFile = path
	return cm
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority)
// 2. .env file (never overrides variables already set)
// 3. Configuration file
// 4. Default values (lowest priority)
//
// Every failure is a config error.
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	config := DefaultConfig()
	config.ConfigPath = cm.configPath

	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, apperrors.Config("load config", fmt.Errorf("failed to load config from file: %w", err))
		}
	}

	if err := cm.loadDotEnv(); err != nil {
		return nil, apperrors.Config("load config", err)
	}

	if err := cm.loadFromEnv(config); err != nil {
		return nil, apperrors.Config("load config", fmt.Errorf("failed to load config from environment: %w", err))
	}

	if err := cm.validateConfig(config); err != nil {
		return nil, apperrors.Config("validate config", fmt.Errorf("configuration validation failed: %w", err))
	}

	cm.config = config
	cm.logger.Debug("configuration loaded successfully",
		"config_path", cm.configPath,
		"storage_type", config.Storage.Type,
		"pairs", config.Sync.Pairs,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile loads configuration from a JSON file
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

func (cm *ConfigManager) loadDotEnv() error {
	if cm.envFile == "" {
		return nil
	}
	if err := godotenv.Load(cm.envFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", cm.envFile, err)
	}
	cm.logger.Debug("loaded environment file", "path", cm.envFile)
	return nil
}

// loadFromEnv loads configuration from environment variables
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	var errs []string

	setInt := func(key string, dst *int) {
		if val := os.Getenv(EnvPrefix + key); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %q is not an integer", EnvPrefix, key, val))
				return
			}
			*dst = n
		}
	}
	setInt64 := func(key string, dst *int64) {
		if val := os.Getenv(EnvPrefix + key); val != "" {
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %q is not an integer", EnvPrefix, key, val))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if val := os.Getenv(EnvPrefix + key); val != "" {
			b, err := strconv.ParseBool(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %q is not a boolean", EnvPrefix, key, val))
				return
			}
			*dst = b
		}
	}
	setString := func(key string, dst *string) {
		if val := os.Getenv(EnvPrefix + key); val != "" {
			*dst = val
		}
	}

	// Load exchange config
	setString("BASE_URL", &config.Exchange.BaseURL)
	setString("HTTP_TIMEOUT", &config.Exchange.Timeout)
	setString("USER_AGENT", &config.Exchange.UserAgent)
	if val := os.Getenv(EnvPrefix + "RATE_LIMIT"); val != "" {
		if rateLimit, err := strconv.ParseFloat(val, 64); err == nil {
			config.Exchange.RateLimit = rateLimit
		} else {
			errs = append(errs, fmt.Sprintf("%sRATE_LIMIT: %q is not a number", EnvPrefix, val))
		}
	}
	setInt("RETRY_ATTEMPTS", &config.Exchange.RetryPolicy.MaxAttempts)

	// Load sync config
	if val := os.Getenv(EnvPrefix + "PAIRS"); val != "" {
		config.Sync.Pairs = splitList(val)
	}
	setInt64("SINCE", &config.Sync.Since)
	setInt64("UNTIL", &config.Sync.Until)
	setInt("BATCH_SIZE", &config.Sync.BatchSize)
	setBool("RESUME", &config.Sync.Resume)

	// Load storage config
	setString("STORAGE_TYPE", &config.Storage.Type)
	if val := os.Getenv("DATABASE_URL"); val != "" {
		config.Storage.DatabaseURL = val
	}
	setString("DATABASE_URL", &config.Storage.DatabaseURL)
	setInt("MAX_CONNS", &config.Storage.MaxConns)

	// Load logging config
	setString("LOG_LEVEL", &config.Logging.Level)
	setString("LOG_FORMAT", &config.Logging.Format)
	setString("LOG_OUTPUT", &config.Logging.Output)
	setString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Load metrics config
	setBool("METRICS_ENABLED", &config.Metrics.Enabled)
	setString("METRICS_ADDR", &config.Metrics.Addr)

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	cm.logger.Debug("loaded configuration from environment variables")
	return nil
}

// validateConfig validates the configuration for consistency and required fields
func (cm *ConfigManager) validateConfig(config *AppConfig) error {
	var errors []string

	// Validate exchange configuration
	if config.Exchange.BaseURL == "" {
		errors = append(errors, "exchange.base_url is required")
	} else if u, err := url.Parse(config.Exchange.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, "exchange.base_url must be an absolute URL")
	}
	if _, err := time.ParseDuration(config.Exchange.Timeout); err != nil {
		errors = append(errors, fmt.Sprintf("exchange.timeout is not a valid duration: %v", err))
	}
	if config.Exchange.RateLimit < 0 {
		errors = append(errors, "exchange.rate_limit must not be negative")
	}
	if config.Exchange.RetryPolicy.MaxAttempts < 1 {
		errors = append(errors, "exchange.retry_policy.max_attempts must be at least 1")
	}
	for name, value := range map[string]string{
		"initial_delay": config.Exchange.RetryPolicy.InitialDelay,
		"max_delay":     config.Exchange.RetryPolicy.MaxDelay,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			errors = append(errors, fmt.Sprintf("exchange.retry_policy.%s is not a valid duration: %v", name, err))
		}
	}

	// Validate sync configuration
	if len(config.Sync.Pairs) == 0 {
		errors = append(errors, "sync.pairs must name at least one pair")
	}
	if config.Sync.Since < 0 {
		errors = append(errors, "sync.since must not be negative")
	}
	if config.Sync.Until < 0 {
		errors = append(errors, "sync.until must not be negative")
	}
	if config.Sync.Until > 0 && config.Sync.Until <= config.Sync.Since {
		errors = append(errors, "sync.until must be greater than sync.since")
	}
	if config.Sync.BatchSize <= 0 {
		errors = append(errors, "sync.batch_size must be greater than 0")
	}

	// Validate storage configuration
	validStorageTypes := map[string]bool{"memory": true, "duckdb": true, "postgres": true}
	if config.Storage.Type == "" {
		errors = append(errors, "storage.type is required")
	} else if !validStorageTypes[config.Storage.Type] {
		errors = append(errors, "storage.type must be one of: memory, duckdb, postgres")
	}
	if (config.Storage.Type == "duckdb" || config.Storage.Type == "postgres") && config.Storage.DatabaseURL == "" {
		errors = append(errors, fmt.Sprintf("storage.database_url is required for %s storage", config.Storage.Type))
	}
	if config.Storage.BatchSize <= 0 {
		errors = append(errors, "storage.batch_size must be greater than 0")
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}

	if config.Logging.Output == "file" && config.Logging.FilePath == "" {
		errors = append(errors, "logging.file_path is required when logging.output is file")
	}

	// Validate metrics configuration
	if config.Metrics.Enabled && config.Metrics.Addr == "" {
		errors = append(errors, "metrics.addr is required when metrics are enabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "tradesync",
		Version: "1.0.0",
		Exchange: ExchangeConfig{
			BaseURL:   "https://api.kraken.com/0/public",
			Timeout:   "30s",
			RateLimit: 1,
			UserAgent: "go-trade-collector/1.0",
			RetryPolicy: RetryPolicyConfig{
				MaxAttempts:  3,
				InitialDelay: "1s",
				MaxDelay:     "30s",
				Jitter:       true,
			},
		},
		Sync: SyncConfig{
			Pairs:     []string{"ETHEUR"},
			Since:     1575100000000000000,
			Until:     0,
			BatchSize: 1000,
			Resume:    false,
		},
		Storage: StorageConfig{
			Type:         "duckdb",
			DatabaseURL:  "./data/trades.db",
			BatchSize:    1000,
			MaxConns:     4,
			QueryTimeout: "30s",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "",
			MaxSize:    100, // 100MB
			MaxBackups: 5,
			MaxAge:     30, // 30 days
			Compress:   true,
			ContextFields: map[string]string{
				"service": "tradesync",
			},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
			Path:    "/metrics",
		},
	}
}

// TimeoutDuration returns the parsed request timeout.
func (e ExchangeConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(e.Timeout)
	return d
}

// InitialDelayDuration returns the parsed initial retry delay.
func (r RetryPolicyConfig) InitialDelayDuration() time.Duration {
	d, _ := time.ParseDuration(r.InitialDelay)
	return d
}

// MaxDelayDuration returns the parsed maximum retry delay.
func (r RetryPolicyConfig) MaxDelayDuration() time.Duration {
	d, _ := time.ParseDuration(r.MaxDelay)
	return d
}

// QueryTimeoutDuration returns the parsed query timeout, or zero when unset.
func (s StorageConfig) QueryTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(s.QueryTimeout)
	return d
}

// String returns a string representation of the configuration (excluding sensitive data)
func (c *AppConfig) String() string {
	sanitized := *c
	if u, err := url.Parse(c.Storage.DatabaseURL); err == nil && u.User != nil {
		sanitized.Storage.DatabaseURL = u.Redacted()
	}

	data, _ := json.MarshalIndent(&sanitized, "", "  ")
	return string(data)
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
