// Package config provides typed configuration for the governed client and
// candle cache, loaded from a JSON file with environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the complete application configuration.
type Config struct {
	Storage StorageConfig `json:"storage"`
	API     APIConfig     `json:"api"`
	Limits  LimitsConfig  `json:"limits"`
	Symbols SymbolsConfig `json:"symbols"`
	Logging LoggingConfig `json:"logging"`
}

// StorageConfig configures the cache backend.
type StorageConfig struct {
	Type string `json:"type" env:"CHRONOS_STORAGE_TYPE"` // "duckdb" or "memory"
	Path string `json:"path" env:"CHRONOS_STORAGE_PATH"` // database file, or ":memory:"
}

// APIConfig configures the provider session.
type APIConfig struct {
	LoginURL     string `json:"login_url" env:"CHRONOS_LOGIN_URL"`
	RefreshToken string `json:"refresh_token" env:"CHRONOS_REFRESH_TOKEN"`
	Timeout      string `json:"timeout" env:"CHRONOS_HTTP_TIMEOUT"`
	MaxRetries   int    `json:"max_retries" env:"CHRONOS_MAX_RETRIES"`
}

// LimitsConfig configures rate governance. Zero ceilings fall back to the
// provider's published limits.
type LimitsConfig struct {
	Enforce          bool `json:"enforce" env:"CHRONOS_ENFORCE_LIMITS"`
	MarketPerSecond  int  `json:"market_per_second" env:"CHRONOS_MARKET_PER_SECOND"`
	MarketPerHour    int  `json:"market_per_hour" env:"CHRONOS_MARKET_PER_HOUR"`
	AccountPerSecond int  `json:"account_per_second" env:"CHRONOS_ACCOUNT_PER_SECOND"`
	AccountPerHour   int  `json:"account_per_hour" env:"CHRONOS_ACCOUNT_PER_HOUR"`
}

// SymbolsConfig configures the symbol metadata cache.
type SymbolsConfig struct {
	MaxAge string `json:"max_age" env:"CHRONOS_SYMBOL_MAX_AGE"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"CHRONOS_LOG_LEVEL"`
	Format     string `json:"format" env:"CHRONOS_LOG_FORMAT"` // "json" or "text"
	Output     string `json:"output" env:"CHRONOS_LOG_OUTPUT"` // "stdout", "stderr", "file"
	FilePath   string `json:"file_path" env:"CHRONOS_LOG_FILE_PATH"`
	MaxSize    int    `json:"max_size" env:"CHRONOS_LOG_MAX_SIZE"` // MB
	MaxBackups int    `json:"max_backups" env:"CHRONOS_LOG_MAX_BACKUPS"`
	MaxAge     int    `json:"max_age" env:"CHRONOS_LOG_MAX_AGE"` // days
	Compress   bool   `json:"compress" env:"CHRONOS_LOG_COMPRESS"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Type: "duckdb",
			Path: "chronos.db",
		},
		API: APIConfig{
			LoginURL:   "https://login.questrade.com/oauth2/token",
			Timeout:    "30s",
			MaxRetries: 3,
		},
		Limits: LimitsConfig{
			Enforce: true,
		},
		Symbols: SymbolsConfig{
			MaxAge: "168h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load builds the configuration from defaults, an optional JSON file, a .env
// file when present, and finally environment variables. Later sources win.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	// A local .env is a convenience for development; absence is not an error.
	_ = godotenv.Load()

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the struct fields via their
// env tags.
func applyEnv(cfg *Config) {
	overlayStruct(&cfg.Storage)
	overlayStruct(&cfg.API)
	overlayStruct(&cfg.Limits)
	overlayStruct(&cfg.Symbols)
	overlayStruct(&cfg.Logging)
}

func overlayStruct(v any) {
	// Reflection-free overlay keeps the env mapping explicit per section.
	switch s := v.(type) {
	case *StorageConfig:
		setString(&s.Type, "CHRONOS_STORAGE_TYPE")
		setString(&s.Path, "CHRONOS_STORAGE_PATH")
	case *APIConfig:
		setString(&s.LoginURL, "CHRONOS_LOGIN_URL")
		setString(&s.RefreshToken, "CHRONOS_REFRESH_TOKEN")
		setString(&s.Timeout, "CHRONOS_HTTP_TIMEOUT")
		setInt(&s.MaxRetries, "CHRONOS_MAX_RETRIES")
	case *LimitsConfig:
		setBool(&s.Enforce, "CHRONOS_ENFORCE_LIMITS")
		setInt(&s.MarketPerSecond, "CHRONOS_MARKET_PER_SECOND")
		setInt(&s.MarketPerHour, "CHRONOS_MARKET_PER_HOUR")
		setInt(&s.AccountPerSecond, "CHRONOS_ACCOUNT_PER_SECOND")
		setInt(&s.AccountPerHour, "CHRONOS_ACCOUNT_PER_HOUR")
	case *SymbolsConfig:
		setString(&s.MaxAge, "CHRONOS_SYMBOL_MAX_AGE")
	case *LoggingConfig:
		setString(&s.Level, "CHRONOS_LOG_LEVEL")
		setString(&s.Format, "CHRONOS_LOG_FORMAT")
		setString(&s.Output, "CHRONOS_LOG_OUTPUT")
		setString(&s.FilePath, "CHRONOS_LOG_FILE_PATH")
		setInt(&s.MaxSize, "CHRONOS_LOG_MAX_SIZE")
		setInt(&s.MaxBackups, "CHRONOS_LOG_MAX_BACKUPS")
		setInt(&s.MaxAge, "CHRONOS_LOG_MAX_AGE")
		setBool(&s.Compress, "CHRONOS_LOG_COMPRESS")
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate checks the configuration for values that would fail at runtime.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "duckdb", "memory":
	default:
		return fmt.Errorf("invalid storage type %q (expected duckdb or memory)", c.Storage.Type)
	}
	if c.Storage.Type == "duckdb" && c.Storage.Path == "" {
		return fmt.Errorf("storage path is required for duckdb storage")
	}

	if _, err := c.HTTPTimeout(); err != nil {
		return fmt.Errorf("invalid api timeout: %w", err)
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if _, err := c.SymbolMaxAge(); err != nil {
		return fmt.Errorf("invalid symbol max age: %w", err)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("log file path is required when output is file")
	}
	return nil
}

// HTTPTimeout parses the API timeout duration.
func (c *Config) HTTPTimeout() (time.Duration, error) {
	if c.API.Timeout == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(c.API.Timeout)
}

// SymbolMaxAge parses the symbol cache staleness cutoff.
func (c *Config) SymbolMaxAge() (time.Duration, error) {
	if c.Symbols.MaxAge == "" {
		return 168 * time.Hour, nil
	}
	return time.ParseDuration(c.Symbols.MaxAge)
}
