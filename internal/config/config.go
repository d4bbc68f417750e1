// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ybdigitall/closai/internal/kvstore"
	"github.com/ybdigitall/closai/internal/logging"
	"github.com/ybdigitall/closai/pkg/entitlement"
)

// Config holds all runtime configuration.
type Config struct {
	DataDir           string
	StoreBackend      string
	LogLevel          string
	LogFormat         string
	LogFile           string
	Language          entitlement.Language
	Timezone          string
	Location          *time.Location
	MetricsAddr       string
	ConversionEnabled bool
	DisabledSurfaces  []string
	OracleTimeout     time.Duration
	EnvPath           string
}

// ConversionDBPath returns the funnel telemetry database path.
func (c *Config) ConversionDBPath() string {
	return filepath.Join(c.DataDir, "conversion", "conversion.db")
}

// LoggingConfig maps the logging settings onto logging.Config.
func (c *Config) LoggingConfig(component string) logging.Config {
	return logging.Config{
		Format:    c.LogFormat,
		Level:     c.LogLevel,
		Component: component,
		FilePath:  c.LogFile,
	}
}

// Load reads configuration from environment variables. A .env file
// (CLOSAI_ENV_FILE, default ./.env) is loaded if present but not required.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	envPath := envOrDefault("CLOSAI_ENV_FILE", ".env")
	_ = godotenv.Load(envPath)

	conversionEnabled, err := envOrDefaultBool("CLOSAI_CONVERSION_ENABLED", true)
	if err != nil {
		return nil, err
	}
	oracleTimeout, err := envOrDefaultDuration("CLOSAI_ORACLE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:           envOrDefault("CLOSAI_DATA_DIR", "./data"),
		StoreBackend:      strings.ToLower(envOrDefault("CLOSAI_STORE", kvstore.BackendSQLite)),
		LogLevel:          envOrDefault("CLOSAI_LOG_LEVEL", "info"),
		LogFormat:         envOrDefault("CLOSAI_LOG_FORMAT", "auto"),
		LogFile:           strings.TrimSpace(os.Getenv("CLOSAI_LOG_FILE")),
		Language:          entitlement.Language(strings.ToLower(envOrDefault("CLOSAI_LANGUAGE", string(entitlement.LanguageEnglish)))),
		Timezone:          envOrDefault("CLOSAI_TIMEZONE", "Local"),
		MetricsAddr:       strings.TrimSpace(os.Getenv("CLOSAI_METRICS_ADDR")),
		ConversionEnabled: conversionEnabled,
		DisabledSurfaces:  splitList(os.Getenv("CLOSAI_CONVERSION_DISABLED_SURFACES")),
		OracleTimeout:     oracleTimeout,
		EnvPath:           envPath,
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case kvstore.BackendSQLite, kvstore.BackendFile, kvstore.BackendMemory:
	default:
		return fmt.Errorf("CLOSAI_STORE must be one of sqlite, file, memory, got %q", c.StoreBackend)
	}
	if !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("CLOSAI_LOG_LEVEL is not a valid level: %q", c.LogLevel)
	}
	if !logging.ValidFormat(c.LogFormat) {
		return fmt.Errorf("CLOSAI_LOG_FORMAT must be auto, json or console, got %q", c.LogFormat)
	}
	if c.Language != entitlement.LanguageEnglish && c.Language != entitlement.LanguageTurkish {
		return fmt.Errorf("CLOSAI_LANGUAGE must be en or tr, got %q", c.Language)
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("CLOSAI_TIMEZONE must be a valid IANA zone: %w", err)
	}
	c.Location = loc
	if c.OracleTimeout <= 0 {
		return fmt.Errorf("CLOSAI_ORACLE_TIMEOUT must be greater than 0, got %s", c.OracleTimeout)
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return fmt.Errorf("CLOSAI_METRICS_ADDR must be host:port: %w", err)
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) (bool, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s must be a valid boolean: %w", key, err)
		}
		return b, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

// splitList parses a comma-separated list, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
