// Package config loads escrowd settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/satsprocure/escrow/internal/logger"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Config holds daemon settings. Field names in validation errors are the
// environment variable names.
type Config struct {
	// Storage
	Store         string `env:"ESCROW_STORE" validate:"oneof=memory sqlite postgres mongo"`
	SQLitePath    string `env:"ESCROW_SQLITE_PATH" validate:"required_if=Store sqlite"`
	PostgresURL   string `env:"ESCROW_POSTGRES_URL" validate:"required_if=Store postgres"`
	MongoURI      string `env:"ESCROW_MONGO_URI" validate:"required_if=Store mongo"`
	MongoDatabase string `env:"ESCROW_MONGO_DATABASE" validate:"required_if=Store mongo"`

	// Coordination
	RedisAddress string        `env:"ESCROW_REDIS_ADDRESS" validate:"omitempty,hostname_port"`
	LockTimeout  time.Duration `env:"ESCROW_LOCK_TIMEOUT" validate:"gt=0"`

	// Ledger policy
	BuyerOnlyPayments bool `env:"ESCROW_BUYER_ONLY_PAYMENTS"`
	StrictInvariants  bool `env:"ESCROW_STRICT_INVARIANTS"`

	// HTTP
	HTTPAddr       string `env:"ESCROW_HTTP_ADDR" validate:"required"`
	MetricsEnabled bool   `env:"ESCROW_METRICS_ENABLED"`

	// Logging
	LogLevel      string `env:"LOG_LEVEL" validate:"oneof=trace debug info warn error"`
	LogFormat     string `env:"LOG_FORMAT" validate:"oneof=json console"`
	LogTimeFormat string `env:"LOG_TIME_FORMAT"`
	LogOutput     string `env:"LOG_OUTPUT"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Store:         getEnv("ESCROW_STORE", StoreMemory),
		SQLitePath:    getEnv("ESCROW_SQLITE_PATH", "data/escrow.db"),
		PostgresURL:   getEnv("ESCROW_POSTGRES_URL", ""),
		MongoURI:      getEnv("ESCROW_MONGO_URI", ""),
		MongoDatabase: getEnv("ESCROW_MONGO_DATABASE", "escrow"),
		RedisAddress:  getEnv("ESCROW_REDIS_ADDRESS", ""),
		HTTPAddr:      getEnv("ESCROW_HTTP_ADDR", ":8080"),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:     strings.ToLower(getEnv("LOG_FORMAT", "console")),
		LogTimeFormat: getEnv("LOG_TIME_FORMAT", time.RFC3339),
		LogOutput:     getEnv("LOG_OUTPUT", "stdout"),
	}

	var errs []error
	var err error
	if cfg.LockTimeout, err = getDuration("ESCROW_LOCK_TIMEOUT", 5*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.BuyerOnlyPayments, err = getBool("ESCROW_BUYER_ONLY_PAYMENTS", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.StrictInvariants, err = getBool("ESCROW_STRICT_INVARIANTS", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.MetricsEnabled, err = getBool("ESCROW_METRICS_ENABLED", true); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(errs...))
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("env")
	})
	return v
}()

func (c *Config) validate() error {
	err := validate.Struct(c)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required", "required_if":
			errs = append(errs, fmt.Errorf("%s is required", fe.Field()))
		case "oneof":
			errs = append(errs, fmt.Errorf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value()))
		default:
			errs = append(errs, fmt.Errorf("%s is invalid (%s)", fe.Field(), fe.Tag()))
		}
	}
	return errors.Join(errs...)
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
