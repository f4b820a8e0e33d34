// Package config provides centralized configuration management for Gatekeeper services.
// It uses envconfig for environment variable loading and validator for validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/rafaeljc/gatekeeper/internal/validation"
)

const (
	// EnvironmentProduction is the production environment identifier
	EnvironmentProduction = "production"

	envPrefix = "GATEKEEPER"
)

// Config holds the complete application configuration.
type Config struct {
	App           AppConfig           `envconfig:"APP"`
	Server        ServerConfig        `envconfig:"SERVER"`
	Rules         RulesConfig         `envconfig:"RULES"`
	Plans         PlansConfig         `envconfig:"PLANS"`
	Member        MemberConfig        `envconfig:"MEMBER"`
	Database      DatabaseConfig      `envconfig:"DB"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	Syncer        SyncerConfig        `envconfig:"SYNCER"`
	Observability ObservabilityConfig `envconfig:"OBSERVABILITY"`
}

// AppConfig contains core application settings.
type AppConfig struct {
	Name            string        `envconfig:"NAME" default:"gatekeeper"`
	Version         string        `envconfig:"VERSION" default:"dev"`
	Environment     string        `envconfig:"ENV" default:"development" validate:"oneof=development staging production"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// Load reads configuration from environment variables with the GATEKEEPER prefix.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate performs validation on the loaded configuration using the shared
// validator from the validation package, then the cross-field checks.
//
// Database and Redis are optional: they are validated when configured, or when
// another section depends on them (the Redis rules source, the Postgres member backend).
func (c *Config) Validate() error {
	if err := validation.New().Struct(c); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	env := c.App.Environment

	if err := c.Server.Validate(env); err != nil {
		return err
	}

	if err := c.Rules.Validate(); err != nil {
		return err
	}

	if err := c.Plans.Validate(); err != nil {
		return err
	}

	if err := c.Member.Validate(env); err != nil {
		return err
	}

	if c.NeedsRedis() || c.Redis.IsConfigured() {
		if err := c.Redis.Validate(env); err != nil {
			return err
		}
	}

	if c.NeedsRedis() {
		if err := c.Redis.validateRulesFetch(&c.Rules); err != nil {
			return err
		}
	}

	if c.NeedsDatabase() || c.Database.IsConfigured() {
		if err := c.Database.Validate(env); err != nil {
			return err
		}
	}

	if err := c.Observability.Validate(); err != nil {
		return err
	}

	return nil
}

// NeedsRedis reports whether the API service cannot start without Redis.
func (c *Config) NeedsRedis() bool {
	return c.Rules.Mode == RulesModeRemote
}

// NeedsDatabase reports whether the API service cannot start without Postgres.
func (c *Config) NeedsDatabase() bool {
	return c.Rules.Mode == RulesModeDatabase || c.Member.Backend == MemberBackendPostgres
}

// LogConfig logs the current configuration (without sensitive data).
func (c *Config) LogConfig(log *slog.Logger) {
	log.Info("configuration loaded",
		slog.String("app_name", c.App.Name),
		slog.String("version", c.App.Version),
		slog.String("environment", c.App.Environment),
		slog.String("log_level", c.App.LogLevel),
		slog.String("log_format", c.App.LogFormat),
		slog.Duration("shutdown_timeout", c.App.ShutdownTimeout),
		slog.String("server_port", c.Server.Port),
		slog.Bool("tls_enabled", c.Server.TLSEnabled),
		slog.Int("auth_failures_per_minute", c.Server.AuthFailuresPerMinute),
		slog.String("rules_mode", c.Rules.Mode),
		slog.String("rules_file", c.Rules.FilePath),
		slog.Duration("rules_reload_interval", c.Rules.ReloadInterval),
		slog.Any("switchable_plans", c.Plans.Switchable),
		slog.String("member_backend", c.Member.Backend),
		slog.Bool("member_cache_enabled", c.Member.CacheEnabled()),
		slog.Bool("db_configured", c.Database.IsConfigured()),
		slog.Duration("db_statement_timeout", c.Database.StatementTimeout),
		slog.Bool("redis_configured", c.Redis.IsConfigured()),
		slog.Duration("redis_read_timeout", c.Redis.ReadTimeout),
	)
}

// Shared validation helper functions

// validatePort checks if port is valid (1-65535)
func validatePort(port, context string) error {
	if port == "" {
		return fmt.Errorf("%s port cannot be empty", context)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("%s port must be a number: %w", context, err)
	}
	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("%s port must be between 1 and 65535, got %d", context, portNum)
	}
	return nil
}

// validateHost checks if host is not empty and contains no whitespace
func validateHost(host, context string) error {
	if host == "" {
		return fmt.Errorf("%s host cannot be empty", context)
	}
	if strings.TrimSpace(host) != host {
		return fmt.Errorf("%s host cannot contain whitespace", context)
	}
	return nil
}

// validateNoWhitespace checks if a value is not empty and contains no whitespace
func validateNoWhitespace(value, fieldName string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if strings.ContainsAny(value, " \t\r\n") {
		return fmt.Errorf("%s cannot contain whitespace", fieldName)
	}
	return nil
}

// validatePasswordStrength checks password meets minimum requirements
func validatePasswordStrength(password, context, environment string) error {
	if environment == EnvironmentProduction && len(password) < 12 {
		return fmt.Errorf("%s password must be at least 12 characters in production", context)
	}
	return nil
}

// isSecureSSLMode checks if SSL mode is production-safe
func isSecureSSLMode(mode string) bool {
	return mode == "require" || mode == "verify-ca" || mode == "verify-full"
}

// parseAndValidateURL is a helper for parsing URLs with scheme validation
func parseAndValidateURL(rawURL string, allowedSchemes []string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	if !slices.Contains(allowedSchemes, parsed.Scheme) {
		return nil, fmt.Errorf("invalid scheme '%s', must be one of: %v", parsed.Scheme, allowedSchemes)
	}

	if parsed.Host == "" {
		return nil, fmt.Errorf("host is required in URL")
	}

	return parsed, nil
}
