package config

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisClientName = "gatekeeper"
	maxRedisDB      = 15
)

// RedisConfig describes the Redis instance holding the published ruleset
// document. The API only issues single GETs against it, so the pool is small
// and the read timeout must fit inside the rules fetch timeout.
type RedisConfig struct {
	// URL overrides Host, Port, Username, Password, DB and TLSEnabled.
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Username string `envconfig:"USERNAME"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0" validate:"min=0,max=15"`

	TLSEnabled bool `envconfig:"TLS_ENABLED" default:"false"`

	PoolSize        int           `envconfig:"POOL_SIZE" default:"10" validate:"min=1"`
	MinIdleConns    int           `envconfig:"MIN_IDLE_CONNS" default:"1" validate:"min=0,ltefield=PoolSize"`
	DialTimeout     time.Duration `envconfig:"DIAL_TIMEOUT" default:"2s" validate:"gt=0"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"1s" validate:"gt=0"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"1s" validate:"gt=0"`
	PoolTimeout     time.Duration `envconfig:"POOL_TIMEOUT" default:"2s" validate:"gt=0"`
	MaxRetries      int           `envconfig:"MAX_RETRIES" default:"2" validate:"min=0"`
	MinRetryBackoff time.Duration `envconfig:"MIN_RETRY_BACKOFF" default:"8ms"`
	MaxRetryBackoff time.Duration `envconfig:"MAX_RETRY_BACKOFF" default:"512ms" validate:"gtefield=MinRetryBackoff"`

	// Startup ping, retried with doubling backoff.
	PingMaxRetries int           `envconfig:"PING_MAX_RETRIES" default:"5" validate:"min=1"`
	PingBackoff    time.Duration `envconfig:"PING_BACKOFF" default:"2s" validate:"gt=0"`
}

// IsConfigured reports whether enough is set to attempt a connection.
func (c *RedisConfig) IsConfigured() bool {
	return c.URL != "" || (c.Host != "" && c.Port != "")
}

// Options translates the configuration into go-redis client options. A URL
// supplies address, credentials, database and TLS; pool and timeout settings
// always come from the individual fields.
func (c *RedisConfig) Options() (*redis.Options, error) {
	opts := &redis.Options{
		ClientName:      redisClientName,
		Addr:            net.JoinHostPort(c.Host, c.Port),
		Username:        c.Username,
		Password:        c.Password,
		DB:              c.DB,
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		PoolSize:        c.PoolSize,
		MinIdleConns:    c.MinIdleConns,
		PoolTimeout:     c.PoolTimeout,
		MaxRetries:      c.MaxRetries,
		MinRetryBackoff: c.MinRetryBackoff,
		MaxRetryBackoff: c.MaxRetryBackoff,
	}
	if c.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: c.Host}
	}

	if c.URL != "" {
		parsed, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		opts.Addr = parsed.Addr
		opts.Username = parsed.Username
		opts.Password = parsed.Password
		opts.DB = parsed.DB
		opts.TLSConfig = parsed.TLSConfig
		if opts.TLSConfig != nil && opts.TLSConfig.MinVersion < tls.VersionTLS12 {
			opts.TLSConfig.MinVersion = tls.VersionTLS12
		}
	}

	if opts.DB < 0 || opts.DB > maxRedisDB {
		return nil, fmt.Errorf("redis database number must be between 0 and %d, got %d", maxRedisDB, opts.DB)
	}
	return opts, nil
}

// Validate checks the connection settings. In production the effective
// credentials and transport are checked, whichever form supplied them.
func (c *RedisConfig) Validate(environment string) error {
	if c.URL == "" {
		if err := validateHost(c.Host, "redis"); err != nil {
			return err
		}
		if err := validatePort(c.Port, "redis"); err != nil {
			return err
		}
	} else if _, err := parseAndValidateURL(c.URL, []string{"redis", "rediss"}); err != nil {
		return fmt.Errorf("invalid redis URL: %w", err)
	}

	opts, err := c.Options()
	if err != nil {
		return err
	}

	if environment == EnvironmentProduction {
		if opts.Password == "" {
			return fmt.Errorf("redis password is required in production environment")
		}
		if err := validatePasswordStrength(opts.Password, "redis", environment); err != nil {
			return err
		}
		if opts.TLSConfig == nil {
			return fmt.Errorf("redis TLS must be enabled in production environment")
		}
	}

	return nil
}

// validateRulesFetch checks that one Redis read fits inside a single rules
// source fetch.
func (c *RedisConfig) validateRulesFetch(rules *RulesConfig) error {
	if c.ReadTimeout > rules.FetchTimeout {
		return fmt.Errorf("redis read timeout (%s) cannot exceed the rules fetch timeout (%s)", c.ReadTimeout, rules.FetchTimeout)
	}
	return nil
}
