package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	dbApplicationName = "gatekeeper"
	defaultSSLMode    = "prefer"
	maxDatabaseName   = 63
)

// DatabaseConfig describes the Postgres database holding ruleset versions and
// member records. Both are point lookups by primary key, so every pooled
// connection runs with a server-side statement timeout.
type DatabaseConfig struct {
	// URL overrides Host, Port, Name, User, Password and SSLMode.
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Name     string `envconfig:"NAME"`
	User     string `envconfig:"USER"`
	Password string `envconfig:"PASSWORD"`

	SSLMode string `envconfig:"SSL_MODE" default:"prefer" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	MaxConns        int           `envconfig:"MAX_CONNS" default:"10" validate:"min=1"`
	MinConns        int           `envconfig:"MIN_CONNS" default:"1" validate:"min=0,ltefield=MaxConns"`
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME" default:"1h" validate:"min=0"`
	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME" default:"15m" validate:"min=0"`
	ConnectTimeout  time.Duration `envconfig:"CONNECT_TIMEOUT" default:"5s" validate:"gt=0"`

	// StatementTimeout is sent as statement_timeout on every connection. Zero
	// keeps the server default.
	StatementTimeout time.Duration `envconfig:"STATEMENT_TIMEOUT" default:"5s" validate:"min=0"`

	// Migrate applies the embedded schema migrations on startup.
	Migrate bool `envconfig:"MIGRATE" default:"false"`
}

// IsConfigured reports whether enough is set to attempt a connection.
func (c *DatabaseConfig) IsConfigured() bool {
	if c.URL != "" {
		return true
	}
	return c.Host != "" && c.Port != "" && c.Name != "" && c.User != ""
}

// PoolConfig builds the pgx pool configuration, including the session
// parameters every Gatekeeper connection carries.
func (c *DatabaseConfig) PoolConfig() (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(c.dsn())
	if err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	params := poolCfg.ConnConfig.RuntimeParams
	if params["application_name"] == "" {
		params["application_name"] = dbApplicationName
	}
	if c.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(c.StatementTimeout.Milliseconds(), 10)
	}

	if c.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = c.ConnectTimeout
	}
	if c.MaxConns > 0 {
		poolCfg.MaxConns = int32(c.MaxConns)
	}
	if c.MinConns > 0 {
		poolCfg.MinConns = int32(c.MinConns)
	}
	if c.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = c.MaxConnLifetime
	}
	if c.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = c.MaxConnIdleTime
	}

	return poolCfg, nil
}

func (c *DatabaseConfig) dsn() string {
	if c.URL != "" {
		return c.URL
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.User(c.User),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	return u.String()
}

// effectiveSSLMode is the sslmode the connection will use, read from the URL
// when one is set.
func (c *DatabaseConfig) effectiveSSLMode() string {
	if c.URL == "" {
		return c.SSLMode
	}
	parsed, err := url.Parse(c.URL)
	if err != nil {
		return ""
	}
	if mode := parsed.Query().Get("sslmode"); mode != "" {
		return mode
	}
	return defaultSSLMode
}

// Validate checks the connection settings. In production the effective
// password and sslmode are checked, whichever form supplied them.
func (c *DatabaseConfig) Validate(environment string) error {
	if c.URL == "" {
		if err := validateHost(c.Host, "database"); err != nil {
			return err
		}
		if err := validatePort(c.Port, "database"); err != nil {
			return err
		}
		if err := validateDatabaseName(c.Name); err != nil {
			return err
		}
		if err := validateNoWhitespace(c.User, "database user"); err != nil {
			return err
		}
	} else if err := validatePostgresURL(c.URL); err != nil {
		return fmt.Errorf("invalid database URL: %w", err)
	}

	poolCfg, err := c.PoolConfig()
	if err != nil {
		return err
	}

	if environment == EnvironmentProduction {
		password := poolCfg.ConnConfig.Password
		if password == "" {
			return fmt.Errorf("database password is required in production environment")
		}
		if err := validatePasswordStrength(password, "database", environment); err != nil {
			return err
		}
		if !isSecureSSLMode(c.effectiveSSLMode()) {
			return fmt.Errorf("database SSL mode must be 'require', 'verify-ca', or 'verify-full' in production environment")
		}
	}

	return nil
}

func validatePostgresURL(dbURL string) error {
	parsed, err := parseAndValidateURL(dbURL, []string{"postgres", "postgresql"})
	if err != nil {
		return err
	}
	if parsed.User == nil || parsed.User.Username() == "" {
		return fmt.Errorf("user is required in URL")
	}
	if err := validateDatabaseName(strings.TrimPrefix(parsed.Path, "/")); err != nil {
		return fmt.Errorf("URL path: %w", err)
	}
	return nil
}

func validateDatabaseName(name string) error {
	if err := validateNoWhitespace(name, "database name"); err != nil {
		return err
	}
	if len(name) > maxDatabaseName {
		return fmt.Errorf("database name cannot exceed %d characters", maxDatabaseName)
	}
	return nil
}
