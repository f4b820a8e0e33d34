package config

import (
	"fmt"
	"time"
)

// Member data backends used for plan-switch refetches.
const (
	MemberBackendNone     = "none"
	MemberBackendHTTP     = "http"
	MemberBackendPostgres = "postgres"
)

// MemberConfig configures the adapter that fetches plan-scoped member records.
type MemberConfig struct {
	Backend string `envconfig:"BACKEND" default:"none" validate:"oneof=none http postgres"`

	// BaseURL of the member service, used by the http backend.
	BaseURL string `envconfig:"BASE_URL"`

	// Timeout bounds a single fetch so a hung backend cannot stall flag computation.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"2s" validate:"gt=0"`

	// CacheSize is the maximum number of cached records. Zero disables caching.
	CacheSize int           `envconfig:"CACHE_SIZE" default:"10000" validate:"min=0"`
	CacheTTL  time.Duration `envconfig:"CACHE_TTL" default:"30s" validate:"min=0"`
}

// Validate checks MemberConfig fields for correctness.
func (c *MemberConfig) Validate(environment string) error {
	if c.Backend != MemberBackendHTTP {
		return nil
	}

	if c.BaseURL == "" {
		return fmt.Errorf("member base URL is required for the http backend")
	}

	allowed := []string{"http", "https"}
	if environment == EnvironmentProduction {
		allowed = []string{"https"}
	}
	if _, err := parseAndValidateURL(c.BaseURL, allowed); err != nil {
		return fmt.Errorf("invalid member base URL: %w", err)
	}

	return nil
}

// CacheEnabled reports whether fetched records are cached in memory.
func (c *MemberConfig) CacheEnabled() bool {
	return c.Backend != MemberBackendNone && c.CacheSize > 0 && c.CacheTTL > 0
}
