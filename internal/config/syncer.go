package config

import "time"

// SyncerConfig contains configuration for the ruleset Syncer worker.
type SyncerConfig struct {
	Enabled bool `envconfig:"ENABLED" default:"true"`

	// Interval between Postgres -> Redis synchronization passes.
	Interval time.Duration `envconfig:"INTERVAL" default:"15s" validate:"gt=0"`

	// Timeout bounds a single pass, including the Redis publish.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s" validate:"gt=0"`
}
