package config

import (
	"fmt"
	"time"
)

// Ruleset source modes. Each mode names the primary source; the local file is
// always the last fallback.
const (
	RulesModeLocal    = "local"
	RulesModeRemote   = "remote"
	RulesModeDatabase = "database"
)

// RulesConfig selects where the policy engine loads its ruleset from.
type RulesConfig struct {
	Mode     string `envconfig:"MODE" default:"local" validate:"oneof=local remote database"`
	FilePath string `envconfig:"FILE" default:"configs/rules.yaml"`

	// RedisKey is where the syncer publishes the validated ruleset document.
	RedisKey string `envconfig:"REDIS_KEY" default:"gatekeeper:ruleset" validate:"rediskey"`

	// FetchTimeout bounds each individual source fetch during a load.
	FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"3s" validate:"gt=0"`

	// ReloadInterval rebuilds the engine periodically. Zero disables it.
	ReloadInterval time.Duration `envconfig:"RELOAD_INTERVAL" default:"0s" validate:"min=0"`
}

// Validate checks RulesConfig fields for correctness.
func (c *RulesConfig) Validate() error {
	if err := validateNoWhitespace(c.FilePath, "rules file path"); err != nil {
		return err
	}
	if c.ReloadInterval > 0 && c.ReloadInterval < time.Second {
		return fmt.Errorf("rules reload interval must be at least 1s, got %s", c.ReloadInterval)
	}
	return nil
}
