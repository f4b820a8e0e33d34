package config

import (
	"fmt"
)

// PlansConfig lists the plans whose selection invalidates the member record
// supplied by the caller.
type PlansConfig struct {
	// Switchable is a comma-separated list of plan identifiers.
	Switchable []string `envconfig:"SWITCHABLE"`
}

// Validate checks PlansConfig fields for correctness.
func (c *PlansConfig) Validate() error {
	seen := make(map[string]struct{}, len(c.Switchable))
	for _, plan := range c.Switchable {
		if err := validateNoWhitespace(plan, "switchable plan id"); err != nil {
			return err
		}
		if _, dup := seen[plan]; dup {
			return fmt.Errorf("switchable plan %q listed more than once", plan)
		}
		seen[plan] = struct{}{}
	}
	return nil
}
