package policy

import (
	"fmt"

	"github.com/rafaeljc/gatekeeper/internal/ruleset"
)

// AdapterFetchError reports a failed plan-switch refetch. The engine logs it
// and evaluates against the member record it was given.
type AdapterFetchError struct {
	UserID string
	PlanID string
	Err    error
}

func (e *AdapterFetchError) Error() string {
	return fmt.Sprintf("fetch member %q for plan %q: %v", e.UserID, e.PlanID, e.Err)
}

func (e *AdapterFetchError) Unwrap() error { return e.Err }

// UnknownRuleTypeWarning reports a rule whose kind the engine cannot
// dispatch. Validated rulesets never produce one.
type UnknownRuleTypeWarning struct {
	Rule string
	Kind ruleset.Kind
}

func (w *UnknownRuleTypeWarning) Error() string {
	return fmt.Sprintf("rule %q has unknown type %q", w.Rule, w.Kind)
}

// RuleError wraps any failure while evaluating a single rule.
type RuleError struct {
	Rule string
	Err  error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %q: %v", e.Rule, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }
