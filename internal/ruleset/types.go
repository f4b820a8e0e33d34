// Package ruleset defines the declarative rule schema used by the policy engine.
// A ruleset maps a rule name to exactly one rule definition; the rule's kind
// (its discriminator) determines which fields it carries.
package ruleset

import (
	"maps"
	"slices"
)

// Kind is the discriminator of a rule definition.
type Kind string

const (
	// KindStatic echoes a literal boolean.
	KindStatic Kind = "static"
	// KindAttribute evaluates a formula (path) against the evaluation context.
	KindAttribute Kind = "attribute"
	// KindLOB matches the user's line of business against a set of values.
	KindLOB Kind = "lob"
	// KindPolicyType matches the group policy type against a set of values.
	KindPolicyType Kind = "policyType"
	// KindAuthFunction checks for an available authorization function.
	KindAuthFunction Kind = "authFunction"
	// KindComputed evaluates a free-form formula against the full context.
	KindComputed Kind = "computed"
)

// Kinds lists every known rule kind, in documentation order.
var Kinds = []Kind{KindStatic, KindAttribute, KindLOB, KindPolicyType, KindAuthFunction, KindComputed}

// Valid reports whether k is one of the known rule kinds.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds, k)
}

// RuleDef is a single rule definition. The set of implementations is closed:
// only types embedding Base satisfy it.
type RuleDef interface {
	Kind() Kind
	Doc() string
	isRuleDef()
}

// Base carries the fields shared by every rule kind.
type Base struct {
	// Description is documentation only; it is never evaluated.
	Description string
}

// Doc returns the human-readable description of the rule.
func (b Base) Doc() string { return b.Description }

func (Base) isRuleDef() {}

// Static is a rule whose result is a literal value.
type Static struct {
	Base
	Value bool
}

// Attribute is a rule whose result is a formula evaluated against the context.
type Attribute struct {
	Base
	Path string
}

// LOB matches when the user's line of business is one of Values.
type LOB struct {
	Base
	Values []string
}

// PolicyType matches when the group policy type is one of Values.
type PolicyType struct {
	Base
	Values []string
}

// AuthFunction matches when the named authorization function is present and available.
type AuthFunction struct {
	Base
	Name string
}

// Computed is a rule whose result is a free-form formula over user, member and date.
type Computed struct {
	Base
	Expr string
}

func (Static) Kind() Kind       { return KindStatic }
func (Attribute) Kind() Kind    { return KindAttribute }
func (LOB) Kind() Kind          { return KindLOB }
func (PolicyType) Kind() Kind   { return KindPolicyType }
func (AuthFunction) Kind() Kind { return KindAuthFunction }
func (Computed) Kind() Kind     { return KindComputed }

// RulesConfig maps a unique rule name to its definition.
type RulesConfig map[string]RuleDef

// Names returns the rule names in lexical order.
func (c RulesConfig) Names() []string {
	return slices.Sorted(maps.Keys(c))
}

// Clone returns a shallow copy of the config with independent value slices,
// so the copy can be frozen without aliasing the caller's data.
func (c RulesConfig) Clone() RulesConfig {
	out := make(RulesConfig, len(c))
	for name, def := range c {
		switch d := def.(type) {
		case LOB:
			d.Values = slices.Clone(d.Values)
			out[name] = d
		case PolicyType:
			d.Values = slices.Clone(d.Values)
			out[name] = d
		default:
			out[name] = def
		}
	}
	return out
}
