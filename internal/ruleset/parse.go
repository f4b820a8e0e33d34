package ruleset

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigValidationError reports a structural mismatch between raw config data
// and the rule schema. Path uses dotted notation, e.g. "rules.isBroker.values".
type ConfigValidationError struct {
	Path     string
	Expected string
	Got      string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid rules config at %q: expected %s, got %s", e.Path, e.Expected, e.Got)
}

// fieldsByKind lists the keys a rule mapping may carry besides "type" and "description".
var fieldsByKind = map[Kind]string{
	KindStatic:       "value",
	KindAttribute:    "path",
	KindLOB:          "values",
	KindPolicyType:   "values",
	KindAuthFunction: "name",
	KindComputed:     "expr",
}

// ParseConfig validates arbitrary decoded data against the schema
// { rules: { <name>: RuleDef } } and returns the typed ruleset.
// Any mismatch yields a *ConfigValidationError; nothing is coerced or dropped.
func ParseConfig(raw any) (RulesConfig, error) {
	top, ok := asMapping(raw)
	if !ok {
		return nil, mismatch("(root)", "mapping with key \"rules\"", raw)
	}

	for key := range top {
		if key != "rules" {
			return nil, &ConfigValidationError{Path: key, Expected: "no key other than \"rules\"", Got: "unknown key"}
		}
	}

	rulesRaw, present := top["rules"]
	if !present {
		return nil, &ConfigValidationError{Path: "rules", Expected: "mapping of rule name to rule", Got: "missing"}
	}

	rules, ok := asMapping(rulesRaw)
	if !ok {
		return nil, mismatch("rules", "mapping of rule name to rule", rulesRaw)
	}

	// Iterate in a stable order so the first reported error is deterministic.
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	cfg := make(RulesConfig, len(rules))
	for _, name := range names {
		path := "rules." + name
		if strings.TrimSpace(name) == "" {
			return nil, &ConfigValidationError{Path: path, Expected: "non-empty rule name", Got: "empty name"}
		}
		def, err := parseRule(path, rules[name])
		if err != nil {
			return nil, err
		}
		cfg[name] = def
	}

	return cfg, nil
}

// Decode unmarshals a YAML (or JSON) document into generic data suitable for ParseConfig.
func Decode(data []byte) (any, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode rules document: %w", err)
	}
	if raw == nil {
		return nil, errors.New("rules document is empty")
	}
	return raw, nil
}

// Parse decodes and validates a rules document in one step.
func Parse(data []byte) (RulesConfig, error) {
	raw, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return ParseConfig(raw)
}

func parseRule(path string, raw any) (RuleDef, error) {
	m, ok := asMapping(raw)
	if !ok {
		return nil, mismatch(path, "rule mapping", raw)
	}

	kindRaw, present := m["type"]
	if !present {
		return nil, &ConfigValidationError{Path: path + ".type", Expected: kindList(), Got: "missing"}
	}
	kindStr, ok := kindRaw.(string)
	if !ok {
		return nil, mismatch(path+".type", kindList(), kindRaw)
	}
	kind := Kind(kindStr)
	if !kind.Valid() {
		return nil, &ConfigValidationError{Path: path + ".type", Expected: kindList(), Got: fmt.Sprintf("%q", kindStr)}
	}

	field := fieldsByKind[kind]
	for key := range m {
		if key != "type" && key != "description" && key != field {
			return nil, &ConfigValidationError{
				Path:     path + "." + key,
				Expected: fmt.Sprintf("only type, description and %s for a %s rule", field, kind),
				Got:      "unknown key",
			}
		}
	}

	var base Base
	if d, present := m["description"]; present {
		s, ok := d.(string)
		if !ok {
			return nil, mismatch(path+".description", "string", d)
		}
		base.Description = s
	}

	switch kind {
	case KindStatic:
		v, err := requireBool(m, path, "value")
		if err != nil {
			return nil, err
		}
		return Static{Base: base, Value: v}, nil
	case KindAttribute:
		s, err := requireString(m, path, "path")
		if err != nil {
			return nil, err
		}
		return Attribute{Base: base, Path: s}, nil
	case KindLOB:
		vals, err := requireStrings(m, path, "values")
		if err != nil {
			return nil, err
		}
		return LOB{Base: base, Values: vals}, nil
	case KindPolicyType:
		vals, err := requireStrings(m, path, "values")
		if err != nil {
			return nil, err
		}
		return PolicyType{Base: base, Values: vals}, nil
	case KindAuthFunction:
		s, err := requireString(m, path, "name")
		if err != nil {
			return nil, err
		}
		return AuthFunction{Base: base, Name: s}, nil
	default: // KindComputed
		s, err := requireString(m, path, "expr")
		if err != nil {
			return nil, err
		}
		return Computed{Base: base, Expr: s}, nil
	}
}

func requireBool(m map[string]any, path, key string) (bool, error) {
	raw, present := m[key]
	if !present {
		return false, &ConfigValidationError{Path: path + "." + key, Expected: "boolean", Got: "missing"}
	}
	b, ok := raw.(bool)
	if !ok {
		return false, mismatch(path+"."+key, "boolean", raw)
	}
	return b, nil
}

func requireString(m map[string]any, path, key string) (string, error) {
	raw, present := m[key]
	if !present {
		return "", &ConfigValidationError{Path: path + "." + key, Expected: "non-empty string", Got: "missing"}
	}
	s, ok := raw.(string)
	if !ok {
		return "", mismatch(path+"."+key, "non-empty string", raw)
	}
	if strings.TrimSpace(s) == "" {
		return "", &ConfigValidationError{Path: path + "." + key, Expected: "non-empty string", Got: "empty string"}
	}
	return s, nil
}

func requireStrings(m map[string]any, path, key string) ([]string, error) {
	raw, present := m[key]
	if !present {
		return nil, &ConfigValidationError{Path: path + "." + key, Expected: "list of strings", Got: "missing"}
	}

	switch list := raw.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, mismatch(fmt.Sprintf("%s.%s[%d]", path, key, i), "string", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, mismatch(path+"."+key, "list of strings", raw)
	}
}

// asMapping accepts both map[string]any (yaml.v3, encoding/json) and
// map[any]any with string keys (older YAML decoders).
func asMapping(raw any) (map[string]any, bool) {
	switch m := raw.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			s, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[s] = v
		}
		return out, true
	default:
		return nil, false
	}
}

func mismatch(path, expected string, got any) *ConfigValidationError {
	return &ConfigValidationError{Path: path, Expected: expected, Got: describe(got)}
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case int, int64, uint64, float64:
		return "number"
	case []any, []string:
		return "list"
	case map[string]any, map[any]any:
		return "mapping"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func kindList() string {
	parts := make([]string, len(Kinds))
	for i, k := range Kinds {
		parts[i] = string(k)
	}
	return "one of [" + strings.Join(parts, ", ") + "]"
}
