package expression

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// MaxSteps bounds the work of one evaluation: every node visit and every
// lambda invocation costs one step.
const MaxSteps = 100_000

// cancelCheckEvery is how many steps pass between context checks.
const cancelCheckEvery = 1024

// ErrBudgetExceeded is returned when an evaluation takes more than MaxSteps.
var ErrBudgetExceeded = errors.New("evaluation budget exceeded")

// runtimeError is an evaluation failure at a byte offset of the source.
type runtimeError struct {
	pos int
	msg string
	err error
}

func (e *runtimeError) Error() string {
	return fmt.Sprintf("evaluation error at offset %d: %s", e.pos, e.msg)
}

func (e *runtimeError) Unwrap() error { return e.err }

func failf(n Node, format string, args ...any) error {
	return &runtimeError{pos: n.position(), msg: fmt.Sprintf(format, args...)}
}

// scope resolves identifiers. Lambda parameters shadow context variables.
type scope struct {
	vars   map[string]any
	name   string
	value  any
	parent *scope
}

func (s *scope) lookup(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.vars != nil {
			v, ok := cur.vars[name]
			return v, ok
		}
		if cur.name == name {
			return cur.value, true
		}
	}
	return nil, false
}

func (s *scope) bind(name string, value any) *scope {
	return &scope{name: name, value: value, parent: s}
}

// evaluator carries the state of one evaluation.
type evaluator struct {
	ctx   context.Context
	steps int
}

// step charges one unit of work against the budget.
func (ev *evaluator) step(n Node) error {
	ev.steps++
	if ev.steps > MaxSteps {
		return &runtimeError{pos: n.position(), msg: ErrBudgetExceeded.Error(), err: ErrBudgetExceeded}
	}
	if ev.steps%cancelCheckEvery == 0 {
		if err := ev.ctx.Err(); err != nil {
			return &runtimeError{pos: n.position(), msg: "evaluation cancelled: " + err.Error(), err: err}
		}
	}
	return nil
}

func (ev *evaluator) eval(n Node, s *scope) (any, error) {
	if err := ev.step(n); err != nil {
		return nil, err
	}

	switch n := n.(type) {
	case *Literal:
		return n.Value, nil

	case *Ident:
		v, ok := s.lookup(n.Name)
		if !ok {
			return nil, failf(n, "undefined identifier %q", n.Name)
		}
		return normalize(v), nil

	case *Member:
		obj, err := ev.eval(n.Object, s)
		if err != nil {
			return nil, err
		}
		if obj == nil {
			if n.Optional {
				return nil, nil
			}
			return nil, failf(n, "cannot read property %q of undefined", n.Property)
		}
		return property(obj, n.Property), nil

	case *Index:
		obj, err := ev.eval(n.Object, s)
		if err != nil {
			return nil, err
		}
		if obj == nil {
			if n.Optional {
				return nil, nil
			}
			return nil, failf(n, "cannot index undefined")
		}
		key, err := ev.eval(n.Index, s)
		if err != nil {
			return nil, err
		}
		return index(obj, key), nil

	case *Unary:
		v, err := ev.eval(n.Operand, s)
		if err != nil {
			return nil, err
		}
		if n.Op == "!" {
			return !Truthy(v), nil
		}
		f, ok := v.(float64)
		if !ok {
			return nil, failf(n, "cannot negate %s", typeName(v))
		}
		return -f, nil

	case *Binary:
		left, err := ev.eval(n.Left, s)
		if err != nil {
			return nil, err
		}
		right, err := ev.eval(n.Right, s)
		if err != nil {
			return nil, err
		}
		return binary(n, left, right)

	case *Logical:
		left, err := ev.eval(n.Left, s)
		if err != nil {
			return nil, err
		}
		if n.Op == "&&" && !Truthy(left) {
			return left, nil
		}
		if n.Op == "||" && Truthy(left) {
			return left, nil
		}
		return ev.eval(n.Right, s)

	case *Array:
		out := make([]any, len(n.Elements))
		for i, el := range n.Elements {
			v, err := ev.eval(el, s)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case *Call:
		return ev.call(n, s)

	case *MethodCall:
		return ev.methodCall(n, s)

	case *Lambda:
		return nil, failf(n, "arrow function used outside of a predicate")

	default:
		return nil, fmt.Errorf("unsupported node %T", n)
	}
}

func binary(n *Binary, left, right any) (any, error) {
	switch n.Op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	}

	c, err := compare(left, right)
	if err != nil {
		return nil, failf(n, "%v", err)
	}
	switch n.Op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	default: // ">="
		return c >= 0, nil
	}
}

func (ev *evaluator) call(n *Call, s *scope) (any, error) {
	arg, err := ev.eval(n.Args[0], s)
	if err != nil {
		return nil, err
	}

	switch n.Func {
	case "date":
		switch v := arg.(type) {
		case time.Time:
			return v, nil
		case string:
			t, ok := parseDate(v)
			if !ok {
				return nil, failf(n, "date: cannot parse %q", v)
			}
			return t, nil
		default:
			return nil, failf(n, "date: expected string, got %s", typeName(arg))
		}
	case "lower", "upper":
		str, ok := arg.(string)
		if !ok {
			return nil, failf(n, "%s: expected string, got %s", n.Func, typeName(arg))
		}
		if n.Func == "lower" {
			return strings.ToLower(str), nil
		}
		return strings.ToUpper(str), nil
	default:
		return nil, failf(n, "function %q is not allowed", n.Func)
	}
}

func (ev *evaluator) methodCall(n *MethodCall, s *scope) (any, error) {
	recv, err := ev.eval(n.Object, s)
	if err != nil {
		return nil, err
	}
	if recv == nil {
		if n.Optional {
			return nil, nil
		}
		return nil, failf(n, "cannot call %s on undefined", n.Method)
	}

	if fn, ok := n.Args[0].(*Lambda); ok {
		list, ok := recv.([]any)
		if !ok {
			return nil, failf(n, "%s: receiver is %s, not a list", n.Method, typeName(recv))
		}
		return ev.predicate(n, fn, list, s)
	}

	arg, err := ev.eval(n.Args[0], s)
	if err != nil {
		return nil, err
	}

	switch recv := recv.(type) {
	case []any:
		if n.Method != "includes" {
			return nil, failf(n, "%s is not a list method", n.Method)
		}
		for _, el := range recv {
			if looseEqual(el, arg) {
				return true, nil
			}
		}
		return false, nil

	case string:
		sub, ok := arg.(string)
		if !ok {
			return nil, failf(n, "%s: expected string argument, got %s", n.Method, typeName(arg))
		}
		switch n.Method {
		case "includes":
			return strings.Contains(recv, sub), nil
		case "startsWith":
			return strings.HasPrefix(recv, sub), nil
		case "endsWith":
			return strings.HasSuffix(recv, sub), nil
		}
	}

	return nil, failf(n, "%s is not supported on %s", n.Method, typeName(recv))
}

func (ev *evaluator) predicate(n *MethodCall, fn *Lambda, list []any, s *scope) (any, error) {
	var kept []any

	for _, el := range list {
		if err := ev.step(fn); err != nil {
			return nil, err
		}
		v, err := ev.eval(fn.Body, s.bind(fn.Param, el))
		if err != nil {
			return nil, err
		}
		ok := Truthy(v)

		switch n.Method {
		case "some":
			if ok {
				return true, nil
			}
		case "every":
			if !ok {
				return false, nil
			}
		case "filter":
			if ok {
				kept = append(kept, el)
			}
		}
	}

	switch n.Method {
	case "some":
		return false, nil
	case "every":
		return true, nil
	default:
		if kept == nil {
			kept = []any{}
		}
		return kept, nil
	}
}

// property reads a named property. Unknown properties read as undefined,
// matching the forgiving access of the formula language. A map without a
// "length" key reports its size.
func property(obj any, name string) any {
	switch v := obj.(type) {
	case map[string]any:
		if x, ok := v[name]; ok || name != "length" {
			return normalize(x)
		}
		return float64(len(v))
	case []any:
		if name == "length" {
			return float64(len(v))
		}
	case string:
		if name == "length" {
			return float64(len(v))
		}
	}
	return nil
}

func index(obj, key any) any {
	switch v := obj.(type) {
	case map[string]any:
		if k, ok := key.(string); ok {
			return normalize(v[k])
		}
	case []any:
		if f, ok := key.(float64); ok && f == math.Trunc(f) && f >= 0 && int(f) < len(v) {
			return normalize(v[int(f)])
		}
	}
	return nil
}

// normalize converts Go values into the small set of types the interpreter
// works with: nil, bool, float64, string, time.Time, []any and map[string]any.
// Struct values are opaque and read as having no properties.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, float64, string, time.Time, []any, map[string]any:
		return v
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}

// looseEqual compares two normalized values. Strict (===) and loose (==)
// equality are identical: values of different types are never equal, except
// that a date compares equal to a string holding the same instant, and null
// equals undefined.
func looseEqual(a, b any) bool {
	a, b = normalize(a), normalize(b)

	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		switch y := b.(type) {
		case string:
			return x == y
		case time.Time:
			t, ok := parseDate(x)
			return ok && t.Equal(y)
		}
		return false
	case time.Time:
		switch y := b.(type) {
		case time.Time:
			return x.Equal(y)
		case string:
			t, ok := parseDate(y)
			return ok && x.Equal(t)
		}
		return false
	default:
		return reflect.DeepEqual(a, b)
	}
}

func compare(a, b any) (int, error) {
	a, b = normalize(a), normalize(b)

	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			return cmpOrdered(x, y), nil
		}
	case string:
		switch y := b.(type) {
		case string:
			return strings.Compare(x, y), nil
		case time.Time:
			if t, ok := parseDate(x); ok {
				return t.Compare(y), nil
			}
		}
	case time.Time:
		switch y := b.(type) {
		case time.Time:
			return x.Compare(y), nil
		case string:
			if t, ok := parseDate(y); ok {
				return x.Compare(t), nil
			}
		}
	}
	return 0, fmt.Errorf("cannot compare %s with %s", typeName(a), typeName(b))
}

func cmpOrdered(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "undefined"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case time.Time:
		return "date"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
