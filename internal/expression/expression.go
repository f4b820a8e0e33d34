// Package expression implements the sandboxed formula language used by
// attribute and computed rules.
//
// A formula is a single expression over a fixed set of context variables.
// It supports literals, property and index access (with optional chaining),
// comparison and logical operators, and an allow-list of collection methods
// and functions. There are no loops, assignments or arbitrary calls, and
// every evaluation is bounded by MaxSteps and by its context, so a formula
// can never block its caller.
package expression

import (
	"context"
	"fmt"
)

// Program is a compiled formula. It is immutable and safe for concurrent use.
type Program struct {
	src  string
	root Node
}

// Compile parses expr into a Program.
func Compile(expr string) (*Program, error) {
	root, err := parse(expr)
	if err != nil {
		return nil, newExpressionError(expr, err)
	}
	return &Program{src: expr, root: root}, nil
}

// Source returns the formula text the program was compiled from.
func (p *Program) Source() string { return p.src }

// Eval evaluates the program against vars and coerces the result with Truthy.
// Referencing an identifier absent from vars is an error.
func (p *Program) Eval(vars map[string]any) (bool, error) {
	return p.EvalContext(context.Background(), vars)
}

// EvalContext is Eval with cancellation. An evaluation that outlives ctx or
// exceeds MaxSteps fails with an ExpressionError.
func (p *Program) EvalContext(ctx context.Context, vars map[string]any) (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = false
			err = newExpressionError(p.src, fmt.Errorf("panic during evaluation: %v", r))
		}
	}()

	if vars == nil {
		vars = map[string]any{}
	}

	ev := &evaluator{ctx: ctx}
	v, err := ev.eval(p.root, &scope{vars: vars})
	if err != nil {
		return false, newExpressionError(p.src, err)
	}
	return Truthy(v), nil
}

// Evaluate compiles and evaluates expr in one step.
func Evaluate(expr string, vars map[string]any) (bool, error) {
	prog, err := Compile(expr)
	if err != nil {
		return false, err
	}
	return prog.Eval(vars)
}
