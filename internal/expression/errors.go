package expression

import (
	"errors"
	"fmt"
)

// ExpressionError reports a formula that failed to compile or evaluate.
type ExpressionError struct {
	// Expr is the formula source.
	Expr string
	// Pos is the byte offset of the failing construct, or -1 when unknown.
	Pos int
	Err error
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("expression %q: %v", e.Expr, e.Err)
}

func (e *ExpressionError) Unwrap() error { return e.Err }

func newExpressionError(expr string, err error) *ExpressionError {
	pos := -1

	var se *syntaxError
	var re *runtimeError
	switch {
	case errors.As(err, &se):
		pos = se.pos
	case errors.As(err, &re):
		pos = re.pos
	}

	return &ExpressionError{Expr: expr, Pos: pos, Err: err}
}
