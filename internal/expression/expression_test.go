package expression

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVars() map[string]any {
	return map[string]any{
		"userInfo": map[string]any{
			"id":        "u-1",
			"lob":       "BROKER",
			"roles":     []any{"admin", "viewer"},
			"groupData": nil,
		},
		"member": map[string]any{
			"name":          "Gold PPO",
			"tier":          3,
			"renewalDate":   "2026-03-01",
			"coverageTypes": []any{map[string]any{"productType": "M"}},
			"emptyList":     []any{},
			"tags":          []string{"dental"},
		},
		"today": time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{name: "some matches", expr: "member.coverageTypes.some(c => c.productType == 'M')", want: true},
		{name: "some without match", expr: "member.coverageTypes.some(c => c.productType == 'D')", want: false},
		{name: "parenthesised lambda", expr: "member.coverageTypes.every((c) => c.productType === 'M')", want: true},
		{name: "filter then length", expr: "member.coverageTypes.filter(c => c.productType == 'D').length > 0", want: false},
		{name: "list includes", expr: "userInfo.roles.includes('admin')", want: true},
		{name: "typed string slice includes", expr: "member.tags.includes('dental')", want: true},
		{name: "string startsWith", expr: "member.name.startsWith('Gold')", want: true},
		{name: "string endsWith", expr: "member.name.endsWith('HMO')", want: false},
		{name: "string includes", expr: "member.name.includes('PP')", want: true},
		{name: "upper", expr: "upper('broker') == userInfo.lob", want: true},
		{name: "lower", expr: "lower(userInfo.lob) === 'broker'", want: true},
		{name: "numeric range", expr: "member.tier >= 3 && member.tier < 4", want: true},
		{name: "negation", expr: "-member.tier < 0", want: true},
		{name: "not of missing key", expr: "!member.missing", want: true},
		{name: "optional chaining on null", expr: "userInfo.groupData?.policyType == null", want: true},
		{name: "optional index on null", expr: "userInfo.groupData?.['policyType'] === undefined", want: true},
		{name: "date comparison", expr: "date(member.renewalDate) > today", want: true},
		{name: "string compared with date", expr: "member.renewalDate > today", want: true},
		{name: "map length", expr: "userInfo.length == 4", want: true},
		{name: "index into list", expr: "member.coverageTypes[0].productType == 'M'", want: true},
		{name: "index out of range", expr: "member.coverageTypes[5] == undefined", want: true},
		{name: "computed key", expr: "member['name'] == 'Gold PPO'", want: true},
		{name: "array literal includes", expr: "[1, 2, 3].includes(member.tier)", want: true},
		{name: "non-empty string is truthy", expr: "member.name", want: true},
		{name: "empty list is falsy", expr: "member.emptyList", want: false},
		{name: "zero is falsy", expr: "0", want: false},
		{name: "empty string is falsy", expr: "''", want: false},
		{name: "string zero is truthy", expr: "'0'", want: true},
		{name: "null is falsy", expr: "null", want: false},
		{name: "or returns operand", expr: "member.tier || false", want: true},
		{name: "strict inequality", expr: "'a' !== 'a'", want: false},
		{name: "different types never equal", expr: "member.tier == '3'", want: false},
		{name: "or short circuits", expr: "userInfo.lob == 'BROKER' || nosuchvar", want: true},
		{name: "and short circuits", expr: "userInfo.lob == 'MEMBER' && nosuchvar", want: false},
		{name: "lambda param shadows variable", expr: "member.coverageTypes.some(member => member.productType == 'M')", want: true},
		{name: "nested lambdas see outer params", expr: "userInfo.roles.some(r => member.coverageTypes.some(c => c.productType == 'M' && r == 'admin'))", want: true},
		{name: "escaped quote", expr: `'it\'s' == "it's"`, want: true},
		{name: "decimal literal", expr: "member.tier > 2.5", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Act
			got, err := Evaluate(tt.expr, testVars())

			// Assert
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_SomeOnEmptyList(t *testing.T) {
	t.Parallel()

	vars := map[string]any{"member": map[string]any{"coverageTypes": []any{}}}

	got, err := Evaluate("member.coverageTypes.some(c => c.productType == 'M')", vars)

	require.NoError(t, err)
	assert.False(t, got)
}

func TestCompile_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		expr    string
		wantPos int
		wantMsg string
	}{
		{name: "empty", expr: "", wantPos: 0, wantMsg: "empty expression"},
		{name: "whitespace only", expr: "   ", wantPos: 0, wantMsg: "empty expression"},
		{name: "unsupported operator", expr: "a + b", wantPos: 2, wantMsg: "unexpected character"},
		{name: "assignment", expr: "a = 1", wantPos: 2, wantMsg: "unexpected character"},
		{name: "disallowed method", expr: "member.constructor()", wantPos: 7, wantMsg: `method "constructor" is not allowed`},
		{name: "disallowed function", expr: "eval('1')", wantPos: 0, wantMsg: `function "eval" is not allowed`},
		{name: "top level lambda", expr: "c => c", wantPos: 2, wantMsg: "unexpected"},
		{name: "lambda to includes", expr: "member.tags.includes(c => c)", wantPos: 21, wantMsg: "arrow functions are only allowed"},
		{name: "predicate without lambda", expr: "member.tags.some(1)", wantPos: 12, wantMsg: "requires an arrow function"},
		{name: "wrong arity", expr: "lower('a', 'b')", wantPos: 0, wantMsg: "takes 1 argument"},
		{name: "unterminated string", expr: "'abc", wantPos: 0, wantMsg: "unterminated string"},
		{name: "trailing tokens", expr: "a b", wantPos: 2, wantMsg: `unexpected "b"`},
		{name: "missing property name", expr: "member.", wantPos: 7, wantMsg: "expected property name"},
		{name: "unclosed paren", expr: "(a", wantPos: 2, wantMsg: `expected ")"`},
		{name: "keyword as parameter", expr: "a.some(true => true)", wantPos: 7, wantMsg: "cannot be used as a parameter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Act
			prog, err := Compile(tt.expr)

			// Assert
			require.Error(t, err)
			assert.Nil(t, prog)

			var exprErr *ExpressionError
			require.True(t, errors.As(err, &exprErr))
			assert.Equal(t, tt.expr, exprErr.Expr)
			assert.Equal(t, tt.wantPos, exprErr.Pos)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestCompile_Limits(t *testing.T) {
	t.Parallel()

	t.Run("length", func(t *testing.T) {
		t.Parallel()

		_, err := Compile(strings.Repeat("a", MaxLength+1))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds")
	})

	t.Run("nesting", func(t *testing.T) {
		t.Parallel()

		deep := strings.Repeat("(", MaxDepth+5) + "1" + strings.Repeat(")", MaxDepth+5)
		_, err := Compile(deep)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nested deeper")
	})

	t.Run("unary chain", func(t *testing.T) {
		t.Parallel()

		_, err := Compile(strings.Repeat("!", MaxDepth+5) + "true")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nested deeper")
	})

	t.Run("moderate nesting is accepted", func(t *testing.T) {
		t.Parallel()

		ok, err := Evaluate(strings.Repeat("(", 10)+"1 == 1"+strings.Repeat(")", 10), nil)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestProgram_EvalErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		expr    string
		wantMsg string
	}{
		{name: "unknown identifier", expr: "unknown.x", wantMsg: `undefined identifier "unknown"`},
		{name: "member access on null", expr: "userInfo.groupData.policyType", wantMsg: "cannot read property"},
		{name: "index on null", expr: "userInfo.groupData['x']", wantMsg: "cannot index undefined"},
		{name: "method on null", expr: "member.missing.includes('x')", wantMsg: "cannot call includes"},
		{name: "ordering mixed types", expr: "member.name > 3", wantMsg: "cannot compare string with number"},
		{name: "negate string", expr: "-member.name", wantMsg: "cannot negate string"},
		{name: "bad date", expr: "date('soon') > today", wantMsg: "cannot parse"},
		{name: "predicate on number", expr: "member.tier.some(x => x)", wantMsg: "not a list"},
		{name: "startsWith on list", expr: "member.tags.startsWith('d')", wantMsg: "not a list method"},
		{name: "error inside lambda", expr: "member.coverageTypes.some(c => c.productType.x.y)", wantMsg: "cannot read property"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			prog, err := Compile(tt.expr)
			require.NoError(t, err)

			// Act
			got, err := prog.Eval(testVars())

			// Assert
			require.Error(t, err)
			assert.False(t, got)

			var exprErr *ExpressionError
			require.True(t, errors.As(err, &exprErr))
			assert.GreaterOrEqual(t, exprErr.Pos, 0)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func numbers(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

func TestProgram_EvalBudget(t *testing.T) {
	t.Parallel()

	vars := map[string]any{"member": map[string]any{"l": numbers(200)}}

	t.Run("nested predicates stop at the step budget", func(t *testing.T) {
		t.Parallel()

		// Arrange
		prog, err := Compile("member.l.some(a => member.l.some(b => member.l.some(c => member.l.some(d => a == -1))))")
		require.NoError(t, err)

		// Act
		start := time.Now()
		got, err := prog.Eval(vars)

		// Assert
		assert.Less(t, time.Since(start), 5*time.Second)
		assert.False(t, got)
		require.ErrorIs(t, err, ErrBudgetExceeded)
		var exprErr *ExpressionError
		require.True(t, errors.As(err, &exprErr))
		assert.Contains(t, err.Error(), "evaluation budget exceeded")
	})

	t.Run("moderate nesting fits the budget", func(t *testing.T) {
		t.Parallel()

		small := map[string]any{"member": map[string]any{"l": numbers(50)}}
		got, err := Evaluate("member.l.some(a => member.l.some(b => b == -1 && a == -1))", small)

		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("cancelled context stops evaluation", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		prog, err := Compile("member.l.some(a => member.l.some(b => a == -1))")
		require.NoError(t, err)

		// Act
		got, err := prog.EvalContext(ctx, vars)

		// Assert
		assert.False(t, got)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestTruthy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{name: "nil", value: nil, want: false},
		{name: "false", value: false, want: false},
		{name: "true", value: true, want: true},
		{name: "zero float", value: 0.0, want: false},
		{name: "zero int", value: 0, want: false},
		{name: "NaN", value: math.NaN(), want: false},
		{name: "negative", value: -1, want: true},
		{name: "empty string", value: "", want: false},
		{name: "string", value: "false", want: true},
		{name: "empty list", value: []any{}, want: false},
		{name: "nil typed slice", value: []string(nil), want: false},
		{name: "list", value: []any{false}, want: true},
		{name: "empty object", value: map[string]any{}, want: false},
		{name: "object", value: map[string]any{"a": nil}, want: true},
		{name: "date", value: time.Now(), want: true},
		{name: "zero date", value: time.Time{}, want: false},
		{name: "nil pointer", value: (*int)(nil), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Truthy(tt.value))
		})
	}
}

func TestProgram_ConcurrentEval(t *testing.T) {
	t.Parallel()

	prog, err := Compile("member.coverageTypes.some(c => c.productType == 'M') && userInfo.roles.includes('admin')")
	require.NoError(t, err)
	assert.Equal(t, "member.coverageTypes.some(c => c.productType == 'M') && userInfo.roles.includes('admin')", prog.Source())

	var wg sync.WaitGroup
	results := make([]bool, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := prog.Eval(testVars())
			if err == nil {
				results[i] = ok
			}
		}(i)
	}
	wg.Wait()

	for _, ok := range results {
		assert.True(t, ok)
	}
}
