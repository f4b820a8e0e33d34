package expression

import (
	"math"
	"time"
)

// Truthy coerces an evaluation result to a boolean.
//
// nil (null and undefined), false, 0, NaN, the empty string, the empty list
// and the empty object are false. Every other value is true.
func Truthy(v any) bool {
	switch x := normalize(v).(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	case time.Time:
		return !x.IsZero()
	default:
		return true
	}
}
