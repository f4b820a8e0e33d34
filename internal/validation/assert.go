package validation

import (
	"fmt"
	"reflect"
)

// AssertNotNil panics when a mandatory configuration section is missing.
// Constructors call it; a nil section is a wiring bug, never a runtime
// condition.
//
//	validation.AssertNotNil(cfg, "syncer config")
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("gatekeeper: %s cannot be nil", name))
	}
}

// AssertPresent is AssertNotNil for interface and function dependencies. It
// also catches a typed nil stored in the interface.
func AssertPresent(dep any, name string) {
	if dep == nil || isNilValue(reflect.ValueOf(dep)) {
		panic(fmt.Sprintf("gatekeeper: %s cannot be nil", name))
	}
}

func isNilValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Chan, reflect.Interface, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}
