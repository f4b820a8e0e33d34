// Package member defines the plan-scoped member data consumed by the policy
// engine and the adapters that fetch it when a user switches plans.
package member

import (
	"context"
	"errors"
)

// Record is a member record scoped to one plan, as returned by the member
// backend. Its shape is owned by that backend; rules address it through
// formulas such as member.coverageTypes.
type Record map[string]any

// ErrNotFound reports that the backend has no record for the user and plan.
var ErrNotFound = errors.New("member record not found")

// Adapter fetches the member record for a (user, plan) pair.
// Implementations must enforce their own timeout.
type Adapter interface {
	FetchMemberForPlan(ctx context.Context, userID, planID string) (Record, error)
}

// Writer stores member records for a (user, plan) pair. Backends that can
// be written to implement it next to Adapter.
type Writer interface {
	PutMember(ctx context.Context, userID, planID string, rec Record) error
}

// AdapterFunc adapts a plain function to the Adapter interface.
type AdapterFunc func(ctx context.Context, userID, planID string) (Record, error)

// FetchMemberForPlan calls f.
func (f AdapterFunc) FetchMemberForPlan(ctx context.Context, userID, planID string) (Record, error) {
	return f(ctx, userID, planID)
}

func validateKey(userID, planID string) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	if planID == "" {
		return errors.New("plan id is required")
	}
	return nil
}
