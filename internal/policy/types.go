// Package policy evaluates a validated ruleset against a user and member
// context, producing one boolean flag per rule.
//
// The engine never fails: sources that cannot be read fall back to the next
// one and finally to an empty ruleset, and a rule that cannot be evaluated is
// reported as false. Denial is indistinguishable from failure, so ambiguity
// always resolves toward hiding a feature.
package policy

import (
	"time"

	"github.com/rafaeljc/gatekeeper/internal/member"
)

// AuthFunction is a named capability granted to the user.
type AuthFunction struct {
	FunctionName string `json:"functionName" validate:"required"`
	Available    bool   `json:"available"`
}

// GroupData describes the employer group the user belongs to.
type GroupData struct {
	GroupID    string `json:"groupId,omitempty"`
	PolicyType string `json:"policyType,omitempty"`
}

// UserInfo is the authenticated user as seen by the portal.
type UserInfo struct {
	ID            string         `json:"id" validate:"required,max=256"`
	Name          string         `json:"name,omitempty"`
	LOB           string         `json:"lob,omitempty"`
	Roles         []string       `json:"roles,omitempty"`
	SelectedPlan  string         `json:"selectedPlan,omitempty" validate:"max=256"`
	GroupData     *GroupData     `json:"groupData,omitempty"`
	AuthFunctions []AuthFunction `json:"authFunctions,omitempty" validate:"max=1024,dive"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

// EvaluationContext is everything one ComputeRules call evaluates against.
// It is built fresh for every call.
type EvaluationContext struct {
	UserInfo *UserInfo
	Member   member.Record
	Today    time.Time
}

// vars exposes the context to formulas as userInfo, member and today, using
// the same camelCase names as the JSON surface.
func (c *EvaluationContext) vars() map[string]any {
	vars := map[string]any{
		"userInfo": nil,
		"member":   nil,
		"today":    c.Today,
	}
	if c.Member != nil {
		vars["member"] = map[string]any(c.Member)
	}

	u := c.UserInfo
	if u == nil {
		return vars
	}

	roles := make([]any, len(u.Roles))
	for i, r := range u.Roles {
		roles[i] = r
	}

	fns := make([]any, len(u.AuthFunctions))
	for i, f := range u.AuthFunctions {
		fns[i] = map[string]any{"functionName": f.FunctionName, "available": f.Available}
	}

	var group any
	if u.GroupData != nil {
		group = map[string]any{"groupId": u.GroupData.GroupID, "policyType": u.GroupData.PolicyType}
	}

	attrs := u.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}

	vars["userInfo"] = map[string]any{
		"id":            u.ID,
		"name":          u.Name,
		"lob":           u.LOB,
		"roles":         roles,
		"selectedPlan":  u.SelectedPlan,
		"groupData":     group,
		"authFunctions": fns,
		"attributes":    attrs,
	}
	return vars
}
