package api

import (
	"time"

	"github.com/rafaeljc/gatekeeper/internal/member"
	"github.com/rafaeljc/gatekeeper/internal/policy"
)

// ComputeRequest is the payload of POST /api/v1/flags:compute.
//
// It mirrors the session as the UI sees it: a missing user means the session
// is still resolving, and Error reports that it failed.
type ComputeRequest struct {
	UserInfo *policy.UserInfo `json:"userInfo"`
	Member   member.Record    `json:"member"`

	// Error is set by the caller when the user session could not be resolved.
	Error string `json:"error,omitempty"`
}

// ComputeResponse carries the flag snapshot for one session.
type ComputeResponse struct {
	EvaluationID string `json:"evaluationId"`
	policy.Snapshot
	Origin string `json:"origin"`
}

// RuleSummary describes one loaded rule without its definition.
type RuleSummary struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// RulesResponse lists the rules of the active engine.
type RulesResponse struct {
	Origin string        `json:"origin"`
	Rules  []RuleSummary `json:"rules"`
}

// ReloadResponse reports the outcome of POST /api/v1/rules:reload.
type ReloadResponse struct {
	Origin         string `json:"origin"`
	Rules          int    `json:"rules"`
	PreviousOrigin string `json:"previousOrigin"`
	// Swapped is false when the reload produced no usable rules and the
	// previous engine stays in service.
	Swapped bool `json:"swapped"`
}

// Ruleset is a stored ruleset version. Document is omitted from listings.
type Ruleset struct {
	Version   int64     `json:"version"`
	Checksum  string    `json:"checksum"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	Document  string    `json:"document,omitempty"`
}

// PutRulesetResponse reports the stored version.
type PutRulesetResponse struct {
	Ruleset
	Changed bool `json:"changed"`
	Rules   int  `json:"rules"`
}

// PaginatedResponse is a standard wrapper for list endpoints to support offset pagination.
type PaginatedResponse struct {
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination metadata for the frontend pager.
type Pagination struct {
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}
