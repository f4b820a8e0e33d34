package api

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/render"

	"github.com/rafaeljc/gatekeeper/internal/logger"
	"github.com/rafaeljc/gatekeeper/internal/ruleset"
	"github.com/rafaeljc/gatekeeper/internal/store"
)

// ActorHeader names who publishes a ruleset. It is recorded, not trusted.
const ActorHeader = "X-Actor"

const defaultActor = "api"

// handleListRules describes the rules of the active engine.
func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	engine := a.engines.Engine()
	rules := engine.Rules()

	resp := RulesResponse{Origin: engine.Origin(), Rules: make([]RuleSummary, 0, len(rules))}
	for _, name := range engine.RuleNames() {
		def := rules[name]
		resp.Rules = append(resp.Rules, RuleSummary{
			Name:        name,
			Type:        string(def.Kind()),
			Description: def.Doc(),
		})
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// handleReloadRules rebuilds the engine from the configured sources and swaps
// it in. When every source fails the current engine stays in service and the
// response reports swapped=false.
func (a *API) handleReloadRules(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	prev, swapped := a.engines.Reload(r.Context(), a.load)
	cur := a.engines.Engine()

	if swapped {
		log.Info("rules reloaded on request",
			"origin", cur.Origin(),
			"rules", cur.Len(),
			"previous_origin", prev.Origin(),
		)
	} else {
		log.Warn("rules reload produced no usable rules, keeping the current engine",
			"origin", cur.Origin(),
			"rules", cur.Len(),
		)
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, ReloadResponse{
		Origin:         cur.Origin(),
		Rules:          cur.Len(),
		PreviousOrigin: prev.Origin(),
		Swapped:        swapped,
	})
}

// handlePutRuleset validates a rules document and saves it as the new
// current version. Re-saving the current document is a no-op answered with
// 200; a new version answers 201.
func (a *API) handlePutRuleset(w http.ResponseWriter, r *http.Request) {
	if !a.requireRulesets(w, r) {
		return
	}
	log := logger.FromContext(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.renderDecodeError(w, r, err)
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "Rules document is required"})
		return
	}

	rules, err := ruleset.Parse(body)
	if err != nil {
		var cfgErr *ruleset.ConfigValidationError
		if errors.As(err, &cfgErr) {
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_INVALID_RULES",
				Message: "Rules document does not match the rule schema",
				Details: []ErrorDetail{{
					Field: cfgErr.Path,
					Issue: fmt.Sprintf("expected %s, got %s", cfgErr.Expected, cfgErr.Got),
				}},
			})
			return
		}
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_DOCUMENT", Message: err.Error()})
		return
	}

	actor := strings.TrimSpace(r.Header.Get(ActorHeader))
	if actor == "" {
		actor = defaultActor
	}

	rs := &store.Ruleset{Document: string(body), CreatedBy: actor}
	err = a.rulesets.PutRuleset(r.Context(), rs)
	changed := true
	switch {
	case errors.Is(err, store.ErrRulesetUnchanged):
		changed = false
	case err != nil:
		log.Error("failed to save ruleset", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to save ruleset"})
		return
	}

	status := http.StatusCreated
	if !changed {
		status = http.StatusOK
	}
	log.Info("ruleset saved", "version", rs.Version, "changed", changed, "rules", len(rules), "actor", actor)

	render.Status(r, status)
	render.JSON(w, r, PutRulesetResponse{
		Ruleset: toRuleset(rs, false),
		Changed: changed,
		Rules:   len(rules),
	})
}

// handleListRulesets returns the version history, newest first.
func (a *API) handleListRulesets(w http.ResponseWriter, r *http.Request) {
	if !a.requireRulesets(w, r) {
		return
	}

	page, err := parseOptionalInt(r, "page", 1)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_QUERY_PARAM", Message: err.Error()})
		return
	}
	pageSize, err := parseOptionalInt(r, "page_size", 10)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_QUERY_PARAM", Message: err.Error()})
		return
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}

	items, total, err := a.rulesets.ListRulesets(r.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to list rulesets", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to list rulesets"})
		return
	}

	data := make([]Ruleset, 0, len(items))
	for _, rs := range items {
		data = append(data, toRuleset(rs, false))
	}

	totalPages := 0
	if total > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(pageSize)))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PaginatedResponse{
		Data: data,
		Pagination: Pagination{
			TotalItems:  total,
			TotalPages:  totalPages,
			CurrentPage: page,
			PageSize:    pageSize,
		},
	})
}

// handleGetLatestRuleset returns the current version including its document.
func (a *API) handleGetLatestRuleset(w http.ResponseWriter, r *http.Request) {
	if !a.requireRulesets(w, r) {
		return
	}

	rs, err := a.rulesets.LatestRuleset(r.Context())
	if errors.Is(err, store.ErrNoRuleset) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{Code: "ERR_NOT_FOUND", Message: "No ruleset has been saved yet"})
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to read latest ruleset", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to read ruleset"})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toRuleset(rs, true))
}

func (a *API) requireRulesets(w http.ResponseWriter, r *http.Request) bool {
	if a.rulesets != nil {
		return true
	}
	render.Status(r, http.StatusNotImplemented)
	render.JSON(w, r, ErrorResponse{
		Code:    "ERR_NOT_CONFIGURED",
		Message: "Ruleset storage is not configured",
	})
	return false
}

// parseOptionalInt extracts an integer from the query string.
// If the parameter is missing, it returns the defaultValue.
func parseOptionalInt(r *http.Request, key string, defaultValue int) (int, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("parameter '%s' must be an integer", key)
	}
	return val, nil
}

func toRuleset(rs *store.Ruleset, withDocument bool) Ruleset {
	out := Ruleset{
		Version:   rs.Version,
		Checksum:  rs.Checksum,
		CreatedBy: rs.CreatedBy,
		CreatedAt: rs.CreatedAt,
	}
	if withDocument {
		out.Document = rs.Document
	}
	return out
}
