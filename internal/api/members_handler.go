package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rafaeljc/gatekeeper/internal/logger"
	"github.com/rafaeljc/gatekeeper/internal/member"
)

const memberIDRules = "required,max=256,identifier"

// handlePutMember stores the plan-scoped record a plan switch refetches and
// drops any cached copy, so the next computation for that plan sees it.
func (a *API) handlePutMember(w http.ResponseWriter, r *http.Request) {
	if a.members == nil {
		render.Status(r, http.StatusNotImplemented)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_NOT_CONFIGURED",
			Message: "Member storage is not configured",
		})
		return
	}

	userID := chi.URLParam(r, "userID")
	planID := chi.URLParam(r, "planID")
	if a.validate.Var(userID, memberIDRules) != nil || a.validate.Var(planID, memberIDRules) != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "User and plan ids must be non-empty and contain no whitespace or '/'"})
		return
	}

	var rec member.Record
	if err := render.DecodeJSON(r.Body, &rec); err != nil {
		a.renderDecodeError(w, r, err)
		return
	}
	if rec == nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "Member record must be a JSON object"})
		return
	}

	log := logger.FromContext(r.Context()).With("user_id", userID, "plan", planID)
	if err := a.members.PutMember(r.Context(), userID, planID, rec); err != nil {
		log.Error("failed to save member record", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to save member record"})
		return
	}
	if a.memberCache != nil {
		a.memberCache.Invalidate(userID, planID)
	}

	log.Info("member record saved")
	render.NoContent(w, r)
}
