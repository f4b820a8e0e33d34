package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/rafaeljc/gatekeeper/internal/logger"
	"github.com/rafaeljc/gatekeeper/internal/policy"
)

// handleComputeFlags computes the flag snapshot for one session.
//
// A failed session yields state "error" and an unresolved one yields
// "loading"; in both cases every flag is denied and no rule is evaluated.
func (a *API) handleComputeFlags(w http.ResponseWriter, r *http.Request) {
	var req ComputeRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		a.renderDecodeError(w, r, err)
		return
	}

	evaluationID := uuid.NewString()
	ctx := logger.With(r.Context(), "evaluation_id", evaluationID)
	engine := a.engines.Engine()

	var snap policy.Snapshot
	switch {
	case req.Error != "":
		logger.FromContext(ctx).Info("session failed, denying all flags", "session_error", req.Error)
		snap = policy.Failed()
	case req.UserInfo == nil:
		snap = policy.Loading()
	default:
		if errResp := a.validateUser(req.UserInfo); errResp != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errResp)
			return
		}
		snap = policy.Ready(engine.ComputeRules(ctx, req.UserInfo, req.Member))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, ComputeResponse{
		EvaluationID: evaluationID,
		Snapshot:     snap,
		Origin:       engine.Origin(),
	})
}

// validateUser runs the struct tags of policy.UserInfo.
func (a *API) validateUser(u *policy.UserInfo) *ErrorResponse {
	err := a.validate.Struct(u)
	if err == nil {
		return nil
	}

	resp := &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "userInfo is invalid"}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			resp.Details = append(resp.Details, ErrorDetail{Field: fe.Namespace(), Issue: fe.Tag()})
		}
	}
	return resp
}

// renderDecodeError maps body decoding failures: 413 when the body exceeds
// the configured limit, 400 otherwise.
func (a *API) renderDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		render.Status(r, http.StatusRequestEntityTooLarge)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_PAYLOAD_TOO_LARGE",
			Message: "Request body exceeds the configured limit",
		})
		return
	}

	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{
		Code:    "ERR_INVALID_JSON",
		Message: "Invalid request body format",
	})
}
