package orchestrator

import (
	"errors"
	"net/http"

	"github.com/sells-group/visa-pipeline/internal/model"
)

// ErrorResponse is the JSON body returned for failed operations.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail any    `json:"detail,omitempty"`
}

// HTTPStatus maps an error kind to its HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, model.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrSubmissionNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrMissingPrerequisite):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrInputTooShort),
		errors.Is(err, model.ErrAnswersCountMismatch),
		errors.Is(err, model.ErrEmptyAnswer),
		errors.Is(err, model.ErrInvalidStage):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInvalidOutput),
		errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrNoCandidates),
		errors.Is(err, model.ErrInsufficientQuestions):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrUpstreamTransient):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// NewErrorResponse builds the response body for err. Internal errors carry
// no detail.
func NewErrorResponse(err error) ErrorResponse {
	resp := ErrorResponse{Error: model.ErrorCode(err)}

	var pe *model.PrerequisiteError
	var ce *model.ContractError
	switch {
	case errors.As(err, &pe):
		missing := make([]string, len(pe.Missing))
		for i, f := range pe.Missing {
			missing[i] = string(f)
		}
		resp.Detail = map[string]any{"stage": string(pe.Stage), "missing": missing}
	case errors.As(err, &ce):
		if len(ce.Detail) > 0 {
			resp.Detail = ce.Detail
		}
	case HTTPStatus(err) != http.StatusInternalServerError:
		resp.Detail = err.Error()
	}
	return resp
}
