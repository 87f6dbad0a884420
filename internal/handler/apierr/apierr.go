// Package apierr maps domain errors to HTTP statuses and error kinds.
package apierr

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/loandesk/backend/internal/service/ai"
	"github.com/loandesk/backend/internal/service/collection"
	"github.com/loandesk/backend/internal/service/evaluation"
	"github.com/loandesk/backend/internal/service/session"
	"github.com/loandesk/backend/internal/service/workflow"
	"github.com/loandesk/backend/pkg/utils"
)

// Error kinds reported to clients.
const (
	KindNotFound           = "not_found"
	KindBackendUnavailable = "backend_unavailable"
	KindBackendTimeout     = "backend_timeout"
	KindEvaluation         = "evaluation_failed"
	KindInvalidApplication = "invalid_application"
	KindNotReady           = "not_ready"
	KindBadRequest         = "bad_request"
	KindCanceled           = "canceled"
	KindInternal           = "internal"
)

// Classify returns the status and kind for err.
func Classify(err error) (int, string) {
	switch {
	// 调用方取消优先于评估失败：取消会被包装进 EvaluationError
	case errors.Is(err, context.Canceled):
		return 499, KindCanceled
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, KindNotFound
	case errors.Is(err, evaluation.ErrEvaluation):
		return http.StatusBadGateway, KindEvaluation
	case errors.Is(err, ai.ErrBackendTimeout):
		return http.StatusGatewayTimeout, KindBackendTimeout
	case errors.Is(err, ai.ErrBackendUnavailable), errors.Is(err, ai.ErrUnknownParticipant):
		return http.StatusServiceUnavailable, KindBackendUnavailable
	case errors.Is(err, workflow.ErrInvalidApplication):
		return http.StatusBadRequest, KindInvalidApplication
	case errors.Is(err, workflow.ErrMessageRequired):
		return http.StatusBadRequest, KindBadRequest
	case errors.Is(err, evaluation.ErrNotReady), errors.Is(err, collection.ErrAlreadyCollected):
		return http.StatusConflict, KindNotReady
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, KindBackendTimeout
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

// Body builds the error payload for err.
func Body(err error, sessionID string) (int, utils.ErrorBody) {
	status, kind := Classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	return status, utils.ErrorBody{Error: message, Kind: kind, SessionID: sessionID}
}

// Respond writes err as a JSON error response.
func Respond(w http.ResponseWriter, err error, sessionID string) {
	status, body := Body(err, sessionID)
	if status >= http.StatusInternalServerError {
		log.Printf("[api] session=%s %s: %v", sessionID, body.Kind, err)
	}
	utils.RespondErrorBody(w, status, body)
}
