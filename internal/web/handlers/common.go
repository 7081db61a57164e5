package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kozaktomas/pagefinder/internal/index"
	"github.com/kozaktomas/pagefinder/internal/initializer"
	"github.com/kozaktomas/pagefinder/internal/worker"
)

// ErrorCode classifies an API error so clients can react without parsing
// the message.
type ErrorCode string

const (
	CodeInvalidRequest ErrorCode = "invalid_request"
	CodeBusy           ErrorCode = "busy"
	CodeClosed         ErrorCode = "closed"
	CodeUnusable       ErrorCode = "unusable_catalog"
	CodeInternal       ErrorCode = "internal"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Code      ErrorCode    `json:"code"`
	Message   string       `json:"message"`
	State     worker.State `json:"state,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
}

// cleanParam strips line breaks from a client value echoed in a message.
func cleanParam(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, message string) {
	respondJSON(w, status, ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: chiMiddleware.GetReqID(r.Context()),
	})
}

// respondMatcherError maps initializer errors to a status and code. Errors
// without a mapping are logged and reported as 500 with a generic message.
func respondMatcherError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, action string, err error) {
	resp := ErrorResponse{RequestID: chiMiddleware.GetReqID(r.Context())}
	var status int
	switch {
	case errors.Is(err, initializer.ErrBusy):
		status, resp.Code, resp.State, resp.Message = http.StatusConflict, CodeBusy, worker.StateBusy, "matcher is busy"
	case errors.Is(err, initializer.ErrClosed):
		status, resp.Code, resp.State, resp.Message = http.StatusServiceUnavailable, CodeClosed, worker.StateClosed, "matcher is shut down"
	case errors.Is(err, index.ErrEmptySubset):
		status, resp.Code, resp.Message = http.StatusUnprocessableEntity, CodeUnusable, err.Error()
	default:
		logger.Error("failed to "+action, zap.Error(err), zap.String("request_id", resp.RequestID))
		status, resp.Code, resp.Message = http.StatusInternalServerError, CodeInternal, "failed to "+action
	}
	respondJSON(w, status, resp)
}

// HealthCheck reports that the server is up.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
