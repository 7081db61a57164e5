package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap/zaptest"

	"github.com/kozaktomas/pagefinder/internal/index"
	"github.com/kozaktomas/pagefinder/internal/initializer"
	"github.com/kozaktomas/pagefinder/internal/worker"
)

func TestRespondJSON_SetsStatusAndContentType(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"OK", http.StatusOK},
		{"Accepted", http.StatusAccepted},
		{"Conflict", http.StatusConflict},
		{"ServiceUnavailable", http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondJSON(recorder, tc.statusCode, map[string]string{"status": "ok"})

			if recorder.Code != tc.statusCode {
				t.Errorf("expected status %d, got %d", tc.statusCode, recorder.Code)
			}
			if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
			}
		})
	}
}

func TestRespondJSON_NilData(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusNoContent, nil)

	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", recorder.Body.String())
	}
}

func TestRespondError(t *testing.T) {
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/frames", nil)
	chiMiddleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, "bad frame")
	})).ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", recorder.Code)
	}
	body := decode[ErrorResponse](t, recorder)
	if body.Code != CodeInvalidRequest || body.Message != "bad frame" {
		t.Errorf("unexpected error body %+v", body)
	}
	if body.RequestID == "" {
		t.Error("expected the request id in the error body")
	}
}

func TestRespondMatcherError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   ErrorCode
		wantState  worker.State
	}{
		{"busy", initializer.ErrBusy, http.StatusConflict, CodeBusy, worker.StateBusy},
		{"closed", fmt.Errorf("submit: %w", initializer.ErrClosed), http.StatusServiceUnavailable, CodeClosed, worker.StateClosed},
		{"empty subset", fmt.Errorf("%w: subset B", index.ErrEmptySubset), http.StatusUnprocessableEntity, CodeUnusable, ""},
		{"other", errors.New("disk full"), http.StatusInternalServerError, CodeInternal, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPut, "/api/v1/catalog", nil)
			respondMatcherError(recorder, req, zaptest.NewLogger(t), "replace catalog", tc.err)

			if recorder.Code != tc.wantStatus {
				t.Errorf("expected status %d, got %d", tc.wantStatus, recorder.Code)
			}
			body := decode[ErrorResponse](t, recorder)
			if body.Code != tc.wantCode || body.State != tc.wantState {
				t.Errorf("unexpected error body %+v", body)
			}
		})
	}

	// internal details stay in the log
	recorder := httptest.NewRecorder()
	respondMatcherError(recorder, httptest.NewRequest(http.MethodPut, "/", nil), zaptest.NewLogger(t), "replace catalog", errors.New("disk full"))
	if body := decode[ErrorResponse](t, recorder); body.Message != "failed to replace catalog" {
		t.Errorf("expected a generic message, got %q", body.Message)
	}
}

func TestCleanParam(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"10s", "10s"},
		{"1s\nINFO fake", "1sINFO fake"},
		{"a\r\nb", "ab"},
	}
	for _, tc := range tests {
		if got := cleanParam(tc.in); got != tc.want {
			t.Errorf("cleanParam(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	rec := serve(HealthCheck, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if body := decode[map[string]string](t, rec); body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body)
	}
}
