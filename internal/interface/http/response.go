package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the envelope of every JSON response.
type JSONResponse struct {
	Data   interface{}   `json:"data,omitempty"`
	Notice string        `json:"notice,omitempty"`
	Errors []APIError    `json:"errors,omitempty"`
	Meta   *ResponseMeta `json:"meta,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}, notice string) {
	writeBody(w, status, JSONResponse{Data: data, Notice: notice, Meta: responseMeta(r)})
}

// writeBody encodes a body that does not fit the JSONResponse envelope.
func writeBody(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func responseMeta(r *http.Request) *ResponseMeta {
	return &ResponseMeta{
		Timestamp: time.Now().UTC(),
		Version:   "v1",
		RequestID: getRequestID(r.Context()),
	}
}

func writeErrors(w http.ResponseWriter, status int, errs ...APIError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Errors: errs,
		Meta:   &ResponseMeta{Timestamp: time.Now().UTC()},
	})
}

// writeError maps an application error onto a status code and error body.
// Unclassified errors are logged and hidden behind a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed",
			logger.String("path", r.URL.Path),
			logger.Err(err),
		)
		writeErrors(w, status, APIError{Code: code, Message: "an unexpected error occurred"})
		return
	}
	writeErrors(w, status, APIError{Code: code, Message: errorMessage(err)})
}

// classify returns the status and error code for err. Order matters: a
// forbidden self-validation must not read as a validation error.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "validation_error"
	case shared.IsConcurrencyConflict(err):
		return http.StatusConflict, "version_conflict"
	case shared.IsStateConflict(err):
		return http.StatusConflict, "state_conflict"
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, "already_exists"
	case shared.IsInvariantViolation(err):
		return http.StatusUnprocessableEntity, "invariant_violation"
	case errors.Is(err, shared.ErrNothingToEdit):
		return http.StatusUnprocessableEntity, "nothing_to_edit"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func errorMessage(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}
