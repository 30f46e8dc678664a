// ABOUTME: Standardized JSON error responses for the HTTP API.
// ABOUTME: Maps plugin core errors to status codes and machine-readable codes.

package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/egidijus/funkwhale/plugins/core"
)

// ErrorResponse is the body of every error the API returns.
//
//	WriteError(w, http.StatusBadRequest, ErrInvalidBody, "The request body is malformed")
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Field   string `json:"field,omitempty"`   // set for validation errors
	Details string `json:"details,omitempty"` // extra context
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeErrorResponse(w, ErrorResponse{
		Code:    code,
		Message: message,
		Status:  status,
	})
}

// WriteErrorWithField reports a rejected field, so clients can attach the
// message to the right form input.
func WriteErrorWithField(w http.ResponseWriter, status int, code, message, field string) {
	writeErrorResponse(w, ErrorResponse{
		Code:    code,
		Message: message,
		Status:  status,
		Field:   field,
	})
}

func WriteErrorWithDetails(w http.ResponseWriter, status int, code, message, details string) {
	writeErrorResponse(w, ErrorResponse{
		Code:    code,
		Message: message,
		Status:  status,
		Details: details,
	})
}

// WriteCoreError translates an error returned by the plugin core.
// Unrecognized errors become a 500 without leaking their text.
func WriteCoreError(w http.ResponseWriter, err error) {
	var (
		configErr    *core.ConfigError
		validation   *core.ValidationError
		notFound     *core.NotFoundError
		lookupErr    *core.LookupError
		argumentErr  *core.ArgumentError
		duplicateErr *core.DuplicatePluginError
	)

	switch {
	case errors.As(err, &configErr):
		WriteErrorWithField(w, http.StatusBadRequest, ErrValidationFailed, configErr.Error(), configErr.Field)
	case errors.As(err, &validation):
		WriteErrorWithField(w, http.StatusBadRequest, ErrValidationFailed, validation.Message, validation.Field)
	case errors.As(err, &notFound):
		WriteError(w, http.StatusNotFound, ErrNotFound, notFound.Error())
	case errors.As(err, &duplicateErr):
		WriteError(w, http.StatusConflict, ErrConflict, duplicateErr.Error())
	case errors.Is(err, core.ErrStorage):
		WriteError(w, http.StatusServiceUnavailable, ErrDatabaseError, "Plugin configuration storage is unavailable")
	case errors.As(err, &lookupErr), errors.As(err, &argumentErr):
		WriteErrorWithDetails(w, http.StatusInternalServerError, ErrInternal, "Internal server error", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, ErrInternal, "Internal server error")
	}
}

func writeErrorResponse(w http.ResponseWriter, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	json.NewEncoder(w).Encode(resp)
}

const (
	// Client errors (4xx)
	ErrInvalidRequest   = "invalid_request"
	ErrInvalidBody      = "invalid_request_body"
	ErrMissingField     = "missing_field"
	ErrValidationFailed = "validation_failed"
	ErrNotFound         = "not_found"
	ErrUnauthorized     = "unauthorized"
	ErrForbidden        = "forbidden"
	ErrConflict         = "conflict"
	ErrMethodNotAllowed = "method_not_allowed"

	// Server errors (5xx)
	ErrInternal           = "internal_error"
	ErrDatabaseError      = "database_error"
	ErrServiceUnavailable = "service_unavailable"
)
