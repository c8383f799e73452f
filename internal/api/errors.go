// Package api provides common HTTP API utilities including error handling.
package api

import (
	"encoding/json"
	"net/http"
)

// Deterministic reason codes for stable error classification.
// These codes should remain stable across versions for client compatibility.
const (
	// Authentication
	ReasonUnauthenticated = "unauthenticated"
	ReasonTokenInvalid    = "token_invalid"
	ReasonTokenExpired    = "token_expired"

	// Authorization
	ReasonForbidden     = "forbidden"
	ReasonTokenMismatch = "token_mismatch"

	// Request validation
	ReasonBadRequest   = "bad_request"
	ReasonMissingField = "missing_field"
	ReasonInvalidField = "invalid_field"
	ReasonNotFound     = "not_found"
	ReasonConflict     = "conflict"
	ReasonGone         = "gone"

	// Upstream / server errors
	ReasonUpstreamError = "upstream_error"
	ReasonInternalError = "internal_error"
)

// ErrorEnvelope is the standard error response format.
// All error responses should use this structure for consistency.
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error information.
type ErrorDetail struct {
	Code       string `json:"code"`        // HTTP status text (e.g., "forbidden")
	ReasonCode string `json:"reason_code"` // Deterministic reason code
	Message    string `json:"message"`     // Human-readable message
}

// WriteError writes a standardized JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, reasonCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	envelope := ErrorEnvelope{
		Error: ErrorDetail{
			Code:       http.StatusText(statusCode),
			ReasonCode: reasonCode,
			Message:    message,
		},
	}

	json.NewEncoder(w).Encode(envelope)
}

// WriteJSON writes a JSON success response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// WriteUnauthorized writes a 401 Unauthorized error.
func WriteUnauthorized(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusUnauthorized, reasonCode, message)
}

// WriteForbidden writes a 403 Forbidden error.
func WriteForbidden(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusForbidden, reasonCode, message)
}

// WriteNotFound writes a 404 Not Found error.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ReasonNotFound, message)
}

// WriteGone writes a 410 Gone error.
func WriteGone(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGone, ReasonGone, message)
}

// WriteBadRequest writes a 400 Bad Request error.
func WriteBadRequest(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusBadRequest, reasonCode, message)
}

// WriteConflict writes a 409 Conflict error.
func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, ReasonConflict, message)
}

// WriteInternalError writes a 500 Internal Server Error.
// Be careful not to leak sensitive information in the message.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ReasonInternalError, message)
}

// WriteUpstreamError writes a 502 Bad Gateway error for third-party failures.
func WriteUpstreamError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, ReasonUpstreamError, message)
}
