package api

import (
	"encoding/json"
	"net/http"
)

// Stable machine-readable failure codes, distinct from the HTTP status so
// clients can branch without string-matching messages.
const (
	CodeMissingAPIKey       = "MISSING_API_KEY"
	CodeInvalidAPIKey       = "INVALID_API_KEY"
	CodeMissingToken        = "MISSING_TOKEN"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	CodeRefreshExpired      = "REFRESH_EXPIRED"
	CodeRefreshRevoked      = "REFRESH_REVOKED"
	CodeAccountInactive     = "ACCOUNT_INACTIVE"
	CodeRateLimited         = "RATE_LIMITED"
	CodeValidationError     = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeAuthFailed          = "AUTH_FAILED"
	CodeInternalError       = "INTERNAL_ERROR"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
