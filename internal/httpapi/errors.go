package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"promptline/internal/backend"
	"promptline/internal/chat"
	"promptline/internal/generation"
	"promptline/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case generation.IsBusy(err):
		return http.StatusConflict
	case backend.IsConfiguration(err):
		return http.StatusUnprocessableEntity
	case backend.IsAuth(err):
		return http.StatusUnauthorized
	case backend.IsTransport(err):
		return http.StatusBadGateway
	case errors.Is(err, chat.ErrNothingToContinue):
		return http.StatusUnprocessableEntity
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && zlog != nil {
		zlog.Warn().Err(err).Msg("encode response")
	}
}
