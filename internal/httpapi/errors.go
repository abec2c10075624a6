package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"assistd/internal/engine"
	"assistd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeEngineError maps well-known engine errors to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotReady):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, engine.ErrAlreadyRunning), errors.Is(err, engine.ErrNotRunning):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		if _, ok := engine.IsTrainingError(err); ok {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if he, ok := err.(HTTPError); ok {
			writeJSONError(w, he.StatusCode(), he.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}
