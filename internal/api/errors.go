package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/esiebomaj/commander/internal/actions"
	"github.com/esiebomaj/commander/internal/retrieval"
	"github.com/esiebomaj/commander/internal/storage"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeErr maps domain errors onto HTTP statuses. what names the resource in
// the message ("action 7").
func writeErr(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%s not found", what)
	case errors.Is(err, actions.ErrInvalidPayload):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, storage.ErrConflict):
		httpError(w, http.StatusConflict, "conflict", "%s cannot be changed in its current status", what)
	case errors.Is(err, actions.ErrInProgress):
		httpError(w, http.StatusConflict, "conflict", "%s is being executed", what)
	case errors.Is(err, retrieval.ErrEmbeddingUnavailable), errors.Is(err, retrieval.ErrIndexUnavailable):
		httpError(w, http.StatusServiceUnavailable, "unavailable", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%s: %v", what, err)
	}
}
