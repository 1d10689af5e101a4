package httpapi

import (
	"encoding/json"
	"net/http"

	"glayoutd/internal/catalog"
	"glayoutd/internal/engine"
	"glayoutd/internal/hub"
	"glayoutd/internal/loader"
	"glayoutd/internal/session"
	"glayoutd/internal/trainer"
	"glayoutd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusForError maps well-known service errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case catalog.IsInvalidModelKey(err):
		return http.StatusBadRequest
	case hub.IsSessionNotFound(err):
		return http.StatusNotFound
	case hub.IsTooBusy(err):
		return http.StatusTooManyRequests
	case engine.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case loader.IsCheckpointCorrupt(err), trainer.IsUnsupportedFamily(err), session.IsGenerationFailure(err):
		return http.StatusInternalServerError
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

// writeServiceError maps err to a status, counts backpressure, and responds.
func writeServiceError(w http.ResponseWriter, err error) int {
	status := statusForError(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("session_busy")
	}
	writeJSONError(w, status, err.Error())
	return status
}
