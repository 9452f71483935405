package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/threadline-ai/conversation-gateway/internal/backend"
	"github.com/threadline-ai/conversation-gateway/internal/coordinator"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeCoordinatorError maps coordinator and upstream failures onto
// northbound status codes.
func writeCoordinatorError(w http.ResponseWriter, err error) {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, coordinator.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message text is empty")
	case errors.Is(err, coordinator.ErrUnknownMessage):
		writeError(w, http.StatusNotFound, "unknown message")
	case errors.Is(err, coordinator.ErrUnknownConversation):
		writeError(w, http.StatusNotFound, "unknown conversation")
	case errors.Is(err, backend.ErrAuthExpired):
		writeError(w, http.StatusUnauthorized, "upstream authentication expired")
	case errors.Is(err, backend.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation no longer exists upstream")
	case errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, apiErr.Message)
	default:
		writeError(w, http.StatusBadGateway, "upstream request failed")
	}
}
