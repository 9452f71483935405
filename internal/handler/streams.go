package handler

import (
	"net/http"

	"github.com/threadline-ai/conversation-gateway/internal/coordinator"
	"github.com/threadline-ai/conversation-gateway/internal/model"
)

// StreamHandler reports which conversations currently have a live
// generation running.
type StreamHandler struct {
	coordinator *coordinator.Coordinator
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(co *coordinator.Coordinator) *StreamHandler {
	return &StreamHandler{coordinator: co}
}

// List handles GET /api/v1/streams
func (h *StreamHandler) List(w http.ResponseWriter, r *http.Request) {
	ids := h.coordinator.StreamingConversations()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, model.StreamsResponse{Streaming: ids})
}
