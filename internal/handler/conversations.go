// Package handler provides the gateway's HTTP handlers.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/threadline-ai/conversation-gateway/internal/coordinator"
	"github.com/threadline-ai/conversation-gateway/internal/middleware"
	"github.com/threadline-ai/conversation-gateway/internal/model"
	"github.com/threadline-ai/conversation-gateway/pkg/logger"
)

// newConversationID is the path segment clients use to address the
// draft, not-yet-persisted conversation.
const newConversationID = "new"

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	coordinator *coordinator.Coordinator
	logger      *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(co *coordinator.Coordinator, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		coordinator: co,
		logger:      log,
	}
}

// conversationIDParam resolves the {id} path segment, mapping the "new"
// sentinel to the empty draft id.
func conversationIDParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if id == newConversationID {
		return "", nil
	}
	return id, middleware.ValidateID(id)
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *ConversationHandler) Send(w http.ResponseWriter, r *http.Request) {
	conversationID, err := conversationIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMode(req.Mode); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.coordinator.SendMessage(r.Context(), conversationID, req.Text, req.Mode)
	if err != nil {
		h.logger.Error("send intent failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		writeCoordinatorError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, model.SendMessageResponse{ConversationID: id})
}

// Select handles POST /api/v1/conversations/{id}/select
func (h *ConversationHandler) Select(w http.ResponseWriter, r *http.Request) {
	conversationID, err := conversationIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.coordinator.SelectConversation(r.Context(), conversationID); err != nil {
		writeCoordinatorError(w, err)
		return
	}

	snap, ok := h.coordinator.Snapshot(conversationID)
	if !ok {
		snap = model.ConversationSnapshot{ConversationID: conversationID}
	}
	writeJSON(w, http.StatusOK, snap)
}

// Stop handles POST /api/v1/conversations/{id}/stop
func (h *ConversationHandler) Stop(w http.ResponseWriter, r *http.Request) {
	conversationID, err := conversationIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.coordinator.StopGeneration(conversationID)
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/v1/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	conversationID, err := conversationIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.coordinator.DeleteConversation(conversationID)
	w.WriteHeader(http.StatusNoContent)
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID, err := conversationIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, ok := h.coordinator.Snapshot(conversationID)
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not known locally, select it first")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
