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

// MessageHandler handles message endpoints.
type MessageHandler struct {
	coordinator *coordinator.Coordinator
	logger      *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(co *coordinator.Coordinator, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		coordinator: co,
		logger:      log,
	}
}

// Edit handles POST /api/v1/messages/{id}/edit
func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.NewContent); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMode(req.Mode); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.coordinator.EditMessage(r.Context(), messageID, req.NewContent, req.Mode); err != nil {
		h.logger.Error("edit intent failed",
			zap.String("message_id", messageID),
			zap.Error(err))
		writeCoordinatorError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Navigate handles POST /api/v1/messages/{id}/navigate
func (h *MessageHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.NavigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateDirection(req.Direction); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	offset := 1
	if req.Direction == model.DirectionPrev {
		offset = -1
	}

	conversationID, err := h.coordinator.NavigateBranch(r.Context(), messageID, offset)
	if err != nil {
		h.logger.Error("navigate intent failed",
			zap.String("message_id", messageID),
			zap.String("direction", req.Direction),
			zap.Error(err))
		writeCoordinatorError(w, err)
		return
	}

	snap, ok := h.coordinator.Snapshot(conversationID)
	if !ok {
		snap = model.ConversationSnapshot{ConversationID: conversationID}
	}
	writeJSON(w, http.StatusOK, snap)
}

// Branches handles GET /api/v1/messages/{id}/branches
func (h *MessageHandler) Branches(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := h.coordinator.BranchInfo(messageID)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
