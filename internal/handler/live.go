package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/threadline-ai/conversation-gateway/internal/coordinator"
	"github.com/threadline-ai/conversation-gateway/internal/model"
	"github.com/threadline-ai/conversation-gateway/pkg/logger"
)

// LiveHandler serves SSE view feeds. Each connection receives the current
// thread as an initial snapshot frame, then message and snapshot frames as
// the coordinator updates the view.
type LiveHandler struct {
	coordinator *coordinator.Coordinator
	hub         *LiveHub
	logger      *logger.Logger
	heartbeat   time.Duration
}

// NewLiveHandler creates a new live view handler.
func NewLiveHandler(co *coordinator.Coordinator, hub *LiveHub, log *logger.Logger, heartbeat time.Duration) *LiveHandler {
	return &LiveHandler{
		coordinator: co,
		hub:         hub,
		logger:      log,
		heartbeat:   heartbeat,
	}
}

// Live handles GET /api/v1/conversations/{id}/live
func (h *LiveHandler) Live(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conversationID, err := conversationIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// The server's write timeout would sever long-lived feeds; clear the
	// deadline for this connection only.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Warn("could not clear write deadline for live feed",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
	}

	// Subscribe before priming so updates racing the snapshot queue up
	// behind it instead of being lost.
	events, cancel := h.hub.Subscribe(conversationID)
	defer cancel()

	primer := model.ViewEvent{
		Type:           model.ViewEventSnapshot,
		ConversationID: conversationID,
	}
	if snap, ok := h.coordinator.Snapshot(conversationID); ok {
		primer.Messages = snap.Messages
	}
	sendSSEEvent(w, flusher, string(model.ViewEventSnapshot), primer)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			// Client disconnected
			h.logger.Info("live view client disconnected",
				zap.String("conversation_id", conversationID))
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, string(ev.Type), ev)

		case <-heartbeat.C:
			// Send heartbeat to keep connection alive
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
