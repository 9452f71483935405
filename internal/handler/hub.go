package handler

import (
	"sync"

	"go.uber.org/zap"

	"github.com/threadline-ai/conversation-gateway/internal/model"
	"github.com/threadline-ai/conversation-gateway/pkg/logger"
	"github.com/threadline-ai/conversation-gateway/pkg/metrics"
)

const subscriberBuffer = 64

// LiveHub fans coordinator view updates out to the live SSE feeds. It is
// the coordinator's ViewSink: sends never block, so a slow subscriber
// drops intermediate frames instead of stalling stream processing.
type LiveHub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	logger *logger.Logger
}

type subscriber struct {
	conversationID string
	ch             chan model.ViewEvent
}

// NewLiveHub creates an empty hub.
func NewLiveHub(log *logger.Logger) *LiveHub {
	return &LiveHub{
		subs:   make(map[string]map[*subscriber]struct{}),
		logger: log,
	}
}

// Subscribe registers a feed for one conversation's view events. The
// returned cancel function is idempotent and closes the channel.
func (h *LiveHub) Subscribe(conversationID string) (<-chan model.ViewEvent, func()) {
	sub := &subscriber{
		conversationID: conversationID,
		ch:             make(chan model.ViewEvent, subscriberBuffer),
	}

	h.mu.Lock()
	set, ok := h.subs[conversationID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[conversationID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	metrics.IncrementViewSubscribers()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[conversationID]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(h.subs, conversationID)
				}
			}
			close(sub.ch)
			h.mu.Unlock()
			metrics.DecrementViewSubscribers()
		})
	}
	return sub.ch, cancel
}

// SubscriberCount reports the number of active feeds for a conversation.
func (h *LiveHub) SubscriberCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[conversationID])
}

// ConversationReplaced implements coordinator.ViewSink.
func (h *LiveHub) ConversationReplaced(conversationID string, messages []model.Message) {
	h.broadcast(conversationID, model.ViewEvent{
		Type:           model.ViewEventSnapshot,
		ConversationID: conversationID,
		Messages:       messages,
	})
}

// MessageUpdated implements coordinator.ViewSink.
func (h *LiveHub) MessageUpdated(conversationID string, message model.Message) {
	h.broadcast(conversationID, model.ViewEvent{
		Type:           model.ViewEventMessage,
		ConversationID: conversationID,
		Message:        &message,
	})
}

// broadcast delivers an event to every subscriber of the conversation.
// Channel closes happen under the write lock, so holding the read lock
// here makes the non-blocking sends safe.
func (h *LiveHub) broadcast(conversationID string, ev model.ViewEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[conversationID] {
		select {
		case sub.ch <- ev:
		default:
			if h.logger != nil {
				h.logger.Debug("view subscriber lagging, frame dropped",
					zap.String("conversation_id", conversationID))
			}
		}
	}
}
