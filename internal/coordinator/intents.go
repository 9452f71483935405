package coordinator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/threadline-ai/conversation-gateway/internal/backend"
	"github.com/threadline-ai/conversation-gateway/internal/model"
	"github.com/threadline-ai/conversation-gateway/internal/streams"
	"github.com/threadline-ai/conversation-gateway/pkg/metrics"
)

// SendMessage starts a new generation turn. An empty conversationID
// means a fresh draft: a conversation is created upstream first and the
// returned id identifies it from then on. The user message appears in
// local state immediately; the assistant reply streams in behind the
// returned id. If the conversation already has a live generation the
// send is dropped silently and the id is returned unchanged.
func (c *Coordinator) SendMessage(ctx context.Context, conversationID, text, mode string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.SendMessage")
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return conversationID, ErrEmptyMessage
	}

	streamCtx, cancel := context.WithCancel(c.baseCtx)

	c.mu.Lock()
	if conversationID != "" && c.registry.IsStreaming(conversationID) {
		c.mu.Unlock()
		cancel()
		c.log.Debug("send ignored, generation already in flight",
			zap.String("conversation_id", conversationID))
		return conversationID, nil
	}

	state := c.stateLocked(conversationID)
	userMsg := model.Message{
		ID:        uuid.New().String(),
		Role:      model.RoleUser,
		Content:   text,
		ParentID:  state.lastMessageID(),
		CreatedAt: time.Now().UTC(),
		Mode:      mode,
	}
	state.append(userMsg)
	state.updatedAt = time.Now()
	c.syncCacheLocked(state)
	c.notifyReplacedLocked(state)

	var h *streams.Handle
	if conversationID != "" {
		// Registering here, before c.mu is released, closes the window
		// in which another intent could pass its own overlap check and
		// race this turn for the conversation's stream slot.
		h = streams.NewHandle(conversationID, uuid.New().String(), cancel)
		c.registry.Register(h)
	}
	c.mu.Unlock()

	if conversationID == "" {
		info, err := c.backend.CreateConversation(ctx)
		if err != nil {
			cancel()
			c.mu.Lock()
			state.remove(userMsg.ID)
			c.notifyReplacedLocked(state)
			c.mu.Unlock()
			return "", c.handleBackendError("", err)
		}
		conversationID = info.ID
		c.adoptDraft(state, info)
		h = streams.NewHandle(conversationID, uuid.New().String(), cancel)
		c.registry.Register(h)
	}
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	req := backend.GenerateRequest{
		Message:        text,
		ConversationID: conversationID,
		Mode:           mode,
		ParentID:       userMsg.ParentID,
	}
	c.startGeneration(streamCtx, cancel, h, req, userMsg.ID, mode)
	return conversationID, nil
}

// adoptDraft rebinds the draft state to the server-assigned identity.
func (c *Coordinator) adoptDraft(state *conversation, info backend.ConversationInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.conversations[""]; ok && cur == state {
		delete(c.conversations, "")
	}
	state.id = info.ID
	state.title = info.Title
	c.conversations[info.ID] = state
	if c.active == "" {
		c.active = info.ID
	}
	c.syncCacheLocked(state)
	c.notifyReplacedLocked(state)
}

// EditMessage replaces a past user message with an alternate version.
// The original survives as a sibling branch: the displayed thread is cut
// back to just before it, the edited version is appended, and generation
// restarts from there exactly as a send would.
func (c *Coordinator) EditMessage(ctx context.Context, messageID, newContent, mode string) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.EditMessage")
	defer span.End()

	if strings.TrimSpace(newContent) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	state := c.findByMessageLocked(messageID)
	if state == nil {
		c.mu.Unlock()
		return ErrUnknownMessage
	}
	conversationID := state.id
	if c.registry.IsStreaming(conversationID) {
		c.mu.Unlock()
		c.log.Debug("edit ignored, generation already in flight",
			zap.String("conversation_id", conversationID))
		return nil
	}
	idx := state.indexOf(messageID)
	if idx < 0 {
		c.mu.Unlock()
		return ErrUnknownMessage
	}
	original := state.messages[idx]

	// Take the conversation's stream slot before the persist round-trip
	// so a send arriving mid-edit is refused instead of starting a turn
	// this edit is about to replace.
	streamCtx, cancel := context.WithCancel(c.baseCtx)
	h := streams.NewHandle(conversationID, uuid.New().String(), cancel)
	c.registry.Register(h)
	c.mu.Unlock()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	res, err := c.backend.EditMessage(ctx, messageID, newContent, mode)
	if err != nil {
		h.Abort()
		c.registry.Unregister(conversationID, h)
		return c.handleBackendError(conversationID, err)
	}

	sibling := model.Message{
		ID:        res.ID,
		Role:      model.RoleUser,
		Content:   newContent,
		ParentID:  res.ParentID,
		CreatedAt: res.CreatedAt,
		Mode:      mode,
	}
	if sibling.ParentID == "" {
		sibling.ParentID = original.ParentID
	}
	if sibling.CreatedAt.IsZero() {
		sibling.CreatedAt = time.Now().UTC()
	}

	c.mu.Lock()
	idx = state.indexOf(messageID)
	if idx < 0 {
		c.mu.Unlock()
		h.Abort()
		c.registry.Unregister(conversationID, h)
		return ErrUnknownMessage
	}
	state.truncate(idx)
	state.append(sibling)
	state.updatedAt = time.Now()
	c.syncCacheLocked(state)
	c.notifyReplacedLocked(state)
	c.mu.Unlock()

	req := backend.GenerateRequest{
		Message:        newContent,
		ConversationID: conversationID,
		Mode:           mode,
		ParentID:       sibling.ID,
	}
	c.startGeneration(streamCtx, cancel, h, req, "", mode)
	return nil
}

// StopGeneration aborts the live generation for a conversation, if any,
// and discards the partial assistant message. Safe to call repeatedly
// and when nothing is streaming.
func (c *Coordinator) StopGeneration(conversationID string) {
	h, ok := c.registry.Abort(conversationID)
	if !ok {
		return
	}
	c.log.Info("generation stopped by user",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", h.TargetMessageID()))
	c.rollbackPending(h)
}

// NavigateBranch steps from a message to the sibling offset positions
// away (+1 next, -1 previous) and replaces the displayed thread with the
// thread the backend returns for that sibling. Stepping past either end
// of the group is a no-op. Live generations are untouched. The id of the
// owning conversation is returned.
func (c *Coordinator) NavigateBranch(ctx context.Context, messageID string, offset int) (string, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.NavigateBranch")
	defer span.End()

	c.mu.Lock()
	state := c.findByMessageLocked(messageID)
	if state == nil {
		c.mu.Unlock()
		return "", ErrUnknownMessage
	}
	conversationID := state.id
	target, ok := state.branches.Sibling(messageID, offset)
	c.mu.Unlock()
	if !ok || target == messageID {
		return conversationID, nil
	}
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	msgs, err := c.backend.Thread(ctx, target)
	if err != nil {
		return conversationID, c.handleBackendError(conversationID, err)
	}

	c.mu.Lock()
	state.replaceThread(msgs)
	state.updatedAt = time.Now()
	c.syncCacheLocked(state)
	c.notifyReplacedLocked(state)
	c.mu.Unlock()
	return conversationID, nil
}

// SelectConversation makes a conversation the displayed one. Live local
// state wins over the cache so a conversation that kept streaming in the
// background shows its in-progress content; a cache hit restores the
// last snapshot; otherwise the thread is fetched from the backend. An
// empty id selects the draft.
func (c *Coordinator) SelectConversation(ctx context.Context, conversationID string) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.SelectConversation")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	c.mu.Lock()
	prev := c.active
	c.active = conversationID
	if prev != "" && prev != conversationID {
		c.releaseIdleLocked(prev)
	}

	if state, ok := c.conversations[conversationID]; ok {
		if conversationID != "" {
			c.cache.Get(conversationID)
		}
		c.view.ConversationReplaced(conversationID, state.snapshot())
		c.mu.Unlock()
		return nil
	}

	if conversationID == "" {
		c.view.ConversationReplaced("", nil)
		c.mu.Unlock()
		return nil
	}

	if msgs, ok := c.cache.Get(conversationID); ok {
		metrics.CacheHit()
		state := c.stateLocked(conversationID)
		state.replaceThread(msgs)
		c.view.ConversationReplaced(conversationID, state.snapshot())
		c.mu.Unlock()
		return nil
	}
	metrics.CacheMiss()
	c.view.ConversationReplaced(conversationID, nil)
	c.mu.Unlock()

	msgs, err := c.backend.ListMessages(ctx, conversationID)
	if err != nil {
		return c.handleBackendError(conversationID, err)
	}

	c.mu.Lock()
	state := c.stateLocked(conversationID)
	state.replaceThread(msgs)
	state.updatedAt = time.Now()
	c.syncCacheLocked(state)
	if c.active == conversationID {
		c.view.ConversationReplaced(conversationID, state.snapshot())
	}
	c.mu.Unlock()
	return nil
}

// DeleteConversation forgets a conversation locally: any live generation
// is aborted and the state and cache entries are dropped. Upstream data
// is not touched.
func (c *Coordinator) DeleteConversation(conversationID string) {
	if conversationID == "" {
		return
	}
	c.registry.Abort(conversationID)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conversations, conversationID)
	c.cache.Delete(conversationID)
	metrics.CacheSize.Set(float64(c.cache.Len()))
	if c.active == conversationID {
		c.active = ""
		c.view.ConversationReplaced("", nil)
	}
}
