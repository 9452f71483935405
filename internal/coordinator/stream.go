package coordinator

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/threadline-ai/conversation-gateway/internal/backend"
	"github.com/threadline-ai/conversation-gateway/internal/emit"
	"github.com/threadline-ai/conversation-gateway/internal/model"
	"github.com/threadline-ai/conversation-gateway/internal/sse"
	"github.com/threadline-ai/conversation-gateway/internal/streams"
	"github.com/threadline-ai/conversation-gateway/internal/tokens"
	"github.com/threadline-ai/conversation-gateway/pkg/metrics"
)

// startGeneration appends the pending assistant message the stream will
// fill and launches the read loop. The handle must already be
// registered: intents register inside their guard's critical section so
// the single-flight check and the registration are one atomic step.
// provisionalUserID is the locally assigned id of the user message this
// turn persists, empty when the user message already has its server id.
func (c *Coordinator) startGeneration(streamCtx context.Context, cancel context.CancelFunc, h *streams.Handle, req backend.GenerateRequest, provisionalUserID, mode string) {
	conversationID := h.ConversationID()
	assistantID := h.TargetMessageID()

	replyParent := provisionalUserID
	if replyParent == "" {
		replyParent = req.ParentID
	}

	c.mu.Lock()
	state := c.stateLocked(conversationID)
	state.append(model.Message{
		ID:        assistantID,
		Role:      model.RoleAssistant,
		ParentID:  replyParent,
		CreatedAt: time.Now().UTC(),
		Mode:      mode,
		Pending:   true,
	})
	state.updatedAt = time.Now()
	c.syncCacheLocked(state)
	c.notifyReplacedLocked(state)
	c.mu.Unlock()

	c.events.StreamStarted(conversationID, assistantID)
	metrics.StreamsActive.Inc()
	c.log.WithConversation(conversationID).Info("generation started",
		zap.String("message_id", assistantID),
		zap.String("mode", mode))

	c.wg.Add(1)
	go c.runStream(streamCtx, cancel, h, req, provisionalUserID)
}

// runStream consumes one generation stream to its end and settles the
// pending assistant message into a terminal state. It owns the stream
// accounting: exactly one finished event and one gauge decrement per
// started generation.
func (c *Coordinator) runStream(ctx context.Context, cancel context.CancelFunc, h *streams.Handle, req backend.GenerateRequest, provisionalUserID string) {
	defer c.wg.Done()
	defer cancel()

	start := time.Now()
	conversationID := h.ConversationID()
	messageID := h.TargetMessageID()

	var full strings.Builder
	emitter := emit.New(c.emitInterval, func(content string) {
		c.applyContent(h, content)
	})
	decoder := sse.NewDecoder()

	apply := func(ev sse.Event) {
		switch ev.Kind {
		case sse.KindMeta:
			c.reconcileUserMessage(conversationID, provisionalUserID, ev.UserMessageID)
		case sse.KindContent:
			full.WriteString(ev.Text)
			emitter.Update(full.String())
		case sse.KindUnknown:
			c.log.Debug("dropping unrecognized stream frame",
				zap.String("conversation_id", conversationID),
				zap.String("frame", clip(ev.Raw, 120)))
		}
	}

	var streamErr error
	body, err := c.backend.GenerateStream(ctx, req)
	if err != nil {
		streamErr = err
	} else {
		buf := make([]byte, 4096)
		for streamErr == nil && !decoder.Done() {
			n, rerr := body.Read(buf)
			if n > 0 {
				h.MarkStreaming()
				for _, ev := range decoder.Feed(string(buf[:n])) {
					apply(ev)
				}
			}
			if rerr != nil {
				if errors.Is(rerr, io.EOF) {
					// A clean close without the done sentinel still counts
					// as a completed generation.
					for _, ev := range decoder.Close() {
						apply(ev)
					}
					break
				}
				streamErr = rerr
			}
		}
		body.Close()
	}

	switch {
	case ctx.Err() != nil:
		c.finishCancelled(h, emitter)
	case streamErr != nil:
		c.finishFailed(h, emitter, streamErr)
	default:
		c.finishDone(h, emitter, full.String())
	}

	terminal := string(h.State())
	tokensOut := 0
	if h.State() == streams.StateDone {
		tokensOut = tokens.Estimate(full.String())
	}
	c.releaseIfIdle(conversationID)

	elapsed := time.Since(start)
	c.events.StreamFinished(conversationID, messageID, terminal, tokensOut, elapsed)
	metrics.StreamsActive.Dec()
	metrics.RecordStream(terminal, elapsed.Seconds(), tokensOut)
	c.log.WithConversation(conversationID).Info("generation finished",
		zap.String("message_id", messageID),
		zap.String("state", terminal),
		zap.Int("content_len", full.Len()),
		zap.Duration("elapsed", elapsed))
}

// applyContent lands a batched content emission on the pending assistant
// message. Emissions racing a terminal transition are dropped, and
// content never regresses: a stale emission shorter than what is already
// displayed is ignored.
func (c *Coordinator) applyContent(h *streams.Handle, content string) {
	if !h.Live() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.conversations[h.ConversationID()]
	if !ok {
		return
	}
	msg := state.message(h.TargetMessageID())
	if msg == nil || !msg.Pending {
		return
	}
	if len(content) < len(msg.Content) {
		return
	}
	msg.Content = content
	state.updatedAt = time.Now()
	c.syncCacheLocked(state)
	metrics.EmitsTotal.Inc()
	c.events.StreamDelta(state.id, msg.ID, len(content))
	if c.active == state.id {
		c.view.MessageUpdated(state.id, *msg)
	}
}

// reconcileUserMessage rewrites the provisional user message id with the
// one the server assigned, announced in the stream's meta frame.
func (c *Coordinator) reconcileUserMessage(conversationID, provisionalID, serverID string) {
	if provisionalID == "" || serverID == "" || provisionalID == serverID {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.conversations[conversationID]
	if !ok {
		return
	}
	state.rename(provisionalID, serverID)
	state.updatedAt = time.Now()
	c.syncCacheLocked(state)
	c.notifyReplacedLocked(state)
}

// finishDone settles a completed stream: one unconditional final flush,
// then the assistant message is frozen with the full content.
func (c *Coordinator) finishDone(h *streams.Handle, emitter *emit.Emitter, content string) {
	emitter.Flush()
	if !h.Finish(streams.StateDone) {
		c.registry.Unregister(h.ConversationID(), h)
		return
	}
	c.mu.Lock()
	if state, ok := c.conversations[h.ConversationID()]; ok {
		if msg := state.message(h.TargetMessageID()); msg != nil {
			msg.Content = content
			msg.Pending = false
			state.observe(*msg)
			state.rebuildIndex()
			state.updatedAt = time.Now()
			c.syncCacheLocked(state)
			if c.active == state.id {
				c.view.MessageUpdated(state.id, *msg)
			}
		}
	}
	c.mu.Unlock()
	c.registry.Unregister(h.ConversationID(), h)
}

// finishFailed settles a stream that died in transport: buffered partial
// content is discarded and the assistant message becomes an inline
// failure notice. Expired credentials are dropped so the next request
// can carry a fresh one; a vanished conversation is demoted to a draft.
func (c *Coordinator) finishFailed(h *streams.Handle, emitter *emit.Emitter, err error) {
	emitter.Stop()
	conversationID := h.ConversationID()

	if errors.Is(err, backend.ErrAuthExpired) {
		c.backend.ClearCredential()
	}

	if !h.Finish(streams.StateError) {
		c.registry.Unregister(conversationID, h)
		return
	}
	c.log.Error("generation failed",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", h.TargetMessageID()),
		zap.Error(err))

	if errors.Is(err, backend.ErrNotFound) {
		c.rollbackPending(h)
		c.registry.Unregister(conversationID, h)
		c.resetConversation(conversationID)
		return
	}

	notice := failureNotice(err)
	c.mu.Lock()
	if state, ok := c.conversations[conversationID]; ok {
		if msg := state.message(h.TargetMessageID()); msg != nil {
			msg.Content = notice
			msg.Pending = false
			msg.Failed = true
			state.observe(*msg)
			state.updatedAt = time.Now()
			c.syncCacheLocked(state)
			if c.active == state.id {
				c.view.MessageUpdated(state.id, *msg)
			}
		}
	}
	c.mu.Unlock()
	c.registry.Unregister(conversationID, h)
}

// finishCancelled settles a locally cancelled stream. The partial
// assistant message is discarded; StopGeneration usually already did so
// and this is then a no-op.
func (c *Coordinator) finishCancelled(h *streams.Handle, emitter *emit.Emitter) {
	emitter.Stop()
	h.Finish(streams.StateAborted)
	c.rollbackPending(h)
	c.registry.Unregister(h.ConversationID(), h)
}

// rollbackPending removes the stream's assistant message if it is still
// pending, discarding partial content that never reached a terminal
// state.
func (c *Coordinator) rollbackPending(h *streams.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.conversations[h.ConversationID()]
	if !ok {
		return
	}
	if msg := state.message(h.TargetMessageID()); msg != nil && msg.Pending {
		state.remove(msg.ID)
		state.updatedAt = time.Now()
		c.syncCacheLocked(state)
		c.notifyReplacedLocked(state)
	}
}

func failureNotice(err error) string {
	if errors.Is(err, backend.ErrAuthExpired) {
		return "Your session has expired. Sign in again to continue."
	}
	return "Something went wrong while generating a response. Try again."
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
