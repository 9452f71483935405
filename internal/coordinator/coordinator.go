// Package coordinator owns the client-side state of every open
// conversation and serializes the intents that mutate it: sending and
// editing messages, stopping generation, navigating branches, and
// switching the selected conversation. It keeps exactly one generation
// stream per conversation alive at a time and keeps streaming in the
// background when the user looks elsewhere.
package coordinator

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/threadline-ai/conversation-gateway/internal/backend"
	"github.com/threadline-ai/conversation-gateway/internal/cache"
	"github.com/threadline-ai/conversation-gateway/internal/model"
	"github.com/threadline-ai/conversation-gateway/internal/streams"
	"github.com/threadline-ai/conversation-gateway/internal/tokens"
	"github.com/threadline-ai/conversation-gateway/pkg/logger"
	"github.com/threadline-ai/conversation-gateway/pkg/metrics"
)

var (
	// ErrUnknownMessage is returned when an intent names a message the
	// coordinator has never seen.
	ErrUnknownMessage = errors.New("coordinator: unknown message")

	// ErrUnknownConversation is returned when an intent names a
	// conversation with no local state.
	ErrUnknownConversation = errors.New("coordinator: unknown conversation")

	// ErrEmptyMessage is returned when a send or edit carries no text.
	ErrEmptyMessage = errors.New("coordinator: empty message text")
)

// Backend is the upstream conversation service the coordinator talks to.
// *backend.Client satisfies it.
type Backend interface {
	CreateConversation(ctx context.Context) (backend.ConversationInfo, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	EditMessage(ctx context.Context, messageID, newContent, mode string) (backend.EditResult, error)
	Thread(ctx context.Context, messageID string) ([]model.Message, error)
	GenerateStream(ctx context.Context, req backend.GenerateRequest) (io.ReadCloser, error)
	ClearCredential()
}

// ViewSink receives display updates for whichever conversation is
// currently selected. Implementations must not block and must not call
// back into the Coordinator; they are invoked with internal locks held.
type ViewSink interface {
	// ConversationReplaced announces that the displayed message list for
	// conversationID changed shape and should be rendered from scratch.
	ConversationReplaced(conversationID string, messages []model.Message)

	// MessageUpdated announces an in-place content change to a single
	// message, typically a streaming delta.
	MessageUpdated(conversationID string, message model.Message)
}

// Events receives stream lifecycle signals for every conversation,
// selected or not. Implementations must not block. *nats.Publisher
// satisfies it.
type Events interface {
	StreamStarted(conversationID, messageID string)
	StreamDelta(conversationID, messageID string, contentLen int)
	StreamFinished(conversationID, messageID, state string, tokensOut int, duration time.Duration)
}

type nopView struct{}

func (nopView) ConversationReplaced(string, []model.Message) {}
func (nopView) MessageUpdated(string, model.Message)         {}

type nopEvents struct{}

func (nopEvents) StreamStarted(string, string)                              {}
func (nopEvents) StreamDelta(string, string, int)                           {}
func (nopEvents) StreamFinished(string, string, string, int, time.Duration) {}

// Coordinator multiplexes conversation state between the backend, the
// stream registry, the snapshot cache, and the view.
type Coordinator struct {
	backend  Backend
	registry *streams.Registry
	cache    *cache.Cache
	view     ViewSink
	events   Events
	log      *logger.Logger
	tracer   trace.Tracer

	emitInterval time.Duration

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu            sync.Mutex
	active        string
	conversations map[string]*conversation
	lastEvictions uint64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithView wires the sink that renders the selected conversation.
func WithView(v ViewSink) Option {
	return func(c *Coordinator) {
		if v != nil {
			c.view = v
		}
	}
}

// WithEvents wires the lifecycle event publisher.
func WithEvents(e Events) Option {
	return func(c *Coordinator) {
		if e != nil {
			c.events = e
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithEmitInterval sets the debounce interval for view emissions during
// streaming.
func WithEmitInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.emitInterval = d
		}
	}
}

// New builds a Coordinator around the given backend, registry, and cache.
func New(b Backend, reg *streams.Registry, ca *cache.Cache, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		backend:       b,
		registry:      reg,
		cache:         ca,
		view:          nopView{},
		events:        nopEvents{},
		log:           logger.Global(),
		tracer:        otel.Tracer("coordinator"),
		emitInterval:  60 * time.Millisecond,
		baseCtx:       ctx,
		baseCancel:    cancel,
		conversations: make(map[string]*conversation),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close cancels every in-flight generation and waits for their read
// loops to drain.
func (c *Coordinator) Close() {
	c.baseCancel()
	c.wg.Wait()
}

// ActiveConversation reports the currently selected conversation id and
// its displayed messages. The id is empty for a fresh draft.
func (c *Coordinator) ActiveConversation() (string, []model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.conversations[c.active]
	if !ok {
		return c.active, nil
	}
	return c.active, state.snapshot()
}

// StreamingConversations lists the ids with a live generation, sorted.
func (c *Coordinator) StreamingConversations() []string {
	return c.registry.ActiveIDs()
}

// Snapshot reports the known state of one conversation without loading
// anything from the backend. It consults live state first, then the
// cache.
func (c *Coordinator) Snapshot(conversationID string) (model.ConversationSnapshot, bool) {
	c.mu.Lock()
	if state, ok := c.conversations[conversationID]; ok {
		snap := model.ConversationSnapshot{
			ConversationID: conversationID,
			Streaming:      c.registry.IsStreaming(conversationID),
			Messages:       state.snapshot(),
			UpdatedAt:      state.updatedAt,
		}
		c.mu.Unlock()
		snap.ApproxTokens = tokens.EstimateMessages(snap.Messages)
		return snap, true
	}
	c.mu.Unlock()

	msgs, ok := c.cache.Get(conversationID)
	if !ok {
		return model.ConversationSnapshot{}, false
	}
	return model.ConversationSnapshot{
		ConversationID: conversationID,
		Messages:       msgs,
		ApproxTokens:   tokens.EstimateMessages(msgs),
	}, true
}

// BranchInfo reports the sibling group of a message: all alternates
// sharing its parent, its position among them, and the group size.
func (c *Coordinator) BranchInfo(messageID string) (model.BranchInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.findByMessageLocked(messageID)
	if state == nil {
		return model.BranchInfo{}, ErrUnknownMessage
	}
	info, ok := state.branches.SiblingsOf(messageID)
	if !ok {
		return model.BranchInfo{}, ErrUnknownMessage
	}
	return model.BranchInfo{
		MessageID:  messageID,
		SiblingIDs: info.SiblingIDs,
		Index:      info.Index,
		Count:      info.Count,
	}, nil
}

// stateLocked returns the conversation state for id, creating it when
// absent. State created for a persisted conversation is rehydrated from
// the cache first, so a thread whose working state was released when the
// user looked away picks up where it left off instead of restarting
// empty. Caller holds c.mu.
func (c *Coordinator) stateLocked(id string) *conversation {
	state, ok := c.conversations[id]
	if !ok {
		state = newConversation(id)
		if id != "" {
			if msgs, cached := c.cache.Get(id); cached {
				state.replaceThread(msgs)
			}
		}
		c.conversations[id] = state
	}
	return state
}

// findByMessageLocked locates the conversation that has seen messageID,
// preferring the active one. Caller holds c.mu.
func (c *Coordinator) findByMessageLocked(messageID string) *conversation {
	if state, ok := c.conversations[c.active]; ok {
		if _, seen := state.seenIdx[messageID]; seen {
			return state
		}
	}
	for _, state := range c.conversations {
		if _, seen := state.seenIdx[messageID]; seen {
			return state
		}
	}
	return nil
}

// syncCacheLocked writes the conversation's displayed thread through to
// the cache and refreshes the cache gauges. Caller holds c.mu. Drafts
// with no server id are not cached.
func (c *Coordinator) syncCacheLocked(state *conversation) {
	if state.id == "" {
		return
	}
	c.cache.Set(state.id, state.messages)
	if ev := c.cache.Evictions(); ev > c.lastEvictions {
		metrics.CacheEvictionsTotal.Add(float64(ev - c.lastEvictions))
		c.lastEvictions = ev
	}
	metrics.CacheSize.Set(float64(c.cache.Len()))
}

// notifyReplacedLocked pushes a full thread replacement to the view if
// the conversation is the selected one. Caller holds c.mu.
func (c *Coordinator) notifyReplacedLocked(state *conversation) {
	if c.active == state.id {
		c.view.ConversationReplaced(state.id, state.snapshot())
	}
}

// releaseIdleLocked drops the working state of a conversation that is
// neither displayed nor generating; from then on it lives only in the
// cache. Streaming conversations keep live state so background updates
// have somewhere to land, and drafts have no cache identity to release
// to. Caller holds c.mu.
func (c *Coordinator) releaseIdleLocked(id string) {
	state, ok := c.conversations[id]
	if !ok {
		return
	}
	if c.registry.IsStreaming(id) {
		return
	}
	c.syncCacheLocked(state)
	delete(c.conversations, id)
}

// releaseIfIdle applies releaseIdleLocked unless the conversation is the
// displayed one. Called when a background stream settles.
func (c *Coordinator) releaseIfIdle(conversationID string) {
	if conversationID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == conversationID {
		return
	}
	c.releaseIdleLocked(conversationID)
}

// handleBackendError applies the recovery policy for a failed backend
// call: expired credentials are dropped so the next request can carry a
// fresh one, and vanished conversations are demoted to local drafts.
// The error is returned for the caller to surface.
func (c *Coordinator) handleBackendError(conversationID string, err error) error {
	switch {
	case errors.Is(err, backend.ErrAuthExpired):
		c.backend.ClearCredential()
		c.log.Warn("backend credential expired",
			zap.String("conversation_id", conversationID))
	case errors.Is(err, backend.ErrNotFound):
		c.log.Warn("conversation no longer exists upstream, resetting local ids",
			zap.String("conversation_id", conversationID))
		c.resetConversation(conversationID)
	}
	return err
}

// resetConversation demotes a conversation to an unpersisted draft after
// the backend reports it missing. Displayed messages survive so the user
// keeps their text; the server identity and cache entry do not.
func (c *Coordinator) resetConversation(conversationID string) {
	if conversationID == "" {
		return
	}
	c.registry.Abort(conversationID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Delete(conversationID)
	metrics.CacheSize.Set(float64(c.cache.Len()))

	state, ok := c.conversations[conversationID]
	if ok {
		delete(c.conversations, conversationID)
		state.id = ""
		for _, m := range state.snapshot() {
			if m.Pending {
				state.remove(m.ID)
			}
		}
		c.conversations[""] = state
	}
	if c.active == conversationID {
		c.active = ""
		var msgs []model.Message
		if ok {
			msgs = state.snapshot()
		}
		c.view.ConversationReplaced("", msgs)
	}
}
