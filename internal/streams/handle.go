// Package streams tracks the generations in flight, at most one per
// conversation, and owns their cancellation.
package streams

import (
	"context"
	"sync"
	"time"
)

// State is the lifecycle state of a stream handle.
type State string

const (
	// StatePending covers the window between registration and the first
	// received byte.
	StatePending State = "pending"
	// StateStreaming means bytes are arriving.
	StateStreaming State = "streaming"
	// StateDone means the stream completed normally.
	StateDone State = "done"
	// StateError means the stream failed in transport or decode.
	StateError State = "error"
	// StateAborted means the stream was cancelled locally.
	StateAborted State = "aborted"
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError || s == StateAborted
}

// Handle represents one in-flight generation: the conversation it belongs
// to, the assistant message it populates, and the cancel function that
// tears its network request down. State moves pending → streaming → one
// terminal state, exactly once.
type Handle struct {
	conversationID  string
	targetMessageID string
	cancel          context.CancelFunc
	startedAt       time.Time

	mu    sync.Mutex
	state State
}

// NewHandle creates a pending handle. cancel must stop the underlying
// request promptly; it may be called more than once.
func NewHandle(conversationID, targetMessageID string, cancel context.CancelFunc) *Handle {
	return &Handle{
		conversationID:  conversationID,
		targetMessageID: targetMessageID,
		cancel:          cancel,
		startedAt:       time.Now(),
		state:           StatePending,
	}
}

// ConversationID returns the owning conversation id.
func (h *Handle) ConversationID() string {
	return h.conversationID
}

// TargetMessageID returns the id of the assistant message the stream
// populates.
func (h *Handle) TargetMessageID() string {
	return h.targetMessageID
}

// StartedAt returns when the handle was created.
func (h *Handle) StartedAt() time.Time {
	return h.startedAt
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Live reports whether the handle is pending or streaming.
func (h *Handle) Live() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == StatePending || h.state == StateStreaming
}

// MarkStreaming transitions pending to streaming on the first received
// byte. No-op in any other state.
func (h *Handle) MarkStreaming() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StatePending {
		h.state = StateStreaming
	}
}

// Finish moves a live handle into the given terminal state. Returns true
// when this call performed the transition; the first terminal state
// wins and later calls change nothing.
func (h *Handle) Finish(terminal State) bool {
	if !terminal.Terminal() {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return false
	}
	h.state = terminal
	return true
}

// Abort cancels the underlying request and forces the aborted state if
// the handle was still live. Safe to call repeatedly.
func (h *Handle) Abort() {
	h.Finish(StateAborted)
	if h.cancel != nil {
		h.cancel()
	}
}
