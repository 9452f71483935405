package model

import (
	"time"
)

// ViewEventType discriminates the frames delivered on a live view feed.
type ViewEventType string

const (
	// ViewEventSnapshot replaces the whole displayed thread.
	ViewEventSnapshot ViewEventType = "snapshot"
	// ViewEventMessage updates a single message in place.
	ViewEventMessage ViewEventType = "message"
)

// ViewEvent is one display update for the currently selected conversation.
// Snapshot events carry Messages; message events carry Message.
type ViewEvent struct {
	Type           ViewEventType `json:"type"`
	ConversationID string        `json:"conversation_id"`
	Messages       []Message     `json:"messages,omitempty"`
	Message        *Message      `json:"message,omitempty"`
}

// StreamStartedEvent announces a new generation in flight.
type StreamStartedEvent struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	StartedAt      time.Time `json:"started_at"`
}

// StreamDeltaEvent reports batched progress of an in-flight generation.
// ContentLen is the accumulated content length, not a delta size, so
// consumers can detect missed events.
type StreamDeltaEvent struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	ContentLen     int       `json:"content_len"`
	EmittedAt      time.Time `json:"emitted_at"`
}

// StreamFinishedEvent announces a generation reaching a terminal state.
type StreamFinishedEvent struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	State          string    `json:"state"`
	TokensOut      int       `json:"tokens_out,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
	FinishedAt     time.Time `json:"finished_at"`
}

// HeartbeatEvent keeps long-lived view feeds alive through proxies.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
