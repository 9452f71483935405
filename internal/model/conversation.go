// Package model defines data structures shared across the gateway.
package model

import (
	"time"
)

// Conversation is one chat thread as the gateway sees it: an identifier,
// the ordered messages of the currently displayed branch, and the time of
// the last local change.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationSnapshot is the northbound read-only view of a conversation:
// the displayed thread plus live-stream status and a rough token estimate.
type ConversationSnapshot struct {
	ConversationID string    `json:"conversation_id"`
	Streaming      bool      `json:"streaming"`
	ApproxTokens   int       `json:"approx_tokens"`
	Messages       []Message `json:"messages"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// StreamsResponse lists the conversations with a generation in flight.
type StreamsResponse struct {
	Streaming []string `json:"streaming"`
}
