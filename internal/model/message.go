package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a conversation thread. ParentID links each
// message to the message it replies to; an empty ParentID marks a thread
// root. Two messages sharing the same ParentID are siblings, i.e.
// alternate branches from the same point in the thread.
type Message struct {
	ID       string `json:"id"`
	Role     Role   `json:"role"`
	Content  string `json:"content"`
	ParentID string `json:"parent_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Mode selects the generation mode requested for this turn
	// (e.g. "chat", "research"). Optional.
	Mode string `json:"mode,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`

	// Pending marks an assistant message whose generation is still in
	// flight. Content is mutable only while Pending is true.
	Pending bool `json:"pending,omitempty"`

	// Failed marks an assistant message whose generation ended in a
	// transport error; Content then holds a short notice instead of
	// model output.
	Failed bool `json:"failed,omitempty"`
}

// Attachment is a file reference carried alongside a user message.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	URL         string `json:"url,omitempty"`
}

// SendMessageRequest is the northbound request to send a new message.
type SendMessageRequest struct {
	Text string `json:"text"`
	Mode string `json:"mode,omitempty"`
}

// SendMessageResponse acknowledges an accepted send intent.
type SendMessageResponse struct {
	ConversationID string `json:"conversation_id"`
}

// EditMessageRequest is the northbound request to edit a past user message,
// producing a sibling branch rather than rewriting history.
type EditMessageRequest struct {
	NewContent string `json:"new_content"`
	Mode       string `json:"mode,omitempty"`
}

// Branch navigation directions accepted by the navigate endpoint.
const (
	DirectionNext = "next"
	DirectionPrev = "prev"
)

// NavigateRequest is the northbound request to step between sibling
// branches of a message.
type NavigateRequest struct {
	Direction string `json:"direction"`
}

// BranchInfo describes where a message sits among its sibling branches.
// Index is the zero-based position within SiblingIDs and Count is the
// group size.
type BranchInfo struct {
	MessageID  string   `json:"message_id"`
	SiblingIDs []string `json:"sibling_ids"`
	Index      int      `json:"branch_index"`
	Count      int      `json:"branch_count"`
}
