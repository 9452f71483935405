package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/threadline-ai/conversation-gateway/internal/model"
)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > 100000 { // ~100KB limit
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateID validates a conversation or message id. Ids are opaque
// upstream-assigned strings, so only shape is checked.
func ValidateID(id string) error {
	if len(id) == 0 {
		return errors.New("id cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("id exceeds maximum length")
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return errors.New("id contains control characters")
		}
	}
	return nil
}

// ValidateDirection validates a branch navigation direction.
func ValidateDirection(direction string) error {
	switch direction {
	case model.DirectionNext, model.DirectionPrev:
		return nil
	default:
		return errors.New(`direction must be "next" or "prev"`)
	}
}

// ValidateMode validates a generation mode string.
func ValidateMode(mode string) error {
	if len(mode) > 64 {
		return errors.New("mode exceeds maximum length")
	}
	if !utf8.ValidString(mode) {
		return errors.New("mode must be valid UTF-8")
	}
	return nil
}
