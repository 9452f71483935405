package nats

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/threadline-ai/conversation-gateway/internal/model"
	"github.com/threadline-ai/conversation-gateway/pkg/logger"
)

// SubjectPrefix is the prefix for all stream lifecycle subjects.
const SubjectPrefix = "convo.stream"

// subjectToken makes an opaque conversation id safe to embed as one
// subject token. NATS reserves space, dot and the wildcard characters.
var subjectToken = strings.NewReplacer(" ", "_", ".", "_", "*", "_", ">", "_").Replace

// Publisher emits stream lifecycle events over core NATS. Publishing is
// fire-and-forget: a dropped signal only delays observers until the next
// one, so failures are logged and swallowed.
type Publisher struct {
	client *Client
	logger *logger.Logger
}

// NewPublisher creates a publisher on an established connection.
func NewPublisher(client *Client, log *logger.Logger) *Publisher {
	return &Publisher{client: client, logger: log}
}

// StartedSubject returns the subject for stream start events.
func StartedSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s.started", SubjectPrefix, subjectToken(conversationID))
}

// DeltaSubject returns the subject for batched progress events.
func DeltaSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s.delta", SubjectPrefix, subjectToken(conversationID))
}

// FinishedSubject returns the subject for terminal state events.
func FinishedSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s.finished", SubjectPrefix, subjectToken(conversationID))
}

// ConversationFilter returns the wildcard subject covering every
// lifecycle event of one conversation.
func ConversationFilter(conversationID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, subjectToken(conversationID))
}

// StreamStarted announces a new generation in flight.
func (p *Publisher) StreamStarted(conversationID, messageID string) {
	p.publish(StartedSubject(conversationID), model.StreamStartedEvent{
		ConversationID: conversationID,
		MessageID:      messageID,
		StartedAt:      time.Now().UTC(),
	})
}

// StreamDelta reports batched progress of an in-flight generation.
func (p *Publisher) StreamDelta(conversationID, messageID string, contentLen int) {
	p.publish(DeltaSubject(conversationID), model.StreamDeltaEvent{
		ConversationID: conversationID,
		MessageID:      messageID,
		ContentLen:     contentLen,
		EmittedAt:      time.Now().UTC(),
	})
}

// StreamFinished announces a generation reaching a terminal state.
func (p *Publisher) StreamFinished(conversationID, messageID, state string, tokensOut int, duration time.Duration) {
	p.publish(FinishedSubject(conversationID), model.StreamFinishedEvent{
		ConversationID: conversationID,
		MessageID:      messageID,
		State:          state,
		TokensOut:      tokensOut,
		DurationMs:     duration.Milliseconds(),
		FinishedAt:     time.Now().UTC(),
	})
}

func (p *Publisher) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("failed to marshal lifecycle event",
			zap.String("subject", subject),
			zap.Error(err),
		)
		return
	}
	if err := p.client.Conn().Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish lifecycle event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}
