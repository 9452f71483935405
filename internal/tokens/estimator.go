// Package tokens estimates token counts for conversation content. The
// counts feed usage metrics and snapshot responses; they are estimates,
// not billing-grade numbers.
package tokens

import (
	"sync"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"

	"github.com/threadline-ai/conversation-gateway/internal/model"
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

// cl100k_base approximates most current chat models closely enough for
// usage accounting.
func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// Estimate returns an approximate token count for text. When the codec
// is unavailable it falls back to a runes/4 heuristic rather than fail.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	c, err := getCodec()
	if err != nil {
		return heuristic(text)
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return heuristic(text)
	}
	return len(ids)
}

// EstimateMessages sums the estimate over every message's content plus a
// small per-message overhead for role framing.
func EstimateMessages(messages []model.Message) int {
	const perMessageOverhead = 4
	total := 0
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		total += Estimate(m.Content) + perMessageOverhead
	}
	return total
}

func heuristic(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return n/4 + 1
}
