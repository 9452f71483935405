// Package sse decodes server-sent-event generation streams into typed
// events. The decoder is a pure state machine over text chunks: no I/O,
// no goroutines, no clock.
package sse

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// EventKind classifies a decoded event.
type EventKind string

const (
	// KindMeta carries the server-assigned id of the user message that
	// opened the stream, sent once near stream start.
	KindMeta EventKind = "meta"
	// KindContent carries a content delta for the assistant reply.
	KindContent EventKind = "content"
	// KindDone marks the end of the stream. No further events follow.
	KindDone EventKind = "done"
	// KindUnknown marks a line or payload the decoder could not place.
	KindUnknown EventKind = "unknown"
)

// Event is one decoded stream event. Content events populate Text, meta
// events populate UserMessageID, unknown events keep the raw input for
// diagnostics.
type Event struct {
	Kind          EventKind
	Text          string
	UserMessageID string
	Raw           string
}

const (
	dataMarker   = "data:"
	doneSentinel = "[DONE]"
)

// Foreign log lines leak into some upstream streams. A line counts as a
// log record when it carries both a timestamp-like and a level-like field.
var (
	timestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}|\d{2}:\d{2}:\d{2}[.,]\d{3}|"ts"\s*:`)
	levelPattern     = regexp.MustCompile(`(?i)\b(trace|debug|info|warn|warning|error|fatal)\b|"level"\s*:|\blevel=`)
)

// Decoder turns raw text chunks into a finite sequence of events. Chunks
// may split lines at arbitrary byte boundaries; the decoder buffers the
// incomplete trailing line until the rest arrives. Once the terminator
// has been seen the decoder is exhausted and ignores further input; it
// cannot be restarted.
type Decoder struct {
	buf  []byte
	done bool
}

// NewDecoder returns a decoder at the start of a stream.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed consumes the next chunk and returns the events completed by it, in
// arrival order. A nil slice means the chunk completed no event.
func (d *Decoder) Feed(chunk string) []Event {
	if d.done || chunk == "" {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var events []Event
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := string(d.buf[:i])
		d.buf = d.buf[i+1:]
		if ev, ok := d.processLine(line); ok {
			events = append(events, ev)
		}
		if d.done {
			d.buf = nil
			break
		}
	}
	return events
}

// Close drains a buffered partial line at end of input. Streams that end
// without a trailing newline still surface their last frame this way.
func (d *Decoder) Close() []Event {
	if d.done || len(d.buf) == 0 {
		return nil
	}
	line := string(d.buf)
	d.buf = nil
	if ev, ok := d.processLine(line); ok {
		return []Event{ev}
	}
	return nil
}

// Done reports whether the terminator has been seen.
func (d *Decoder) Done() bool {
	return d.done
}

func (d *Decoder) processLine(line string) (Event, bool) {
	line = strings.TrimSuffix(line, "\r")
	if line == "" {
		return Event{}, false
	}

	if !strings.HasPrefix(line, dataMarker) {
		if looksLikeLogRecord(line) {
			return Event{}, false
		}
		return Event{Kind: KindUnknown, Raw: line}, true
	}

	payload := strings.TrimPrefix(line, dataMarker)
	payload = strings.TrimPrefix(payload, " ")

	if strings.TrimSpace(payload) == doneSentinel {
		d.done = true
		return Event{Kind: KindDone}, true
	}
	return decodePayload(payload), true
}

// decodePayload normalizes a frame payload into a plain string. JSON
// object payloads win; anything that fails to parse falls back to
// literal-escape unescaping, which cannot fail.
func decodePayload(payload string) Event {
	var frame struct {
		Text          *string `json:"text"`
		UserMessageID *string `json:"user_message_id"`
	}
	if err := json.Unmarshal([]byte(payload), &frame); err == nil {
		switch {
		case frame.UserMessageID != nil:
			return Event{Kind: KindMeta, UserMessageID: *frame.UserMessageID, Raw: payload}
		case frame.Text != nil:
			return Event{Kind: KindContent, Text: *frame.Text, Raw: payload}
		default:
			return Event{Kind: KindUnknown, Raw: payload}
		}
	}
	return Event{Kind: KindContent, Text: unescapeLiterals(payload), Raw: payload}
}

func looksLikeLogRecord(line string) bool {
	return timestampPattern.MatchString(line) && levelPattern.MatchString(line)
}

// unescapeLiterals rewrites two-character escape sequences into the bytes
// they stand for, leaving unrecognized sequences untouched.
func unescapeLiterals(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i == len(s)-1 {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i])
			b.WriteByte(s[i+1])
		}
		i++
	}
	return b.String()
}
