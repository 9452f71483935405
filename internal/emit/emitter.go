// Package emit rate-limits how often accumulated stream content is
// surfaced to consumers. High-frequency deltas collapse into at most one
// emission per interval, with a trailing emission for whatever arrived
// between ticks.
package emit

import (
	"sync"
	"time"
)

// Sink receives emitted content. Called from the updating goroutine or
// from a timer goroutine, never concurrently with itself under normal
// single-producer use; consumers that need stricter ordering must enforce
// it themselves.
type Sink func(content string)

// Emitter coalesces content updates into rate-limited emissions. The
// buffered value is a single last-write-wins slot, not a queue: only the
// newest content matters because each update carries the full accumulated
// text. An emitter serves one stream and is done after Flush or Stop.
type Emitter struct {
	mu         sync.Mutex
	interval   time.Duration
	sink       Sink
	pending    string
	hasPending bool
	lastEmit   time.Time
	timer      *time.Timer
	closed     bool
}

// New returns an emitter delivering to sink at most once per interval.
func New(interval time.Duration, sink Sink) *Emitter {
	return &Emitter{interval: interval, sink: sink}
}

// Update records the latest full content. If the interval since the last
// emission has already passed it emits inline; otherwise it buffers the
// value and arms a single trailing timer for the residual wait.
func (e *Emitter) Update(content string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	now := time.Now()
	if e.timer == nil && now.Sub(e.lastEmit) >= e.interval {
		e.lastEmit = now
		e.pending = ""
		e.hasPending = false
		sink := e.sink
		e.mu.Unlock()
		sink(content)
		return
	}
	e.pending = content
	e.hasPending = true
	if e.timer == nil {
		wait := e.interval - now.Sub(e.lastEmit)
		if wait < 0 {
			wait = 0
		}
		e.timer = time.AfterFunc(wait, e.fire)
	}
	e.mu.Unlock()
}

// Flush emits any buffered value and shuts the emitter down. Safe to call
// more than once; later calls and later Updates are no-ops. Streams call
// this on normal termination so the final content always lands.
func (e *Emitter) Flush() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.stopTimer()
	content, has := e.pending, e.hasPending
	e.pending = ""
	e.hasPending = false
	sink := e.sink
	e.mu.Unlock()
	if has {
		sink(content)
	}
}

// Stop shuts the emitter down discarding any buffered value. Used on
// abort and error teardown where the buffered partial must not surface.
func (e *Emitter) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.stopTimer()
	e.pending = ""
	e.hasPending = false
}

func (e *Emitter) fire() {
	e.mu.Lock()
	e.timer = nil
	if e.closed || !e.hasPending {
		e.mu.Unlock()
		return
	}
	content := e.pending
	e.pending = ""
	e.hasPending = false
	e.lastEmit = time.Now()
	sink := e.sink
	e.mu.Unlock()
	sink(content)
}

// stopTimer must be called with mu held.
func (e *Emitter) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
