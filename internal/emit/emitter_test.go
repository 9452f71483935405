package emit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects emissions behind a lock so tests can observe them
// from timer goroutines safely.
type recorder struct {
	mu    sync.Mutex
	seen  []string
	fired chan struct{}
}

func newRecorder() *recorder {
	return &recorder{fired: make(chan struct{}, 64)}
}

func (r *recorder) sink(content string) {
	r.mu.Lock()
	r.seen = append(r.seen, content)
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.seen))
	copy(out, r.seen)
	return out
}

func (r *recorder) waitForEmission(t *testing.T) {
	t.Helper()
	select {
	case <-r.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emission")
	}
}

func TestFirstUpdateEmitsImmediately(t *testing.T) {
	rec := newRecorder()
	e := New(50*time.Millisecond, rec.sink)

	e.Update("hello")

	require.Equal(t, []string{"hello"}, rec.snapshot())
}

func TestRapidUpdatesCoalesceIntoTrailingEmission(t *testing.T) {
	rec := newRecorder()
	e := New(40*time.Millisecond, rec.sink)

	e.Update("a")
	rec.waitForEmission(t)
	e.Update("ab")
	e.Update("abc")
	e.Update("abcd")

	rec.waitForEmission(t)
	got := rec.snapshot()
	require.Equal(t, []string{"a", "abcd"}, got)
}

func TestSpacedUpdatesEmitInline(t *testing.T) {
	rec := newRecorder()
	e := New(10*time.Millisecond, rec.sink)

	e.Update("one")
	rec.waitForEmission(t)
	time.Sleep(25 * time.Millisecond)
	e.Update("one two")
	rec.waitForEmission(t)

	require.Equal(t, []string{"one", "one two"}, rec.snapshot())
}

func TestFlushEmitsPendingBeforeTick(t *testing.T) {
	rec := newRecorder()
	e := New(time.Hour, rec.sink)

	e.Update("first")
	rec.waitForEmission(t)
	e.Update("first second")

	e.Flush()

	require.Equal(t, []string{"first", "first second"}, rec.snapshot())
}

func TestFlushIsIdempotent(t *testing.T) {
	rec := newRecorder()
	e := New(time.Hour, rec.sink)

	e.Update("x")
	rec.waitForEmission(t)
	e.Update("xy")
	e.Flush()
	e.Flush()

	require.Equal(t, []string{"x", "xy"}, rec.snapshot())
}

func TestUpdateAfterFlushIsDropped(t *testing.T) {
	rec := newRecorder()
	e := New(time.Millisecond, rec.sink)

	e.Update("kept")
	rec.waitForEmission(t)
	e.Flush()
	e.Update("dropped")

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, []string{"kept"}, rec.snapshot())
}

func TestStopDiscardsPending(t *testing.T) {
	rec := newRecorder()
	e := New(time.Hour, rec.sink)

	e.Update("shown")
	rec.waitForEmission(t)
	e.Update("shown but stopped")
	e.Stop()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, []string{"shown"}, rec.snapshot())

	e.Flush()
	assert.Equal(t, []string{"shown"}, rec.snapshot())
}

func TestNoTickAfterFlush(t *testing.T) {
	rec := newRecorder()
	e := New(30*time.Millisecond, rec.sink)

	e.Update("a")
	rec.waitForEmission(t)
	e.Update("ab")
	e.Flush()

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, []string{"a", "ab"}, rec.snapshot())
}
