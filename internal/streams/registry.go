package streams

import (
	"sort"
	"sync"
)

// Registry is a concurrency-safe map from conversation id to its single
// active stream handle. One mutex covers every operation so concurrent
// callers can never observe two live handles for one conversation, even
// transiently.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Register installs h as the active handle for its conversation. Any
// prior handle for the same id is aborted and replaced in the same
// critical section.
func (r *Registry) Register(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.handles[h.conversationID]; ok && prev != h {
		prev.Abort()
	}
	r.handles[h.conversationID] = h
}

// Unregister removes the entry for id. When h is non-nil the entry is
// removed only if it still is h, so a finalizer racing a replacement
// cannot evict its successor.
func (r *Registry) Unregister(id string, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.handles[id]
	if !ok {
		return
	}
	if h != nil && cur != h {
		return
	}
	delete(r.handles, id)
}

// Get returns the handle registered for id, if any.
func (r *Registry) Get(id string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[id]
	return h, ok
}

// IsStreaming reports whether id has a live (pending or streaming)
// handle. Handles already in a terminal state do not count.
func (r *Registry) IsStreaming(id string) bool {
	r.mu.Lock()
	h, ok := r.handles[id]
	r.mu.Unlock()
	return ok && h.Live()
}

// Abort cancels and removes the handle for id. Returns the handle when
// one was registered.
func (r *Registry) Abort(id string) (*Handle, bool) {
	r.mu.Lock()
	h, ok := r.handles[id]
	if ok {
		delete(r.handles, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil, false
	}
	h.Abort()
	return h, true
}

// ActiveIDs returns the conversations with a live handle, sorted for
// stable output.
func (r *Registry) ActiveIDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.handles))
	for id, h := range r.handles {
		if h.Live() {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of registered handles, live or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
