// Package cache holds recently viewed conversation threads in a bounded
// LRU store so switching back to a conversation restores its view without
// a round-trip.
package cache

import (
	"container/list"
	"sync"

	"github.com/threadline-ai/conversation-gateway/internal/model"
)

// GuardFunc reports whether a conversation must not be evicted right now.
// Wired to the stream registry at composition time so a conversation
// generating in the background is never silently discarded.
type GuardFunc func(conversationID string) bool

type entry struct {
	id       string
	messages []model.Message
}

// Cache is a thread-safe LRU map from conversation id to its message
// list. Capacity is fixed at construction; the least recently touched
// unguarded entry is evicted when a new id pushes the cache past it.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
	guard    GuardFunc
	evicted  uint64
}

// New creates a cache bounded to capacity entries. guard may be nil, in
// which case every entry is evictable.
func New(capacity int, guard GuardFunc) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
		guard:    guard,
	}
}

// Get returns a copy of the cached message list for id and bumps its
// recency. It never changes presence and is safe to call with the empty
// id of an unpersisted conversation.
func (c *Cache) Get(id string) ([]model.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[id]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return copyMessages(el.Value.(*entry).messages), true
}

// Set stores a copy of messages under id at most-recent position,
// evicting the least recently touched unguarded entry when the cache
// would exceed capacity. When every entry is guarded the cache grows past
// capacity instead of discarding an active conversation.
func (c *Cache) Set(id string, messages []model.Message) {
	if id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[id]; ok {
		el.Value.(*entry).messages = copyMessages(messages)
		c.ll.MoveToFront(el)
		return
	}

	if c.ll.Len() >= c.capacity {
		c.evictOldest()
	}
	el := c.ll.PushFront(&entry{id: id, messages: copyMessages(messages)})
	c.items[id] = el
}

// Delete removes id from the cache if present.
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[id]; ok {
		c.ll.Remove(el)
		delete(c.items, id)
	}
}

// Len returns the number of cached conversations.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Keys returns the cached conversation ids, most recently touched first.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).id)
	}
	return keys
}

// Evictions returns how many entries have been evicted since creation.
func (c *Cache) Evictions() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

// evictOldest removes the least recently touched entry whose id passes
// the guard, walking from the back. Must be called with mu held.
func (c *Cache) evictOldest() {
	for el := c.ll.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if c.guard != nil && c.guard(e.id) {
			continue
		}
		c.ll.Remove(el)
		delete(c.items, e.id)
		c.evicted++
		return
	}
}

func copyMessages(messages []model.Message) []model.Message {
	if messages == nil {
		return nil
	}
	out := make([]model.Message, len(messages))
	copy(out, messages)
	return out
}
