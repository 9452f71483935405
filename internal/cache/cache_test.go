package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline-ai/conversation-gateway/internal/model"
)

func msgs(content string) []model.Message {
	return []model.Message{{ID: content, Role: model.RoleUser, Content: content}}
}

func TestGetAbsent(t *testing.T) {
	c := New(4, nil)

	_, ok := c.Get("nope")
	assert.False(t, ok)

	_, ok = c.Get("")
	assert.False(t, ok, "empty id must be safe")
}

func TestSetAndGet(t *testing.T) {
	c := New(4, nil)

	c.Set("c1", msgs("hello"))

	got, ok := c.Get("c1")
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Content)
}

func TestSetCopiesInput(t *testing.T) {
	c := New(4, nil)
	original := msgs("before")

	c.Set("c1", original)
	original[0].Content = "mutated"

	got, ok := c.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "before", got[0].Content)

	got[0].Content = "mutated again"
	again, _ := c.Get("c1")
	assert.Equal(t, "before", again[0].Content)
}

func TestEvictsLeastRecentlyTouched(t *testing.T) {
	c := New(20, nil)

	for i := 0; i < 21; i++ {
		c.Set(fmt.Sprintf("c%d", i), msgs(fmt.Sprintf("m%d", i)))
	}

	assert.Equal(t, 20, c.Len())
	_, ok := c.Get("c0")
	assert.False(t, ok, "oldest entry should be gone")
	_, ok = c.Get("c20")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), c.Evictions())
}

func TestGetBumpsRecency(t *testing.T) {
	c := New(2, nil)

	c.Set("a", msgs("a"))
	c.Set("b", msgs("b"))

	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", msgs("c"))

	_, ok = c.Get("a")
	assert.True(t, ok, "recently read entry must survive")
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestSetExistingRefreshesValueAndRecency(t *testing.T) {
	c := New(2, nil)

	c.Set("a", msgs("a1"))
	c.Set("b", msgs("b1"))
	c.Set("a", msgs("a2"))
	c.Set("c", msgs("c1"))

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a2", got[0].Content)
	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestGuardedEntrySkipped(t *testing.T) {
	streaming := map[string]bool{"a": true}
	c := New(2, func(id string) bool { return streaming[id] })

	c.Set("a", msgs("a"))
	c.Set("b", msgs("b"))
	c.Set("c", msgs("c"))

	_, ok := c.Get("a")
	assert.True(t, ok, "guarded entry must never be evicted")
	_, ok = c.Get("b")
	assert.False(t, ok, "next eligible entry is evicted instead")
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestAllGuardedGrowsPastCapacity(t *testing.T) {
	c := New(2, func(string) bool { return true })

	c.Set("a", msgs("a"))
	c.Set("b", msgs("b"))
	c.Set("c", msgs("c"))

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, uint64(0), c.Evictions())
}

func TestDelete(t *testing.T) {
	c := New(4, nil)

	c.Set("a", msgs("a"))
	c.Delete("a")
	c.Delete("missing")

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestKeysMostRecentFirst(t *testing.T) {
	c := New(4, nil)

	c.Set("a", msgs("a"))
	c.Set("b", msgs("b"))
	c.Set("c", msgs("c"))
	_, _ = c.Get("a")

	assert.Equal(t, []string{"a", "c", "b"}, c.Keys())
}
