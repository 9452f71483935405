package branch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline-ai/conversation-gateway/internal/model"
)

func msg(id, parentID string) model.Message {
	return model.Message{ID: id, ParentID: parentID, Role: model.RoleUser}
}

func TestSiblingsOfGroupsByParent(t *testing.T) {
	ix := Build([]model.Message{
		msg("m1", ""),
		msg("m2", "m1"),
		msg("m3", "m2"),
		msg("m2b", "m1"),
	})

	info, ok := ix.SiblingsOf("m2")
	require.True(t, ok)
	assert.Equal(t, []string{"m2", "m2b"}, info.SiblingIDs)
	assert.Equal(t, 0, info.Index)
	assert.Equal(t, 2, info.Count)

	info, ok = ix.SiblingsOf("m2b")
	require.True(t, ok)
	assert.Equal(t, 1, info.Index)
	assert.Equal(t, 2, info.Count)
}

func TestSiblingsOfSingleChild(t *testing.T) {
	ix := Build([]model.Message{
		msg("m1", ""),
		msg("m2", "m1"),
	})

	info, ok := ix.SiblingsOf("m2")
	require.True(t, ok)
	assert.Equal(t, []string{"m2"}, info.SiblingIDs)
	assert.Equal(t, 0, info.Index)
	assert.Equal(t, 1, info.Count)
}

func TestSiblingsOfRootGroup(t *testing.T) {
	ix := Build([]model.Message{
		msg("r1", ""),
		msg("r2", ""),
	})

	info, ok := ix.SiblingsOf("r2")
	require.True(t, ok)
	assert.Equal(t, []string{"r1", "r2"}, info.SiblingIDs)
	assert.Equal(t, 1, info.Index)
}

func TestSiblingsOfUnknownID(t *testing.T) {
	ix := Build([]model.Message{msg("m1", "")})

	_, ok := ix.SiblingsOf("missing")
	assert.False(t, ok)
}

func TestSiblingOrderIsStableAcrossRebuilds(t *testing.T) {
	msgs := []model.Message{
		msg("m1", ""),
		msg("a", "m1"),
		msg("b", "m1"),
		msg("c", "m1"),
	}

	first, ok := Build(msgs).SiblingsOf("b")
	require.True(t, ok)
	second, ok := Build(msgs).SiblingsOf("b")
	require.True(t, ok)

	assert.Equal(t, first.SiblingIDs, second.SiblingIDs)
	assert.Equal(t, []string{"a", "b", "c"}, first.SiblingIDs)
}

func TestSiblingOffsets(t *testing.T) {
	ix := Build([]model.Message{
		msg("m1", ""),
		msg("a", "m1"),
		msg("b", "m1"),
		msg("c", "m1"),
	})

	next, ok := ix.Sibling("a", 1)
	require.True(t, ok)
	assert.Equal(t, "b", next)

	prev, ok := ix.Sibling("c", -1)
	require.True(t, ok)
	assert.Equal(t, "b", prev)

	_, ok = ix.Sibling("c", 1)
	assert.False(t, ok, "offset past the end must report false")

	_, ok = ix.Sibling("a", -1)
	assert.False(t, ok, "offset before the start must report false")

	_, ok = ix.Sibling("missing", 1)
	assert.False(t, ok)
}

func TestBuildSkipsDuplicatesAndEmptyIDs(t *testing.T) {
	ix := Build([]model.Message{
		msg("m1", ""),
		msg("", "m1"),
		msg("m2", "m1"),
		msg("m2", "m1"),
	})

	assert.Equal(t, 2, ix.Len())
	info, ok := ix.SiblingsOf("m2")
	require.True(t, ok)
	assert.Equal(t, 1, info.Count)
}
