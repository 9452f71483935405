// Package branch projects sibling relationships out of a flat message
// list. Editing a message creates a sibling under the same parent, so a
// thread position can hold several alternate branches; this index answers
// "which branches exist here and where am I among them".
package branch

import (
	"github.com/threadline-ai/conversation-gateway/internal/model"
)

// Info describes a message's position among its siblings. Sibling order
// is creation order and is stable across rebuilds from the same list.
type Info struct {
	SiblingIDs []string `json:"sibling_ids"`
	Index      int      `json:"branch_index"`
	Count      int      `json:"branch_count"`
}

// Index groups message ids by parent id. It is a pure projection over a
// message list: rebuild it whenever the list changes, never mutate it.
type Index struct {
	groups  map[string][]string
	parents map[string]string
}

// Build constructs the index from a flat message list. Messages sharing a
// ParentID form one sibling group, ordered by first appearance; root
// messages (empty ParentID) form their own group. Duplicate ids keep
// their first position.
func Build(messages []model.Message) *Index {
	ix := &Index{
		groups:  make(map[string][]string),
		parents: make(map[string]string, len(messages)),
	}
	for _, m := range messages {
		if m.ID == "" {
			continue
		}
		if _, seen := ix.parents[m.ID]; seen {
			continue
		}
		ix.parents[m.ID] = m.ParentID
		ix.groups[m.ParentID] = append(ix.groups[m.ParentID], m.ID)
	}
	return ix
}

// SiblingsOf returns the sibling set containing messageID. The second
// return is false when the id is not in the index.
func (ix *Index) SiblingsOf(messageID string) (Info, bool) {
	parent, ok := ix.parents[messageID]
	if !ok {
		return Info{}, false
	}
	group := ix.groups[parent]
	info := Info{
		SiblingIDs: append([]string(nil), group...),
		Count:      len(group),
	}
	for i, id := range group {
		if id == messageID {
			info.Index = i
			break
		}
	}
	return info, true
}

// Sibling returns the id offset positions away from messageID within its
// sibling group, or false when messageID is unknown or the offset runs
// past either end.
func (ix *Index) Sibling(messageID string, offset int) (string, bool) {
	info, ok := ix.SiblingsOf(messageID)
	if !ok {
		return "", false
	}
	target := info.Index + offset
	if target < 0 || target >= len(info.SiblingIDs) {
		return "", false
	}
	return info.SiblingIDs[target], true
}

// Len returns the number of indexed messages.
func (ix *Index) Len() int {
	return len(ix.parents)
}
