package coordinator

import (
	"time"

	"github.com/threadline-ai/conversation-gateway/internal/branch"
	"github.com/threadline-ai/conversation-gateway/internal/model"
)

// conversation is the coordinator-owned working state of one thread.
//
// messages is the displayed branch. seen additionally keeps every message
// the coordinator has observed for this conversation, including siblings
// superseded by edits and messages from other branches, so the branch
// index can group alternates that are no longer on screen. seen tracks
// identity and parentage only; its content copies are not kept fresh.
//
// All access happens under the coordinator mutex.
type conversation struct {
	id        string
	title     string
	messages  []model.Message
	seen      []model.Message
	seenIdx   map[string]int
	branches  *branch.Index
	updatedAt time.Time
}

func newConversation(id string) *conversation {
	return &conversation{
		id:       id,
		seenIdx:  make(map[string]int),
		branches: branch.Build(nil),
	}
}

// message returns a pointer into the displayed list, valid only while the
// coordinator mutex is held.
func (c *conversation) message(id string) *model.Message {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return &c.messages[i]
		}
	}
	return nil
}

// indexOf returns the position of id in the displayed list, or -1.
func (c *conversation) indexOf(id string) int {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *conversation) lastMessageID() string {
	if len(c.messages) == 0 {
		return ""
	}
	return c.messages[len(c.messages)-1].ID
}

// append adds a message to the displayed thread and the seen set, then
// rebuilds the branch index.
func (c *conversation) append(m model.Message) {
	c.messages = append(c.messages, m)
	c.observe(m)
	c.rebuildIndex()
}

// observe records a message in the seen set without touching the
// displayed thread.
func (c *conversation) observe(m model.Message) {
	if m.ID == "" {
		return
	}
	if i, ok := c.seenIdx[m.ID]; ok {
		c.seen[i] = m
		return
	}
	c.seenIdx[m.ID] = len(c.seen)
	c.seen = append(c.seen, m)
}

// truncate keeps only the first n displayed messages. The seen set keeps
// the cut messages so their branches stay navigable.
func (c *conversation) truncate(n int) {
	if n < 0 || n >= len(c.messages) {
		return
	}
	c.messages = c.messages[:n:n]
}

// remove drops id from both the displayed thread and the seen set. Used
// to roll back messages that never reached the server.
func (c *conversation) remove(id string) bool {
	i := c.indexOf(id)
	if i < 0 {
		return false
	}
	c.messages = append(c.messages[:i:i], c.messages[i+1:]...)

	if si, ok := c.seenIdx[id]; ok {
		c.seen = append(c.seen[:si:si], c.seen[si+1:]...)
		delete(c.seenIdx, id)
		for j := si; j < len(c.seen); j++ {
			c.seenIdx[c.seen[j].ID] = j
		}
	}
	c.rebuildIndex()
	return true
}

// replaceThread swaps the displayed list wholesale, folding the new
// messages into the seen set.
func (c *conversation) replaceThread(msgs []model.Message) {
	c.messages = make([]model.Message, len(msgs))
	copy(c.messages, msgs)
	for _, m := range msgs {
		c.observe(m)
	}
	c.rebuildIndex()
}

// rename rewrites a message id after the server assigns the real one,
// fixing parent references that pointed at the provisional id.
func (c *conversation) rename(oldID, newID string) {
	if oldID == "" || newID == "" || oldID == newID {
		return
	}
	for i := range c.messages {
		if c.messages[i].ID == oldID {
			c.messages[i].ID = newID
		}
		if c.messages[i].ParentID == oldID {
			c.messages[i].ParentID = newID
		}
	}
	for i := range c.seen {
		if c.seen[i].ID == oldID {
			c.seen[i].ID = newID
		}
		if c.seen[i].ParentID == oldID {
			c.seen[i].ParentID = newID
		}
	}
	if si, ok := c.seenIdx[oldID]; ok {
		delete(c.seenIdx, oldID)
		c.seenIdx[newID] = si
	}
	c.rebuildIndex()
}

func (c *conversation) rebuildIndex() {
	c.branches = branch.Build(c.seen)
}

// snapshot returns a copy of the displayed thread safe to hand out.
func (c *conversation) snapshot() []model.Message {
	out := make([]model.Message, len(c.messages))
	copy(out, c.messages)
	return out
}
