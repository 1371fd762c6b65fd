package state

import (
	"encoding/json"
	"slices"
)

const DefaultMaxSeenIDs = 1000

// Conversation is the durable dedup record of one (account, subscriber) pair.
// Seen ids are kept in insertion order; once the bound is exceeded the oldest
// additions are dropped first.
type Conversation struct {
	lastSeen string
	seen     []string
	index    map[string]struct{}
	limit    int
}

type record struct {
	LastSeenTimestamp string   `json:"last_seen_timestamp"`
	SeenMessageIDs    []string `json:"seen_message_ids"`
}

func NewConversation(limit int) *Conversation {
	if limit < 1 {
		limit = DefaultMaxSeenIDs
	}

	return &Conversation{
		index: make(map[string]struct{}),
		limit: limit,
	}
}

func (c *Conversation) LastSeenTimestamp() string {
	return c.lastSeen
}

func (c *Conversation) HasSeen(id string) bool {
	_, ok := c.index[id]
	return ok
}

func (c *Conversation) SeenIDs() []string {
	return slices.Clone(c.seen)
}

func (c *Conversation) Len() int {
	return len(c.seen)
}

func (c *Conversation) Limit() int {
	return c.limit
}

// MarkSeen records id, evicting the oldest ids beyond the bound.
func (c *Conversation) MarkSeen(id string) {
	if c.HasSeen(id) {
		return
	}

	c.seen = append(c.seen, id)
	c.index[id] = struct{}{}

	for len(c.seen) > c.limit {
		delete(c.index, c.seen[0])
		c.seen = c.seen[1:]
	}
}

// AdvanceTo moves the last seen timestamp forward, never backward.
func (c *Conversation) AdvanceTo(timestamp string) {
	if timestamp > c.lastSeen {
		c.lastSeen = timestamp
	}
}

func (c *Conversation) Clone() *Conversation {
	clone := NewConversation(c.limit)
	clone.lastSeen = c.lastSeen
	clone.seen = slices.Clone(c.seen)
	for _, id := range clone.seen {
		clone.index[id] = struct{}{}
	}

	return clone
}

func (c *Conversation) Equal(other *Conversation) bool {
	return c.lastSeen == other.lastSeen && slices.Equal(c.seen, other.seen)
}

func (c *Conversation) MarshalJSON() ([]byte, error) {
	seen := c.seen
	if seen == nil {
		seen = []string{}
	}

	return json.Marshal(record{
		LastSeenTimestamp: c.lastSeen,
		SeenMessageIDs:    seen,
	})
}

func (c *Conversation) UnmarshalJSON(data []byte) error {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	limit := c.limit
	if limit < 1 {
		limit = DefaultMaxSeenIDs
	}

	*c = *NewConversation(limit)
	c.lastSeen = rec.LastSeenTimestamp
	for _, id := range rec.SeenMessageIDs {
		c.MarkSeen(id)
	}

	return nil
}

// Decode parses a persisted record applying the given bound.
func Decode(data []byte, limit int) (*Conversation, error) {
	conv := NewConversation(limit)
	if err := json.Unmarshal(data, conv); err != nil {
		return nil, err
	}

	return conv, nil
}
