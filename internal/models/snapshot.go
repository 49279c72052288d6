package models

// Snapshot is a saved copy of a bill, stored in history.
// A snapshot never shares memory with the live bill it was taken from.
type Snapshot struct {
	// ID is the unique identifier of the saved bill.
	ID string `json:"id"`

	// Timestamp is when the bill was saved (Unix milliseconds).
	Timestamp int64 `json:"timestamp"`

	Metadata     BillMetadata        `json:"metadata"`
	Items        []Item              `json:"items"`
	Users        []User              `json:"users"`
	Conversation []ConversationEntry `json:"chatHistory"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.Items = CloneItems(s.Items)
	c.Users = append([]User{}, s.Users...)
	c.Conversation = append([]ConversationEntry{}, s.Conversation...)
	return c
}

// CloneItems deep-copies a list of items.
func CloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}
