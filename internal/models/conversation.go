package models

// Sender IDs used in the conversation log.
const (
	SenderUser   = "user"
	SenderSystem = "system"
)

// ConversationEntry is a single chat message.
// Entries are append-only: never edited or reordered once created.
type ConversationEntry struct {
	ID        string `json:"id"`
	SenderID  string `json:"senderId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}
