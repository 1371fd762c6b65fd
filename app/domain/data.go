package domain

import "time"

type Account struct {
	ID           string
	APIKey       string
	SystemPrompt string
	Model        string
	UserID       string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Operator is the creator's own user on the chat platform.
type Operator struct {
	ID     string
	Handle string
}

type Subscriber struct {
	ID          string
	Handle      string
	DisplayName string
}

// Message is a single chat message. SentAt is kept as the ISO-8601 string the
// platform returns so that ordering is plain string comparison.
type Message struct {
	ID       string
	SenderID string
	Text     string
	SentAt   string
}
