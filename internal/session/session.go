package session

import (
	"time"

	"github.com/google/uuid"
)

// Message is one turn of a user's conversation transcript.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store owns one ordered transcript per user id. Transcripts are
// created lazily on first use and are never shared across users.
type Store interface {
	Ensure(userID string) *Transcript
	Get(userID string) (*Transcript, bool)
}

// NewMessage builds a transcript turn with a fresh id.
func NewMessage(role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}
