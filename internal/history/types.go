// Package history persists chat transcripts: sessions and their ordered
// user/assistant messages. Playback correctness never depends on it; a
// failed save loses history, not audio.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversational turn.
type Message struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionSummary is one row of the session list. Title is derived from the
// first user message, truncated for display.
type SessionSummary struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store persists and retrieves chat history.
type Store interface {
	SaveMessage(ctx context.Context, msg Message) error
	Messages(ctx context.Context, sessionID uuid.UUID) ([]Message, error)
	Sessions(ctx context.Context) ([]SessionSummary, error)
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error
	Close() error
}

// titleMaxChars bounds the derived session title length.
const titleMaxChars = 60

func deriveTitle(firstUserMessage string) string {
	if firstUserMessage == "" {
		return "New chat"
	}
	runes := []rune(firstUserMessage)
	if len(runes) > titleMaxChars {
		return string(runes[:titleMaxChars]) + "..."
	}
	return firstUserMessage
}
