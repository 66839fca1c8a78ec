// Package session owns conversational state: sessions, their ordered turns,
// and titles.
//
// The store is process-wide and purely in-memory: one owned map guarded by a
// mutex, with per-session records that are never shared or aliased between
// sessions. Retention is an external concern; sessions are only removed by an
// explicit Delete.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Role constants define valid turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultTitle is the placeholder title assigned at creation until the
// session is renamed.
const DefaultTitle = "New Chat"

// titleDeriveMaxRunes bounds titles derived from the first user turn.
const titleDeriveMaxRunes = 50

// Turn is one message within a session's history. Immutable once appended.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
}

// Session is a conversation identified by an opaque UUID.
type Session struct {
	ID        uuid.UUID `json:"session_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary is the listing view of a session.
type Summary struct {
	ID           uuid.UUID `json:"session_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// NewUserTurn builds a user turn stamped with the current time.
func NewUserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content, CreatedAt: time.Now().UTC()}
}

// NewAssistantTurn builds an assistant turn stamped with the current time.
func NewAssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content, CreatedAt: time.Now().UTC()}
}
