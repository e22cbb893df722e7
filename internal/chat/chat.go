// Package chat holds the conversation domain model and its PostgreSQL
// persistence: chats, their ordered messages, and the visibility rule.
package chat

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// TitleMaxRunes bounds the chat title derived from the first question.
const TitleMaxRunes = 100

// Chat is one conversation. Rows are immutable after creation except for
// soft deletion; the engine options snapshot records the configuration the
// chat was created with, for audit and after-the-fact inspection.
type Chat struct {
	ID            uuid.UUID       `json:"id"`
	Title         string          `json:"title"`
	EngineName    string          `json:"engine_name"`
	EngineOptions json.RawMessage `json:"engine_options,omitempty"`

	// UserID is nil for anonymous chats; BrowserID correlates anonymous
	// chats from the same browser session.
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	BrowserID string     `json:"browser_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// SourceDocument is one provenance entry on an assistant message: the
// document a cited chunk belongs to.
type SourceDocument struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	SourceURI string    `json:"source_uri"`
}

// Message is one turn-message. The assistant message of an in-flight turn
// is the only entity mutated repeatedly: created empty, content accumulated
// while tokens stream, then finalized with sources and finished_at.
type Message struct {
	ID       uuid.UUID `json:"id"`
	ChatID   uuid.UUID `json:"chat_id"`
	Role     Role      `json:"role"`
	Ordinal  int32     `json:"ordinal"`
	Content  string    `json:"content"`
	TraceURL string    `json:"trace_url,omitempty"`

	Sources []SourceDocument `json:"sources,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Viewer is the identity a read operation runs as. A nil *Viewer means an
// anonymous caller.
type Viewer struct {
	ID          uuid.UUID
	IsSuperuser bool
}

// CanView reports whether viewer may read c.
//
// A chat with no owning user is visible to anyone holding its identifier,
// including anonymous viewers; an owned chat is visible only to its owner or
// a superuser. Whether anonymous chats should instead require the creating
// browser's id is a known, deliberately unresolved question; this preserves
// the documented behavior rather than tightening it.
func CanView(c *Chat, viewer *Viewer) bool {
	if c.UserID == nil {
		return true
	}
	if viewer == nil {
		return false
	}
	return viewer.IsSuperuser || *c.UserID == viewer.ID
}

// TitleFromQuestion derives a chat title from the first user question,
// truncated to TitleMaxRunes.
func TitleFromQuestion(question string) string {
	runes := []rune(question)
	if len(runes) <= TitleMaxRunes {
		return question
	}
	return string(runes[:TitleMaxRunes])
}
