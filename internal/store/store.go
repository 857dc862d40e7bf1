// Package store defines the conversation persistence contract.
// Implementations live in store/pg (Postgres) and store/sqlite (standalone).
package store

import (
	"context"
	"errors"
	"time"
)

// Conversation statuses. A closed conversation is kept for history and
// never reactivated; resuming always creates a new row.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNotFound is returned for lookups of rows that do not exist.
var ErrNotFound = errors.New("store: not found")

// Conversation is one logical chat session between a user and an agent.
// At most one row per UserID has StatusActive; the orchestrator upholds
// this by serializing per-user processing, not the store.
type Conversation struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	AgentID            string    `json:"agent_id"`
	DifyConversationID string    `json:"dify_conversation_id,omitempty"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
	LastActiveAt       time.Time `json:"last_active_at"`
}

// Message is one turn half. Append-only; never mutated after insert.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationSummary is a listing row for the admin surface.
type ConversationSummary struct {
	Conversation
	LastMessage  string `json:"last_message,omitempty"`
	MessageCount int    `json:"message_count"`
}

// Stats are the aggregate counters shown on the admin dashboard.
type Stats struct {
	TotalConversations  int `json:"total_conversations"`
	ActiveConversations int `json:"active_conversations"`
	TotalMessages       int `json:"total_messages"`
}

// TouchParams is a partial conversation update. A nil field is left as is.
type TouchParams struct {
	DifyConversationID *string
	LastActiveAt       time.Time
}

// ConversationStore persists conversations and their messages. All
// operations are atomic with respect to a single conversation row; no
// cross-conversation transactions are needed.
type ConversationStore interface {
	// GetActive returns the user's active conversation, or nil when none.
	GetActive(ctx context.Context, userID string) (*Conversation, error)

	// Create inserts a new active conversation. Callers close existing
	// active conversations first; Create never auto-closes.
	Create(ctx context.Context, userID, agentID string) (*Conversation, error)

	// CloseAll marks every active conversation of the user closed. Idempotent.
	CloseAll(ctx context.Context, userID string) error

	// Touch applies a partial update to one conversation.
	Touch(ctx context.Context, conversationID string, p TouchParams) error

	// AppendMessage inserts one message row.
	AppendMessage(ctx context.Context, conversationID, role, content string) (*Message, error)

	// History returns up to limit messages in chronological order.
	History(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// Recent lists conversations by last activity for the admin surface.
	Recent(ctx context.Context, limit int) ([]ConversationSummary, error)

	// Get returns one conversation with its full message history.
	Get(ctx context.Context, conversationID string) (*Conversation, []Message, error)

	// Stats returns the aggregate counters.
	Stats(ctx context.Context) (Stats, error)

	Close() error
}
