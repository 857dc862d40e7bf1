// Package bus defines the inbound event shape exchanged between the
// transport boundary and the orchestrator, plus the event dedupe cache.
package bus

import "context"

// ChatKind distinguishes direct chats from group chats.
type ChatKind string

const (
	ChatDirect ChatKind = "p2p"
	ChatGroup  ChatKind = "group"
)

// ContentText marks events whose Content is plain text; only these reach
// the AI turn, everything else is filtered by the orchestrator.
const ContentText = "text"

// InboundEvent is one decoded message event from the transport layer.
// The transport boundary parses heterogeneous payloads into this closed
// shape and drops anything it does not recognize; the orchestrator only
// ever sees InboundEvents. Identity is EventID.
type InboundEvent struct {
	EventID     string   // message_id — dedupe key
	UserID      string   // sender open_id
	ChatID      string   // chat the message arrived in
	ChatKind    ChatKind // p2p or group
	ContentType string   // "text", "post", "image", ...
	Content     string   // parsed text content (raw JSON already unwrapped)
}

// ReplySender delivers outbound replies back through the transport layer.
// Card payloads are opaque to the orchestrator.
type ReplySender interface {
	SendCard(ctx context.Context, userID string, card map[string]any) error
	SendMarkdown(ctx context.Context, userID string, text string) error
}
