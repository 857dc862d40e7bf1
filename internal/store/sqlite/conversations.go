package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joshleeeeee/dify-feishu-bot/internal/store"
)

// ConversationStore implements store.ConversationStore on SQLite.
// Same row shapes as the Postgres store; only placeholders differ.
type ConversationStore struct {
	db *sql.DB
}

func New(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

func (s *ConversationStore) GetActive(ctx context.Context, userID string) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, agent_id, COALESCE(dify_conversation_id, ''), status, created_at, last_active_at
		 FROM conversations
		 WHERE user_id = ? AND status = ?
		 ORDER BY last_active_at DESC
		 LIMIT 1`,
		userID, store.StatusActive,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return conv, err
}

func (s *ConversationStore) Create(ctx context.Context, userID, agentID string) (*store.Conversation, error) {
	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:           uuid.Must(uuid.NewV7()).String(),
		UserID:       userID,
		AgentID:      agentID,
		Status:       store.StatusActive,
		CreatedAt:    now,
		LastActiveAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, agent_id, status, created_at, last_active_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.AgentID, conv.Status, conv.CreatedAt, conv.LastActiveAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *ConversationStore) CloseAll(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ? WHERE user_id = ? AND status = ?`,
		store.StatusClosed, userID, store.StatusActive,
	)
	if err != nil {
		return fmt.Errorf("close conversations: %w", err)
	}
	return nil
}

func (s *ConversationStore) Touch(ctx context.Context, conversationID string, p store.TouchParams) error {
	var res sql.Result
	var err error
	if p.DifyConversationID != nil {
		res, err = s.db.ExecContext(ctx,
			`UPDATE conversations SET dify_conversation_id = ?, last_active_at = ? WHERE id = ?`,
			*p.DifyConversationID, p.LastActiveAt, conversationID,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE conversations SET last_active_at = ? WHERE id = ?`,
			p.LastActiveAt, conversationID,
		)
	}
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *ConversationStore) AppendMessage(ctx context.Context, conversationID, role, content string) (*store.Message, error) {
	msg := &store.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (s *ConversationStore) History(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages
		 WHERE conversation_id = ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *ConversationStore) Recent(ctx context.Context, limit int) ([]store.ConversationSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.user_id, c.agent_id, COALESCE(c.dify_conversation_id, ''), c.status, c.created_at, c.last_active_at,
		        COALESCE((SELECT m.content FROM messages m WHERE m.conversation_id = c.id ORDER BY m.created_at DESC, m.id DESC LIMIT 1), ''),
		        (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		 FROM conversations c
		 ORDER BY c.last_active_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []store.ConversationSummary
	for rows.Next() {
		var cs store.ConversationSummary
		if err := rows.Scan(
			&cs.ID, &cs.UserID, &cs.AgentID, &cs.DifyConversationID,
			&cs.Status, &cs.CreatedAt, &cs.LastActiveAt,
			&cs.LastMessage, &cs.MessageCount,
		); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *ConversationStore) Get(ctx context.Context, conversationID string) (*store.Conversation, []store.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, agent_id, COALESCE(dify_conversation_id, ''), status, created_at, last_active_at
		 FROM conversations WHERE id = ?`,
		conversationID,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, store.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	msgs, err := s.History(ctx, conversationID, 10000)
	if err != nil {
		return nil, nil, err
	}
	return conv, msgs, nil
}

func (s *ConversationStore) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM conversations),
		   (SELECT COUNT(*) FROM conversations WHERE status = ?),
		   (SELECT COUNT(*) FROM messages)`,
		store.StatusActive,
	).Scan(&st.TotalConversations, &st.ActiveConversations, &st.TotalMessages)
	if err != nil {
		return st, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}

func (s *ConversationStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*store.Conversation, error) {
	var c store.Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.AgentID, &c.DifyConversationID,
		&c.Status, &c.CreatedAt, &c.LastActiveAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanMessages(rows *sql.Rows) ([]store.Message, error) {
	var out []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

var _ store.ConversationStore = (*ConversationStore)(nil)
