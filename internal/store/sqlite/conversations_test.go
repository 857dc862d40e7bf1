package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/joshleeeeee/dify-feishu-bot/internal/store"
)

func openTestStore(t *testing.T) *ConversationStore {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	st := New(db)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestConversationRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	conv, err := st.Create(ctx, "u1", "agent-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if conv.Status != store.StatusActive || conv.UserID != "u1" || conv.AgentID != "agent-1" {
		t.Fatalf("created = %+v", conv)
	}

	if _, err := st.AppendMessage(ctx, conv.ID, store.RoleUser, "你好"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := st.AppendMessage(ctx, conv.ID, store.RoleAssistant, "你好！有什么可以帮你？"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	history, err := st.History(ctx, conv.ID, 50)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history has %d messages, want 2", len(history))
	}
	if history[0].Role != store.RoleUser || history[1].Role != store.RoleAssistant {
		t.Errorf("history order = [%s, %s], want chronological user then assistant",
			history[0].Role, history[1].Role)
	}
	if history[0].Content != "你好" {
		t.Errorf("content round-trip = %q", history[0].Content)
	}
}

func TestGetActiveAndCloseAll(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if active, err := st.GetActive(ctx, "u1"); err != nil || active != nil {
		t.Fatalf("GetActive on empty store = (%+v, %v), want (nil, nil)", active, err)
	}

	conv, err := st.Create(ctx, "u1", "a1")
	if err != nil {
		t.Fatal(err)
	}

	active, err := st.GetActive(ctx, "u1")
	if err != nil || active == nil || active.ID != conv.ID {
		t.Fatalf("GetActive = (%+v, %v)", active, err)
	}

	if err := st.CloseAll(ctx, "u1"); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if active, _ := st.GetActive(ctx, "u1"); active != nil {
		t.Fatalf("GetActive after CloseAll = %+v, want nil", active)
	}

	// Idempotent on an already-clean user.
	if err := st.CloseAll(ctx, "u1"); err != nil {
		t.Fatalf("second CloseAll: %v", err)
	}
}

func TestTouch(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	conv, err := st.Create(ctx, "u1", "a1")
	if err != nil {
		t.Fatal(err)
	}

	threadID := "dify-thread-9"
	at := time.Now().UTC().Add(time.Minute).Truncate(time.Second)
	if err := st.Touch(ctx, conv.ID, store.TouchParams{
		DifyConversationID: &threadID,
		LastActiveAt:       at,
	}); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	got, _, err := st.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DifyConversationID != threadID {
		t.Errorf("DifyConversationID = %q, want %q", got.DifyConversationID, threadID)
	}
	if !got.LastActiveAt.Equal(at) {
		t.Errorf("LastActiveAt = %v, want %v", got.LastActiveAt, at)
	}

	if err := st.Touch(ctx, "missing", store.TouchParams{LastActiveAt: at}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Touch missing = %v, want ErrNotFound", err)
	}
}

func TestRecentAndStats(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	c1, _ := st.Create(ctx, "u1", "a1")
	st.AppendMessage(ctx, c1.ID, store.RoleUser, "first")
	st.CloseAll(ctx, "u1")

	c2, _ := st.Create(ctx, "u2", "a1")
	st.AppendMessage(ctx, c2.ID, store.RoleUser, "question")
	st.AppendMessage(ctx, c2.ID, store.RoleAssistant, "answer")
	st.Touch(ctx, c2.ID, store.TouchParams{LastActiveAt: time.Now().UTC().Add(time.Hour)})

	recent, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent has %d rows, want 2", len(recent))
	}
	if recent[0].ID != c2.ID {
		t.Errorf("most recent = %s, want %s", recent[0].ID, c2.ID)
	}
	if recent[0].MessageCount != 2 || recent[0].LastMessage != "answer" {
		t.Errorf("summary = %+v", recent[0])
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalConversations != 2 || stats.ActiveConversations != 1 || stats.TotalMessages != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGetNotFound(t *testing.T) {
	st := openTestStore(t)
	if _, _, err := st.Get(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
}
