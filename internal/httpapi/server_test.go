package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joshleeeeee/dify-feishu-bot/internal/config"
	"github.com/joshleeeeee/dify-feishu-bot/internal/dify"
	"github.com/joshleeeeee/dify-feishu-bot/internal/feishu"
	"github.com/joshleeeeee/dify-feishu-bot/internal/store"
)

type memStore struct {
	summaries []store.ConversationSummary
	conv      *store.Conversation
	messages  []store.Message
}

func (m *memStore) GetActive(ctx context.Context, userID string) (*store.Conversation, error) {
	return nil, nil
}
func (m *memStore) Create(ctx context.Context, userID, agentID string) (*store.Conversation, error) {
	return nil, nil
}
func (m *memStore) CloseAll(ctx context.Context, userID string) error { return nil }
func (m *memStore) Touch(ctx context.Context, id string, p store.TouchParams) error {
	return nil
}
func (m *memStore) AppendMessage(ctx context.Context, id, role, content string) (*store.Message, error) {
	return nil, nil
}
func (m *memStore) History(ctx context.Context, id string, limit int) ([]store.Message, error) {
	return nil, nil
}
func (m *memStore) Recent(ctx context.Context, limit int) ([]store.ConversationSummary, error) {
	return m.summaries, nil
}
func (m *memStore) Get(ctx context.Context, id string) (*store.Conversation, []store.Message, error) {
	if m.conv == nil || m.conv.ID != id {
		return nil, nil, store.ErrNotFound
	}
	return m.conv, m.messages, nil
}
func (m *memStore) Stats(ctx context.Context) (store.Stats, error) {
	return store.Stats{TotalConversations: 1, TotalMessages: 2}, nil
}
func (m *memStore) Close() error { return nil }

func newTestServer(t *testing.T, cfg *config.Config, st store.ConversationStore) *Server {
	t.Helper()
	if st == nil {
		st = &memStore{}
	}
	manager := feishu.NewManager(cfg, nil)
	difyClient := dify.New(func() dify.Settings { return dify.Settings{} })
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	return NewServer(cfg, cfgPath, st, manager, difyClient, "test")
}

func doReq(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzNoAuth(t *testing.T) {
	cfg := config.Default()
	cfg.Server.AdminToken = "secret"
	h := newTestServer(t, cfg, nil).Handler()

	if rec := doReq(t, h, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200 without a token", rec.Code)
	}
}

func TestAuthEnforced(t *testing.T) {
	cfg := config.Default()
	cfg.Server.AdminToken = "secret"
	h := newTestServer(t, cfg, nil).Handler()

	if rec := doReq(t, h, http.MethodGet, "/v1/agents", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/v1/agents", "wrong", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/v1/agents", "secret", ""); rec.Code != http.StatusOK {
		t.Errorf("correct token = %d, want 200", rec.Code)
	}
}

func TestAgentCRUD(t *testing.T) {
	cfg := config.Default()
	h := newTestServer(t, cfg, nil).Handler()

	rec := doReq(t, h, http.MethodPost, "/v1/agents", "", `{"name":"写作助手","dify_app_token":"tok"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body)
	}
	var created config.AgentConfig
	json.NewDecoder(rec.Body).Decode(&created)
	if created.ID == "" || !created.IsDefault {
		t.Fatalf("created = %+v, want id assigned and default", created)
	}

	rec = doReq(t, h, http.MethodPut, "/v1/agents/"+created.ID, "", `{"name":"改名助手"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update = %d: %s", rec.Code, rec.Body)
	}
	if got := cfg.AgentByID(created.ID); got == nil || got.Name != "改名助手" {
		t.Errorf("after update = %+v", got)
	}

	if rec := doReq(t, h, http.MethodPut, "/v1/agents/missing", "", `{"name":"x"}`); rec.Code != http.StatusNotFound {
		t.Errorf("update missing = %d, want 404", rec.Code)
	}

	rec = doReq(t, h, http.MethodDelete, "/v1/agents/"+created.ID, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete = %d", rec.Code)
	}
	if len(cfg.AgentList()) != 0 {
		t.Error("agent list should be empty after delete")
	}
}

func TestCreateAgentValidation(t *testing.T) {
	h := newTestServer(t, config.Default(), nil).Handler()

	if rec := doReq(t, h, http.MethodPost, "/v1/agents", "", `{"name":"  "}`); rec.Code != http.StatusBadRequest {
		t.Errorf("blank name = %d, want 400", rec.Code)
	}
	if rec := doReq(t, h, http.MethodPost, "/v1/agents", "", `{not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", rec.Code)
	}
}

func TestGetConfigMasksSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.SetFeishu(config.FeishuConfig{AppID: "cli_1", AppSecret: "super-secret"})
	cfg.SetDify(config.DifyConfig{BaseURL: "https://d", APIKey: "sk-secret"})
	h := newTestServer(t, cfg, nil).Handler()

	rec := doReq(t, h, http.MethodGet, "/v1/config", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get config = %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "super-secret") || strings.Contains(body, "sk-secret") {
		t.Error("config response must not leak secrets")
	}
	if !strings.Contains(body, "cli_1") {
		t.Error("non-secret fields should be visible")
	}
}

func TestPutConfigKeepsMaskedSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.SetFeishu(config.FeishuConfig{AppID: "cli_1", AppSecret: "real-secret"})
	h := newTestServer(t, cfg, nil).Handler()

	body := `{"feishu":{"app_id":"cli_2","app_secret":"********"},"dify":{"base_url":"https://d","api_key":"new-key"}}`
	rec := doReq(t, h, http.MethodPut, "/v1/config", "", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("put config = %d: %s", rec.Code, rec.Body)
	}

	fc := cfg.FeishuSettings()
	if fc.AppID != "cli_2" {
		t.Errorf("AppID = %q, want updated", fc.AppID)
	}
	if fc.AppSecret != "real-secret" {
		t.Errorf("AppSecret = %q, masked value must keep the stored secret", fc.AppSecret)
	}
	if cfg.DifySettings().APIKey != "new-key" {
		t.Error("explicit new secret should be stored")
	}
}

func TestConversationEndpoints(t *testing.T) {
	now := time.Now().UTC()
	st := &memStore{
		summaries: []store.ConversationSummary{{
			Conversation: store.Conversation{ID: "c1", UserID: "u1", Status: store.StatusActive},
			LastMessage:  strings.Repeat("很长的回答", 30),
			MessageCount: 4,
		}},
		conv: &store.Conversation{ID: "c1", UserID: "u1", Status: store.StatusActive, CreatedAt: now},
		messages: []store.Message{
			{ID: "m1", ConversationID: "c1", Role: store.RoleUser, Content: "hi"},
		},
	}
	h := newTestServer(t, config.Default(), st).Handler()

	rec := doReq(t, h, http.MethodGet, "/v1/conversations?limit=5", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	var listResp struct {
		Conversations []store.ConversationSummary `json:"conversations"`
	}
	json.NewDecoder(rec.Body).Decode(&listResp)
	if len(listResp.Conversations) != 1 {
		t.Fatalf("conversations = %d, want 1", len(listResp.Conversations))
	}
	if got := listResp.Conversations[0].LastMessage; len(got) >= len(st.summaries[0].LastMessage) {
		t.Error("long previews should be truncated")
	}

	if rec := doReq(t, h, http.MethodGet, "/v1/conversations/c1", "", ""); rec.Code != http.StatusOK {
		t.Errorf("get = %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/v1/conversations/nope", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("get missing = %d, want 404", rec.Code)
	}

	rec = doReq(t, h, http.MethodGet, "/v1/stats", "", "")
	var stats store.Stats
	json.NewDecoder(rec.Body).Decode(&stats)
	if stats.TotalConversations != 1 || stats.TotalMessages != 2 {
		t.Errorf("stats = %+v", stats)
	}
}
