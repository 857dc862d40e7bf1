// Package httpapi serves the local admin API: agent management, Feishu
// and Dify configuration, connection control, and conversation browsing.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/joshleeeeee/dify-feishu-bot/internal/config"
	"github.com/joshleeeeee/dify-feishu-bot/internal/dify"
	"github.com/joshleeeeee/dify-feishu-bot/internal/feishu"
	"github.com/joshleeeeee/dify-feishu-bot/internal/store"
)

// Server is the admin API. It binds to localhost by default; the bearer
// token is only enforced when one is configured.
type Server struct {
	cfg        *config.Config
	configPath string
	store      store.ConversationStore
	manager    *feishu.Manager
	dify       *dify.Client
	version    string
}

func NewServer(cfg *config.Config, configPath string, st store.ConversationStore, manager *feishu.Manager, difyClient *dify.Client, version string) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		store:      st,
		manager:    manager,
		dify:       difyClient,
		version:    version,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.Handle("GET /v1/status", s.auth(s.handleStatus))
	mux.Handle("GET /v1/agents", s.auth(s.handleListAgents))
	mux.Handle("POST /v1/agents", s.auth(s.handleCreateAgent))
	mux.Handle("PUT /v1/agents/{id}", s.auth(s.handleUpdateAgent))
	mux.Handle("DELETE /v1/agents/{id}", s.auth(s.handleDeleteAgent))
	mux.Handle("GET /v1/config", s.auth(s.handleGetConfig))
	mux.Handle("PUT /v1/config", s.auth(s.handlePutConfig))
	mux.Handle("POST /v1/feishu/test", s.auth(s.handleTestFeishu))
	mux.Handle("POST /v1/feishu/restart", s.auth(s.handleRestartFeishu))
	mux.Handle("POST /v1/dify/test", s.auth(s.handleTestDify))
	mux.Handle("GET /v1/conversations", s.auth(s.handleListConversations))
	mux.Handle("GET /v1/conversations/{id}", s.auth(s.handleGetConversation))
	mux.Handle("GET /v1/conversations/{id}/dify", s.auth(s.handleDifyMessages))
	mux.Handle("GET /v1/stats", s.auth(s.handleStats))

	return mux
}

// ListenAndServe runs the API until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// auth enforces the bearer token when one is configured.
func (s *Server) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.ServerSettings().AdminToken
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	fc := s.cfg.FeishuSettings()
	dc := s.cfg.DifySettings()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":           s.version,
		"feishu":            s.manager.Status(),
		"feishu_configured": fc.Configured(),
		"dify_configured":   dc.BaseURL != "" && dc.APIKey != "",
		"agent_count":       len(s.cfg.AgentList()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
