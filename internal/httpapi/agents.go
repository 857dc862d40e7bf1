package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/joshleeeeee/dify-feishu-bot/internal/config"
	"github.com/joshleeeeee/dify-feishu-bot/internal/feishu"
)

func feishuProbeClient(fc config.FeishuConfig) *feishu.LarkClient {
	return feishu.NewLarkClient(fc.AppID, fc.AppSecret, config.ResolveDomain(fc.Domain))
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.cfg.AgentList()})
}

type agentRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	DifyAppToken string `json:"dify_app_token"`
	IsDefault    bool   `json:"is_default"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	agent := s.cfg.AddAgent(config.AgentConfig{
		Name:         strings.TrimSpace(req.Name),
		Description:  strings.TrimSpace(req.Description),
		DifyAppToken: req.DifyAppToken,
		IsDefault:    req.IsDefault,
	})
	if err := s.persistConfig(); err != nil {
		writeError(w, http.StatusInternalServerError, "save config: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	agent, err := s.cfg.UpdateAgent(r.PathValue("id"), config.AgentConfig{
		Name:         strings.TrimSpace(req.Name),
		Description:  strings.TrimSpace(req.Description),
		DifyAppToken: req.DifyAppToken,
		IsDefault:    req.IsDefault,
	})
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := s.persistConfig(); err != nil {
		writeError(w, http.StatusInternalServerError, "save config: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.DeleteAgent(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	if err := s.persistConfig(); err != nil {
		writeError(w, http.StatusInternalServerError, "save config: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// configView is what GET /v1/config exposes: secrets are masked, and PUT
// accepts the same shape with real values.
type configView struct {
	Feishu config.FeishuConfig `json:"feishu"`
	Dify   config.DifyConfig   `json:"dify"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	view := configView{Feishu: s.cfg.FeishuSettings(), Dify: s.cfg.DifySettings()}
	view.Feishu.AppSecret = maskSecret(view.Feishu.AppSecret)
	view.Feishu.EncryptKey = maskSecret(view.Feishu.EncryptKey)
	view.Dify.APIKey = maskSecret(view.Dify.APIKey)
	writeJSON(w, http.StatusOK, view)
}

// handlePutConfig replaces the Feishu and Dify sections. Saving does not
// touch the live connection; callers restart it explicitly.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var req configView
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	// A masked value round-tripped from GET means "keep the stored one".
	if isMasked(req.Feishu.AppSecret) {
		req.Feishu.AppSecret = s.cfg.FeishuSettings().AppSecret
	}
	if isMasked(req.Feishu.EncryptKey) {
		req.Feishu.EncryptKey = s.cfg.FeishuSettings().EncryptKey
	}
	if isMasked(req.Dify.APIKey) {
		req.Dify.APIKey = s.cfg.DifySettings().APIKey
	}

	prev := s.cfg.FeishuSettings()
	s.cfg.SetFeishu(req.Feishu)
	s.cfg.SetDify(req.Dify)
	if err := s.persistConfig(); err != nil {
		writeError(w, http.StatusInternalServerError, "save config: "+err.Error())
		return
	}

	// Changed credentials tear down the connection but never restart it;
	// reconnecting is an explicit POST /v1/feishu/restart.
	if prev.AppID != req.Feishu.AppID || prev.AppSecret != req.Feishu.AppSecret {
		s.manager.Invalidate()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

func (s *Server) handleTestFeishu(w http.ResponseWriter, r *http.Request) {
	fc := s.cfg.FeishuSettings()
	if !fc.Configured() {
		writeError(w, http.StatusBadRequest, "feishu credentials not configured")
		return
	}

	client := feishuProbeClient(fc)
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	if err := client.Probe(ctx); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRestartFeishu(w http.ResponseWriter, r *http.Request) {
	s.manager.Invalidate()
	if err := s.manager.Start(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": s.manager.Status()})
}

func (s *Server) handleTestDify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	if err := s.dify.Verify(ctx); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) persistConfig() error {
	return s.cfg.Save(s.configPath)
}

func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	return "********"
}

func isMasked(v string) bool {
	return v == "********"
}
