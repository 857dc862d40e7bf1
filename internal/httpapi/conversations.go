package httpapi

import (
	"errors"
	"net/http"

	"github.com/mattn/go-runewidth"

	"github.com/joshleeeeee/dify-feishu-bot/internal/store"
)

const previewWidth = 60

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}

	summaries, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list conversations: "+err.Error())
		return
	}
	for i := range summaries {
		summaries[i].LastMessage = runewidth.Truncate(summaries[i].LastMessage, previewWidth, "…")
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, messages, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "load conversation: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"messages":     messages,
	})
}

// handleDifyMessages proxies the Dify-side history of a conversation, which
// can differ from the local log when messages were exchanged through other
// Dify entry points.
func (s *Server) handleDifyMessages(w http.ResponseWriter, r *http.Request) {
	conv, _, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "load conversation: "+err.Error())
		return
	}
	if conv.DifyConversationID == "" {
		writeError(w, http.StatusNotFound, "conversation has no dify thread yet")
		return
	}

	appToken := ""
	if agent := s.cfg.AgentByID(conv.AgentID); agent != nil {
		appToken = agent.DifyAppToken
	}
	raw, err := s.dify.Messages(r.Context(), conv.DifyConversationID, conv.UserID, appToken)
	if err != nil {
		writeError(w, http.StatusBadGateway, "dify messages: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": raw})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load stats: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
