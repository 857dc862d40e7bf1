package feishu

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/joshleeeeee/dify-feishu-bot/internal/config"
)

// Status describes the current state of the Feishu connection.
type Status struct {
	Connected bool   `json:"connected"`
	Mode      string `json:"mode"`
	Message   string `json:"message"`
}

// Manager owns the Feishu connection lifecycle. Starting, stopping and
// credential changes are all explicit: saving new credentials does not
// restart anything until Invalidate and Start are called.
type Manager struct {
	cfg     *config.Config
	handler WSEventHandler

	mu      sync.Mutex
	client  *LarkClient
	ws      *WSClient
	httpSrv *http.Server
	cancel  context.CancelFunc
	message string
	mode    string
}

func NewManager(cfg *config.Config, handler WSEventHandler) *Manager {
	return &Manager{cfg: cfg, handler: handler}
}

// Start builds a client from the current credentials and begins receiving
// events. It is a no-op error if credentials are incomplete, and it tears
// down any previous connection first.
func (m *Manager) Start(ctx context.Context) error {
	m.Invalidate()

	fc := m.cfg.FeishuSettings()
	if !fc.Configured() {
		m.setMessage("飞书凭据未配置")
		return fmt.Errorf("feishu credentials not configured")
	}

	client := NewLarkClient(fc.AppID, fc.AppSecret, config.ResolveDomain(fc.Domain))
	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Probe(probeCtx)
	cancel()
	if err != nil {
		m.setMessage("凭据校验失败: " + err.Error())
		return fmt.Errorf("feishu probe: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.client = client
	m.mode = fc.ConnectionMode
	m.message = ""

	runCtx, runCancel := context.WithCancel(context.Background())
	m.cancel = runCancel

	switch fc.ConnectionMode {
	case config.ConnectionModeWebhook:
		handler := NewWebhookHandler(fc.VerificationToken, fc.EncryptKey, m.handler)
		mux := http.NewServeMux()
		mux.Handle("POST "+fc.WebhookPath, handler)
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", fc.WebhookPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		m.httpSrv = srv
		go func() {
			slog.Info("feishu webhook listening", "addr", srv.Addr, "path", fc.WebhookPath)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("feishu webhook server failed", "error", err)
				m.setMessage("webhook 服务异常: " + err.Error())
			}
		}()
	default:
		ws := NewWSClient(fc.AppID, fc.AppSecret, config.ResolveDomain(fc.Domain), m.handler)
		m.ws = ws
		go func() {
			if err := ws.Start(runCtx); err != nil && runCtx.Err() == nil {
				slog.Error("feishu ws stopped", "error", err)
				m.setMessage("长连接已断开: " + err.Error())
			}
		}()
	}
	return nil
}

// Invalidate tears down the current connection and forgets the client.
// Subsequent sends fail until Start succeeds again.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.ws != nil {
		m.ws.Stop()
		m.ws = nil
	}
	if m.httpSrv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		m.httpSrv.Shutdown(shutCtx)
		cancel()
		m.httpSrv = nil
	}
	m.client = nil
}

// Status reports connection state for the admin API.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{Mode: m.mode, Message: m.message}
	switch {
	case m.ws != nil:
		st.Connected = m.ws.Connected()
	case m.httpSrv != nil:
		st.Connected = true
	}
	return st
}

func (m *Manager) setMessage(msg string) {
	m.mu.Lock()
	m.message = msg
	m.mu.Unlock()
}

func (m *Manager) currentClient() (*LarkClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil, fmt.Errorf("飞书连接未建立")
	}
	return m.client, nil
}

// SendCard delivers an interactive card through the active connection.
func (m *Manager) SendCard(ctx context.Context, userID string, card map[string]any) error {
	client, err := m.currentClient()
	if err != nil {
		return err
	}
	return client.SendCard(ctx, userID, card)
}

// SendMarkdown delivers markdown text through the active connection.
func (m *Manager) SendMarkdown(ctx context.Context, userID string, text string) error {
	client, err := m.currentClient()
	if err != nil {
		return err
	}
	return client.SendMarkdown(ctx, userID, text)
}
