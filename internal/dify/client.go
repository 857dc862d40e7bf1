// Package dify is the client for the Dify chat-messages API. It maps
// transport and API failures into a small taxonomy the orchestrator can
// translate into user replies, and never retries on its own.
package dify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 60 * time.Second

// Settings is the snapshot of Dify configuration a client call runs with.
type Settings struct {
	BaseURL string
	APIKey  string // fallback key when the agent has no app token
	Timeout time.Duration
}

// Client issues chat requests against a Dify deployment.
type Client struct {
	settings   func() Settings
	httpClient *http.Client
}

// New creates a client. settings is called per request so config reloads
// take effect without rebuilding the client.
func New(settings func() Settings) *Client {
	return &Client{
		settings:   settings,
		httpClient: &http.Client{},
	}
}

// CompleteRequest is one user turn sent to the AI backend.
type CompleteRequest struct {
	Query  string
	UserID string
	// ConversationID continues an existing Dify thread when present.
	ConversationID string
	// AppToken is the agent's own Dify app token; empty falls back to the
	// configured default API key.
	AppToken string
}

// ChatResult is the final answer of a turn.
type ChatResult struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Answer         string `json:"answer"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Complete performs one blocking chat-messages call. The first successful
// call of a conversation returns the Dify conversation id the caller must
// persist to continue the thread.
func (c *Client) Complete(ctx context.Context, req CompleteRequest) (*ChatResult, error) {
	cfg := c.settings()
	apiKey := req.AppToken
	if apiKey == "" {
		apiKey = cfg.APIKey
	}
	if cfg.BaseURL == "" || apiKey == "" {
		return nil, ErrConfigIncomplete
	}

	payload := map[string]any{
		"inputs":        map[string]any{},
		"query":         req.Query,
		"response_mode": "blocking",
		"user":          req.UserID,
	}
	if req.ConversationID != "" {
		payload["conversation_id"] = req.ConversationID
	}

	resp, err := c.post(ctx, cfg, apiKey, "/chat-messages", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeUpstreamError(resp)
	}

	var result ChatResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("decode answer: %w", err)}
	}
	return &result, nil
}

// Messages fetches the Dify-side history of a conversation. Used by the
// admin API, not by the message path.
func (c *Client) Messages(ctx context.Context, conversationID, userID, appToken string) (json.RawMessage, error) {
	cfg := c.settings()
	apiKey := appToken
	if apiKey == "" {
		apiKey = cfg.APIKey
	}
	if cfg.BaseURL == "" || apiKey == "" {
		return nil, ErrConfigIncomplete
	}

	u := fmt.Sprintf("%s/messages?conversation_id=%s&user=%s",
		cfg.BaseURL, url.QueryEscape(conversationID), url.QueryEscape(userID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.do(httpReq, cfg)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeUpstreamError(resp)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("decode messages: %w", err)}
	}
	return raw, nil
}

// Verify checks that the configured endpoint and key are usable by calling
// the parameters endpoint.
func (c *Client) Verify(ctx context.Context) error {
	cfg := c.settings()
	if cfg.BaseURL == "" || cfg.APIKey == "" {
		return ErrConfigIncomplete
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/parameters?user=healthcheck", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := c.do(httpReq, cfg)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeUpstreamError(resp)
	}
	return nil
}

// --- shared plumbing ---

func (c *Client) post(ctx context.Context, cfg Settings, apiKey, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	return c.do(httpReq, cfg)
}

// do runs the request under the configured timeout. A timeout or connection
// failure comes back as a TransportError.
func (c *Client) do(req *http.Request, cfg Settings) (*http.Response, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, &TransportError{Err: err}
	}
	// Tie the cancel to body close so streaming reads stay valid.
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func decodeUpstreamError(resp *http.Response) error {
	var apiErr apiError
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)
	msg := apiErr.Message
	if msg == "" {
		msg = fmt.Sprintf("Dify API 错误: %d", resp.StatusCode)
	}
	return &UpstreamError{
		Status:  resp.StatusCode,
		Code:    apiErr.Code,
		Message: msg,
	}
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}
