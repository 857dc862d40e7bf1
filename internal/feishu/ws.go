package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	wsEndpointPath     = "/callback/ws/endpoint"
	defaultPingEvery   = 30 * time.Second
	reconnectBaseDelay = 2 * time.Second
	reconnectMaxDelay  = 2 * time.Minute
)

// WSEventHandler receives raw event payloads from the long connection.
type WSEventHandler interface {
	HandleEvent(ctx context.Context, payload []byte) error
}

// WSClient maintains the Feishu event long connection: it fetches the
// per-app connection endpoint, dials it, dispatches event frames to the
// handler, and reconnects with capped backoff until stopped.
type WSClient struct {
	appID      string
	appSecret  string
	domain     string
	handler    WSEventHandler
	httpClient *http.Client

	mu        sync.Mutex
	stopCh    chan struct{}
	stopped   bool
	connected bool
}

// NewWSClient creates a long-connection client. Start must be called to
// begin receiving events.
func NewWSClient(appID, appSecret, domain string, handler WSEventHandler) *WSClient {
	return &WSClient{
		appID:      appID,
		appSecret:  appSecret,
		domain:     domain,
		handler:    handler,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		stopCh:     make(chan struct{}),
	}
}

// Start blocks, serving the connection until ctx is cancelled or Stop is
// called. Dial failures are retried with capped exponential backoff.
func (c *WSClient) Start(ctx context.Context) error {
	delay := reconnectBaseDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		default:
		}

		err := c.serveOnce(ctx)
		c.setConnected(false)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || c.isStopped() {
			return nil
		}

		slog.Warn("feishu ws disconnected, reconnecting", "error", err, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

// Stop tears down the connection. The client cannot be restarted; the
// connection manager builds a fresh one.
func (c *WSClient) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		close(c.stopCh)
	}
}

// Connected reports whether a connection is currently established.
func (c *WSClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *WSClient) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *WSClient) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// serveOnce performs one connect-read cycle: endpoint fetch, dial, read
// until the connection drops.
func (c *WSClient) serveOnce(ctx context.Context) error {
	endpoint, pingEvery, err := c.fetchEndpoint(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	conn.SetReadLimit(1 << 20)

	c.setConnected(true)
	slog.Info("feishu ws connected")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-connCtx.Done():
		}
	}()

	// Keepalive pings; the server drops idle connections.
	go func() {
		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				return
			case <-ticker.C:
				pingCtx, pingCancel := context.WithTimeout(connCtx, 10*time.Second)
				err := conn.Ping(pingCtx)
				pingCancel()
				if err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			if c.isStopped() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ws read: %w", err)
		}
		// Dispatch on the client-lifetime ctx, not connCtx: a dropped
		// connection must not abort turns already in flight.
		c.dispatchFrame(ctx, data)
	}
}

// wsFrame is the envelope of a long-connection data frame.
type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (c *WSClient) dispatchFrame(ctx context.Context, data []byte) {
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		// Some frames carry the event envelope directly.
		frame = wsFrame{Type: "event", Payload: data}
	}
	if frame.Type != "event" || len(frame.Payload) == 0 {
		return
	}

	// Each event runs in its own goroutine so a slow AI turn
	// cannot stall the read loop.
	go func() {
		if err := c.handler.HandleEvent(ctx, frame.Payload); err != nil {
			slog.Error("feishu ws event handler failed", "error", err)
		}
	}()
}

// fetchEndpoint asks the open platform for this app's long-connection URL.
func (c *WSClient) fetchEndpoint(ctx context.Context) (string, time.Duration, error) {
	body, _ := json.Marshal(map[string]string{
		"AppID":     c.appID,
		"AppSecret": c.appSecret,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.domain+wsEndpointPath, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("ws endpoint request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			URL          string `json:"URL"`
			ClientConfig struct {
				PingInterval int `json:"PingInterval"`
			} `json:"ClientConfig"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", 0, fmt.Errorf("ws endpoint decode: %w", err)
	}
	if result.Code != 0 {
		return "", 0, fmt.Errorf("ws endpoint error: code=%d msg=%s", result.Code, result.Msg)
	}
	if result.Data.URL == "" {
		return "", 0, fmt.Errorf("ws endpoint returned empty URL")
	}

	pingEvery := defaultPingEvery
	if s := result.Data.ClientConfig.PingInterval; s > 0 {
		pingEvery = time.Duration(s) * time.Second
	}
	return result.Data.URL, pingEvery, nil
}
