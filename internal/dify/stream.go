package dify

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// StreamChunk is one incremental piece of a streaming answer.
type StreamChunk struct {
	Event  string
	Answer string
}

// CompleteStream performs a streaming chat-messages call and invokes
// onChunk for each answer delta, then returns the assembled final result.
// The stream is finite and non-restartable; it ends at the upstream
// message_end event (or EOF). Callers that do not need incremental
// rendering should use Complete instead.
func (c *Client) CompleteStream(ctx context.Context, req CompleteRequest, onChunk func(StreamChunk)) (*ChatResult, error) {
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
		"response_mode": "streaming",
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

	var (
		answer  strings.Builder
		result  ChatResult
		scanner = bufio.NewScanner(resp.Body)
	)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var ev struct {
			Event          string `json:"event"`
			Answer         string `json:"answer"`
			ConversationID string `json:"conversation_id"`
			MessageID      string `json:"message_id"`
		}
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue // malformed keep-alive lines are skipped
		}

		if ev.ConversationID != "" {
			result.ConversationID = ev.ConversationID
		}
		if ev.MessageID != "" {
			result.MessageID = ev.MessageID
		}

		switch ev.Event {
		case "message", "agent_message":
			answer.WriteString(ev.Answer)
			if onChunk != nil {
				onChunk(StreamChunk{Event: ev.Event, Answer: ev.Answer})
			}
		case "message_end":
			result.Answer = answer.String()
			return &result, nil
		case "error":
			return nil, &UpstreamError{Status: resp.StatusCode, Message: ev.Answer}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read stream: %w", err)}
	}

	result.Answer = answer.String()
	return &result, nil
}
