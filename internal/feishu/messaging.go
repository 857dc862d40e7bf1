package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/joshleeeeee/dify-feishu-bot/internal/cards"
)

const defaultTextChunkLimit = 4000

// SendMessageResp is the data payload of a message create call.
type SendMessageResp struct {
	MessageID string `json:"message_id"`
}

// SendMessage posts one message through im/v1. Outbound calls share the
// client's rate limiter.
func (c *LarkClient) SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (*SendMessageResp, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	path := "/open-apis/im/v1/messages?receive_id_type=" + receiveIDType
	body := map[string]string{
		"receive_id": receiveID,
		"msg_type":   msgType,
		"content":    content,
	}
	resp, err := c.doJSON(ctx, "POST", path, body)
	if err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("send message: code=%d msg=%s", resp.Code, resp.Msg)
	}
	var data SendMessageResp
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("send message: decode data: %w", err)
	}
	return &data, nil
}

// SendCard delivers an interactive card to a user by open_id.
func (c *LarkClient) SendCard(ctx context.Context, userID string, card map[string]any) error {
	cardJSON, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshal card: %w", err)
	}
	_, err = c.SendMessage(ctx, resolveReceiveIDType(userID), userID, "interactive", string(cardJSON))
	if err != nil {
		return fmt.Errorf("feishu send card: %w", err)
	}
	return nil
}

// SendMarkdown renders markdown as a wide card, chunking long content so a
// single answer never exceeds the card size limit.
func (c *LarkClient) SendMarkdown(ctx context.Context, userID string, text string) error {
	for _, chunk := range chunkText(text, defaultTextChunkLimit) {
		if err := c.SendCard(ctx, userID, cards.Markdown(chunk)); err != nil {
			return err
		}
	}
	return nil
}

// chunkText splits on the cut limit, preferring a newline boundary in the
// second half of the chunk.
func chunkText(text string, limit int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= limit {
			chunks = append(chunks, text)
			break
		}
		cutAt := limit
		// Never split a multi-byte rune at the seam.
		for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
			cutAt--
		}
		if cutAt == 0 {
			cutAt = limit
		}
		if idx := strings.LastIndex(text[:cutAt], "\n"); idx > limit/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

func resolveReceiveIDType(id string) string {
	switch {
	case strings.HasPrefix(id, "oc_"):
		return "chat_id"
	case strings.HasPrefix(id, "on_"):
		return "union_id"
	default:
		return "open_id"
	}
}
