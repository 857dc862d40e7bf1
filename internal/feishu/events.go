package feishu

import (
	"encoding/json"
	"strings"

	"github.com/joshleeeeee/dify-feishu-bot/internal/bus"
)

// eventTypeMessageReceive is the only event type this bot acts on.
const eventTypeMessageReceive = "im.message.receive_v1"

// MessageEvent is the schema-2.0 envelope of an im.message.receive_v1 event.
type MessageEvent struct {
	Schema string `json:"schema"`
	Header struct {
		EventID    string `json:"event_id"`
		EventType  string `json:"event_type"`
		CreateTime string `json:"create_time"`
		Token      string `json:"token"`
		AppID      string `json:"app_id"`
	} `json:"header"`
	Event struct {
		Sender struct {
			SenderType string `json:"sender_type"`
			SenderID   struct {
				OpenID  string `json:"open_id"`
				UnionID string `json:"union_id"`
				UserID  string `json:"user_id"`
			} `json:"sender_id"`
		} `json:"sender"`
		Message struct {
			MessageID   string `json:"message_id"`
			RootID      string `json:"root_id"`
			ParentID    string `json:"parent_id"`
			CreateTime  string `json:"create_time"`
			ChatID      string `json:"chat_id"`
			ChatType    string `json:"chat_type"`
			MessageType string `json:"message_type"`
			Content     string `json:"content"`
		} `json:"message"`
	} `json:"event"`
}

// DecodeInbound parses a raw event payload into the closed InboundEvent
// shape. It returns nil for payloads that are not recognized message
// events — dynamic shapes from the platform are filtered here, before the
// orchestrator ever sees them.
func DecodeInbound(payload []byte) *bus.InboundEvent {
	var event MessageEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil
	}
	if event.Header.EventType != eventTypeMessageReceive {
		return nil
	}
	return inboundFromEvent(&event)
}

func inboundFromEvent(event *MessageEvent) *bus.InboundEvent {
	msg := &event.Event.Message
	if msg.MessageID == "" {
		return nil
	}

	kind := bus.ChatGroup
	if msg.ChatType == "p2p" {
		kind = bus.ChatDirect
	}

	return &bus.InboundEvent{
		EventID:     msg.MessageID,
		UserID:      event.Event.Sender.SenderID.OpenID,
		ChatID:      msg.ChatID,
		ChatKind:    kind,
		ContentType: msg.MessageType,
		Content:     parseMessageContent(msg.Content, msg.MessageType),
	}
}

// parseMessageContent unwraps the typed JSON content of a message. Only
// text is meaningful downstream; other types are tagged so logs stay useful.
func parseMessageContent(rawContent, messageType string) string {
	if rawContent == "" {
		return ""
	}

	switch messageType {
	case "text":
		var textMsg struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(rawContent), &textMsg); err == nil {
			return strings.TrimSpace(textMsg.Text)
		}
		return ""
	case "image":
		return "[image]"
	case "file":
		var fileMsg struct {
			FileName string `json:"file_name"`
		}
		if err := json.Unmarshal([]byte(rawContent), &fileMsg); err == nil && fileMsg.FileName != "" {
			return "[file: " + fileMsg.FileName + "]"
		}
		return "[file]"
	default:
		return "[" + messageType + " message]"
	}
}
