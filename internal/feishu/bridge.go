package feishu

import (
	"context"

	"github.com/joshleeeeee/dify-feishu-bot/internal/bus"
)

// InboundHandler consumes decoded events; the orchestrator implements it.
type InboundHandler interface {
	HandleEvent(ctx context.Context, ev *bus.InboundEvent) error
}

// EventBridge adapts raw transport payloads to the decoded event handler.
// Payloads that decode to nothing recognizable are dropped here, before
// the orchestrator sees them.
type EventBridge struct {
	inner InboundHandler
}

func NewEventBridge(h InboundHandler) *EventBridge {
	return &EventBridge{inner: h}
}

func (b *EventBridge) HandleEvent(ctx context.Context, payload []byte) error {
	ev := DecodeInbound(payload)
	if ev == nil {
		return nil
	}
	return b.inner.HandleEvent(ctx, ev)
}
