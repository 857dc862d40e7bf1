// Package orchestrator is the per-event state machine: it sequences
// dedup, command routing, conversation resolution, the AI call, and the
// reply for every inbound message.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/joshleeeeee/dify-feishu-bot/internal/bus"
	"github.com/joshleeeeee/dify-feishu-bot/internal/cards"
	"github.com/joshleeeeee/dify-feishu-bot/internal/config"
	"github.com/joshleeeeee/dify-feishu-bot/internal/dify"
	"github.com/joshleeeeee/dify-feishu-bot/internal/store"
)

const storeFailureMessage = "存储服务暂时不可用，请稍后重试"

// Gateway is the slice of the Dify client the orchestrator needs.
type Gateway interface {
	Complete(ctx context.Context, req dify.CompleteRequest) (*dify.ChatResult, error)
}

// Orchestrator handles decoded inbound events end to end. Events for
// different users run in parallel; events for the same user are
// serialized so the one-active-conversation invariant holds without
// store-level locking.
type Orchestrator struct {
	cfg    *config.Config
	store  store.ConversationStore
	dify   Gateway
	sender bus.ReplySender
	dedupe *bus.DedupeCache
	users  *userMutex
	tracer trace.Tracer
	now    func() time.Time
}

func New(cfg *config.Config, st store.ConversationStore, gw Gateway, sender bus.ReplySender) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		store:  st,
		dify:   gw,
		sender: sender,
		dedupe: bus.NewDedupeCache(bus.DedupeTTL, 100),
		users:  newUserMutex(),
		tracer: otel.Tracer("orchestrator"),
		now:    time.Now,
	}
}

// HandleEvent processes one inbound event. It never returns gateway or
// store errors to the caller: every failure past the pre-filter stage is
// converted into a user-visible reply, because a propagated error would
// kill the transport's event task.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev *bus.InboundEvent) error {
	if ev == nil {
		return nil
	}
	if !o.dedupe.Observe(ev.EventID) {
		slog.Debug("duplicate event dropped", "event_id", ev.EventID)
		return nil
	}
	if ev.ChatKind != bus.ChatDirect || ev.ContentType != bus.ContentText {
		slog.Debug("event ignored", "event_id", ev.EventID, "chat", ev.ChatKind, "content_type", ev.ContentType)
		return nil
	}
	text := strings.TrimSpace(ev.Content)
	if text == "" {
		return nil
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.handle_event",
		trace.WithAttributes(attribute.String("event.id", ev.EventID)))
	defer span.End()

	unlock := o.users.Lock(ev.UserID)
	defer unlock()

	agents := o.cfg.AgentList()
	cmd := Classify(text, len(agents))

	switch cmd.Kind {
	case Help:
		return o.reply(ctx, ev.UserID, cards.Help())
	case SelectAgentMenu:
		if len(agents) == 0 {
			return o.reply(ctx, ev.UserID, cards.NoAgent())
		}
		return o.reply(ctx, ev.UserID, cards.AgentSelect(agents))
	case SelectAgentByIndex:
		return o.selectAgent(ctx, ev.UserID, agents[cmd.Index-1])
	case NewConversation:
		return o.startFresh(ctx, ev.UserID, agents)
	default:
		return o.chatTurn(ctx, ev.UserID, text, agents)
	}
}

// selectAgent closes whatever conversation is active and binds a new one
// to the chosen agent.
func (o *Orchestrator) selectAgent(ctx context.Context, userID string, agent config.AgentConfig) error {
	if err := o.store.CloseAll(ctx, userID); err != nil {
		return o.storeFailure(ctx, userID, "close conversations", err)
	}
	if _, err := o.store.Create(ctx, userID, agent.ID); err != nil {
		return o.storeFailure(ctx, userID, "create conversation", err)
	}
	slog.Info("agent selected", "user_id", userID, "agent_id", agent.ID)
	return o.reply(ctx, userID, cards.Welcome(agent.Name))
}

// startFresh handles the new-conversation command. The replacement
// conversation always binds the current default agent, not whatever the
// closed one was using; with no resolvable agent it closes state and
// prompts selection instead.
func (o *Orchestrator) startFresh(ctx context.Context, userID string, agents []config.AgentConfig) error {
	if err := o.store.CloseAll(ctx, userID); err != nil {
		return o.storeFailure(ctx, userID, "close conversations", err)
	}

	agent := o.cfg.DefaultAgent()
	if agent == nil {
		if len(agents) == 0 {
			return o.reply(ctx, userID, cards.NoAgent())
		}
		return o.reply(ctx, userID, cards.AgentSelect(agents))
	}
	if _, err := o.store.Create(ctx, userID, agent.ID); err != nil {
		return o.storeFailure(ctx, userID, "create conversation", err)
	}
	return o.reply(ctx, userID, cards.Welcome(agent.Name))
}

// chatTurn runs one AI turn: resolve or create the active conversation,
// persist the user message, call the gateway, persist the answer, reply.
func (o *Orchestrator) chatTurn(ctx context.Context, userID, text string, agents []config.AgentConfig) error {
	conv, err := o.store.GetActive(ctx, userID)
	if err != nil {
		return o.storeFailure(ctx, userID, "load conversation", err)
	}

	if conv == nil {
		def := o.cfg.DefaultAgent()
		if def == nil {
			// More than zero agents with none marked default means the
			// user has to choose; this is guidance, not an error.
			if len(agents) == 0 {
				return o.reply(ctx, userID, cards.NoAgent())
			}
			return o.reply(ctx, userID, cards.AgentSelect(agents))
		}
		conv, err = o.store.Create(ctx, userID, def.ID)
		if err != nil {
			return o.storeFailure(ctx, userID, "create conversation", err)
		}
	}

	agent := o.cfg.AgentByID(conv.AgentID)
	if agent == nil {
		// The bound agent was deleted from the directory. Close the
		// orphaned conversation and ask the user to pick again.
		if err := o.store.CloseAll(ctx, userID); err != nil {
			return o.storeFailure(ctx, userID, "close conversations", err)
		}
		if len(agents) == 0 {
			return o.reply(ctx, userID, cards.NoAgent())
		}
		return o.reply(ctx, userID, cards.AgentSelect(agents))
	}

	if _, err := o.store.AppendMessage(ctx, conv.ID, store.RoleUser, text); err != nil {
		return o.storeFailure(ctx, userID, "persist user message", err)
	}

	ctx, span := o.tracer.Start(ctx, "dify.complete",
		trace.WithAttributes(attribute.String("agent.id", agent.ID)))
	result, err := o.dify.Complete(ctx, dify.CompleteRequest{
		Query:          text,
		UserID:         userID,
		ConversationID: conv.DifyConversationID,
		AppToken:       agent.DifyAppToken,
	})
	span.End()
	if err != nil {
		// Failed turns are not persisted and lastActiveAt stays put;
		// retry is the user resending the message.
		slog.Warn("ai turn failed", "user_id", userID, "conversation_id", conv.ID, "error", err)
		return o.reply(ctx, userID, cards.Error(gatewayErrorMessage(err)))
	}

	if _, err := o.store.AppendMessage(ctx, conv.ID, store.RoleAssistant, result.Answer); err != nil {
		return o.storeFailure(ctx, userID, "persist assistant message", err)
	}
	params := store.TouchParams{LastActiveAt: o.now().UTC()}
	if conv.DifyConversationID == "" && result.ConversationID != "" {
		params.DifyConversationID = &result.ConversationID
	}
	if err := o.store.Touch(ctx, conv.ID, params); err != nil {
		return o.storeFailure(ctx, userID, "update conversation", err)
	}

	return o.sendAnswer(ctx, userID, result.Answer)
}

// gatewayErrorMessage maps the gateway failure taxonomy to user-facing
// text. Upstream rejections carry the backend's own message; transport
// failures get generic wording since the raw error is useless to a chat
// user.
func gatewayErrorMessage(err error) string {
	var upstream *dify.UpstreamError
	var transport *dify.TransportError
	switch {
	case errors.Is(err, dify.ErrConfigIncomplete):
		return dify.ErrConfigIncomplete.Error()
	case errors.As(err, &upstream):
		return upstream.Message
	case errors.As(err, &transport):
		return "网络异常，暂时无法连接 AI 服务"
	default:
		return "处理消息时出现未知错误"
	}
}

func (o *Orchestrator) storeFailure(ctx context.Context, userID, op string, err error) error {
	slog.Error("store operation failed", "op", op, "user_id", userID, "error", err)
	return o.reply(ctx, userID, cards.Error(storeFailureMessage))
}

func (o *Orchestrator) reply(ctx context.Context, userID string, card map[string]any) error {
	if err := o.sender.SendCard(ctx, userID, card); err != nil {
		slog.Error("reply send failed", "user_id", userID, "error", err)
	}
	return nil
}

func (o *Orchestrator) sendAnswer(ctx context.Context, userID, answer string) error {
	if err := o.sender.SendMarkdown(ctx, userID, answer); err != nil {
		slog.Error("answer send failed", "user_id", userID, "error", err)
	}
	return nil
}
