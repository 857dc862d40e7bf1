package cards

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/joshleeeeee/dify-feishu-bot/internal/config"
)

func asJSON(t *testing.T, card map[string]any) string {
	t.Helper()
	b, err := json.Marshal(card)
	if err != nil {
		t.Fatalf("card does not marshal: %v", err)
	}
	return string(b)
}

func TestAgentSelect(t *testing.T) {
	card := AgentSelect([]config.AgentConfig{
		{ID: "a1", Name: "写作助手", IsDefault: true},
		{ID: "a2", Name: "翻译助手"},
	})
	s := asJSON(t, card)

	if !strings.Contains(s, "写作助手 ⭐") {
		t.Error("default agent should carry the star marker")
	}
	if !strings.Contains(s, "翻译助手") {
		t.Error("every agent should be listed")
	}
	if !strings.Contains(s, `"primary"`) || !strings.Contains(s, `"default"`) {
		t.Error("default agent button should be highlighted")
	}
	if !strings.Contains(s, "回复序号") {
		t.Error("card should mention replying with the index")
	}
}

func TestWelcome(t *testing.T) {
	s := asJSON(t, Welcome("写作助手"))
	if !strings.Contains(s, "写作助手") {
		t.Error("welcome card should name the bound agent")
	}
}

func TestErrorCard(t *testing.T) {
	s := asJSON(t, Error("insufficient credit"))
	if !strings.Contains(s, "insufficient credit") {
		t.Error("error card should carry the message")
	}
	if !strings.Contains(s, "重新发送") {
		t.Error("error card should suggest resending as the retry path")
	}
}

func TestStaticCards(t *testing.T) {
	for name, card := range map[string]map[string]any{
		"help":     Help(),
		"no-agent": NoAgent(),
		"markdown": Markdown("**hi**"),
	} {
		t.Run(name, func(t *testing.T) {
			if asJSON(t, card) == "" {
				t.Error("card should not be empty")
			}
		})
	}
}
