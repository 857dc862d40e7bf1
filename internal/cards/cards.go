// Package cards builds the Feishu interactive card payloads the bot sends.
// Cards are plain map literals marshalled by the Lark client; the layouts
// mirror the admin-facing message designs (help, agent picker, welcome,
// error, missing-config).
package cards

import (
	"fmt"

	"github.com/joshleeeeee/dify-feishu-bot/internal/config"
)

// Markdown wraps free-form markdown in a wide card. Used for AI answers.
func Markdown(content string) map[string]any {
	return map[string]any{
		"config": map[string]any{
			"wide_screen_mode": true,
		},
		"elements": []map[string]any{
			{
				"tag":     "markdown",
				"content": content,
			},
		},
	}
}

// AgentSelect lists the configured agents as buttons, the default one
// highlighted, numbered so users can also reply with the index.
func AgentSelect(agents []config.AgentConfig) map[string]any {
	buttons := make([]map[string]any, 0, len(agents))
	for _, agent := range agents {
		label := agent.Name
		btnType := "default"
		if agent.IsDefault {
			label += " ⭐"
			btnType = "primary"
		}
		buttons = append(buttons, map[string]any{
			"tag": "button",
			"text": map[string]any{
				"tag":     "plain_text",
				"content": label,
			},
			"type": btnType,
			"value": map[string]any{
				"action":  "select_agent",
				"agentId": agent.ID,
			},
		})
	}

	return map[string]any{
		"config": map[string]any{
			"wide_screen_mode": true,
		},
		"header": map[string]any{
			"title": map[string]any{
				"tag":     "plain_text",
				"content": "🤖 请选择 AI 助手",
			},
			"template": "blue",
		},
		"elements": []map[string]any{
			{
				"tag": "div",
				"text": map[string]any{
					"tag":     "lark_md",
					"content": "请选择一个 AI 助手开始对话，回复序号即可：",
				},
			},
			{
				"tag":     "action",
				"actions": buttons,
			},
			{
				"tag": "hr",
			},
			{
				"tag": "note",
				"elements": []map[string]any{
					{
						"tag":     "plain_text",
						"content": "💡 发送 /new 可以开始新对话",
					},
				},
			},
		},
	}
}

// Welcome confirms which agent a fresh conversation is bound to.
func Welcome(agentName string) map[string]any {
	return map[string]any{
		"config": map[string]any{
			"wide_screen_mode": true,
		},
		"header": map[string]any{
			"title": map[string]any{
				"tag":     "plain_text",
				"content": "👋 欢迎使用 AI 助手",
			},
			"template": "green",
		},
		"elements": []map[string]any{
			{
				"tag": "div",
				"text": map[string]any{
					"tag":     "lark_md",
					"content": fmt.Sprintf("当前助手：**%s**\n\n现在可以开始对话了，直接发送消息即可！", agentName),
				},
			},
		},
	}
}

// Help lists the available commands.
func Help() map[string]any {
	return map[string]any{
		"config": map[string]any{
			"wide_screen_mode": true,
		},
		"header": map[string]any{
			"title": map[string]any{
				"tag":     "plain_text",
				"content": "📖 使用帮助",
			},
			"template": "purple",
		},
		"elements": []map[string]any{
			{
				"tag": "div",
				"text": map[string]any{
					"tag": "lark_md",
					"content": "**可用命令：**\n\n" +
						"• `/agent` 或 `选择助手` - 选择 AI 助手\n" +
						"• `/new` 或 `新对话` - 开始新的对话\n" +
						"• `/help` 或 `帮助` - 显示此帮助\n\n" +
						"**使用方式：**\n\n" +
						"直接发送消息即可与 AI 助手对话。",
				},
			},
		},
	}
}

// Error shows a user-visible failure with the upstream message.
func Error(message string) map[string]any {
	return map[string]any{
		"config": map[string]any{
			"wide_screen_mode": true,
		},
		"header": map[string]any{
			"title": map[string]any{
				"tag":     "plain_text",
				"content": "❌ 出现错误",
			},
			"template": "red",
		},
		"elements": []map[string]any{
			{
				"tag": "div",
				"text": map[string]any{
					"tag":     "lark_md",
					"content": message,
				},
			},
			{
				"tag": "note",
				"elements": []map[string]any{
					{
						"tag":     "plain_text",
						"content": "重新发送消息即可重试",
					},
				},
			},
		},
	}
}

// NoAgent tells the user no agent is configured yet.
func NoAgent() map[string]any {
	return map[string]any{
		"config": map[string]any{
			"wide_screen_mode": true,
		},
		"header": map[string]any{
			"title": map[string]any{
				"tag":     "plain_text",
				"content": "⚠️ 配置缺失",
			},
			"template": "orange",
		},
		"elements": []map[string]any{
			{
				"tag": "div",
				"text": map[string]any{
					"tag":     "lark_md",
					"content": "当前没有可用的 AI 助手，请联系管理员在后台添加智能体配置。",
				},
			},
		},
	}
}
