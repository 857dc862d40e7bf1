package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/joshleeeeee/dify-feishu-bot/internal/config"
	"github.com/joshleeeeee/dify-feishu-bot/internal/dify"
	"github.com/joshleeeeee/dify-feishu-bot/internal/feishu"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

func runOnboard() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	fc := cfg.FeishuSettings()
	dc := cfg.DifySettings()
	agentName := "默认助手"
	agentToken := ""

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Feishu App ID").
				Description("从飞书开放平台的应用凭证页面获取").
				Value(&fc.AppID),
			huh.NewInput().
				Title("Feishu App Secret").
				EchoMode(huh.EchoModePassword).
				Value(&fc.AppSecret),
			huh.NewSelect[string]().
				Title("Platform domain").
				Options(
					huh.NewOption("Feishu (open.feishu.cn)", "feishu"),
					huh.NewOption("Lark (open.larksuite.com)", "lark"),
				).
				Value(&fc.Domain),
			huh.NewSelect[string]().
				Title("Event delivery").
				Options(
					huh.NewOption("WebSocket 长连接（推荐）", config.ConnectionModeWebsocket),
					huh.NewOption("Webhook 回调", config.ConnectionModeWebhook),
				).
				Value(&fc.ConnectionMode),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Dify base URL").
				Placeholder("https://api.dify.ai/v1").
				Value(&dc.BaseURL),
			huh.NewInput().
				Title("Dify API key").
				EchoMode(huh.EchoModePassword).
				Value(&dc.APIKey),
			huh.NewInput().
				Title("First agent name").
				Value(&agentName),
			huh.NewInput().
				Title("Agent app token (optional, falls back to the API key)").
				EchoMode(huh.EchoModePassword).
				Value(&agentToken),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "setup cancelled: %v\n", err)
		os.Exit(1)
	}

	cfg.SetFeishu(fc)
	cfg.SetDify(dc)
	if name := strings.TrimSpace(agentName); name != "" && len(cfg.AgentList()) == 0 {
		cfg.AddAgent(config.AgentConfig{
			Name:         name,
			DifyAppToken: agentToken,
			IsDefault:    true,
		})
	}

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create config dir: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Save(cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "save config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Configuration written to %s\n\n", cfgPath)

	verifyOnboard(cfg)

	fmt.Println("Start the bot with:  dify-feishu-bot serve")
}

// verifyOnboard checks both upstreams with short timeouts so typos
// surface now instead of at first message.
func verifyOnboard(cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	fc := cfg.FeishuSettings()
	if fc.Configured() {
		client := feishu.NewLarkClient(fc.AppID, fc.AppSecret, config.ResolveDomain(fc.Domain))
		if err := client.Probe(ctx); err != nil {
			fmt.Printf("  ✗ Feishu credentials: %v\n", err)
		} else {
			fmt.Println("  ✓ Feishu credentials verified")
		}
	}

	dc := cfg.DifySettings()
	if dc.BaseURL != "" && dc.APIKey != "" {
		client := dify.New(func() dify.Settings {
			return dify.Settings{BaseURL: dc.BaseURL, APIKey: dc.APIKey}
		})
		if err := client.Verify(ctx); err != nil {
			fmt.Printf("  ✗ Dify API: %v\n", err)
		} else {
			fmt.Println("  ✓ Dify API verified")
		}
	}
	fmt.Println()
}
