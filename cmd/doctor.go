package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshleeeeee/dify-feishu-bot/internal/config"
	"github.com/joshleeeeee/dify-feishu-bot/internal/dify"
	"github.com/joshleeeeee/dify-feishu-bot/internal/feishu"
	"github.com/joshleeeeee/dify-feishu-bot/internal/store/pg"
	"github.com/joshleeeeee/dify-feishu-bot/internal/store/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment, configuration and upstream connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("dify-feishu-bot doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	fmt.Println()
	fmt.Println("  Database:")
	if dsn := cfg.Database.PostgresDSN; dsn != "" {
		fmt.Printf("    %-10s postgres\n", "Backend:")
		if db, dbErr := pg.OpenDB(dsn); dbErr != nil {
			fmt.Printf("    %-10s CONNECT FAILED (%s)\n", "Status:", dbErr)
		} else {
			db.Close()
			fmt.Printf("    %-10s OK\n", "Status:")
		}
	} else {
		path := config.ExpandHome(cfg.Database.SQLitePath)
		fmt.Printf("    %-10s sqlite (%s)\n", "Backend:", path)
		if db, dbErr := sqlite.OpenDB(path); dbErr != nil {
			fmt.Printf("    %-10s OPEN FAILED (%s)\n", "Status:", dbErr)
		} else {
			db.Close()
			fmt.Printf("    %-10s OK\n", "Status:")
		}
	}

	fmt.Println()
	fmt.Println("  Feishu:")
	fc := cfg.FeishuSettings()
	if !fc.Configured() {
		fmt.Println("    NOT CONFIGURED (run: dify-feishu-bot onboard)")
	} else {
		client := feishu.NewLarkClient(fc.AppID, fc.AppSecret, config.ResolveDomain(fc.Domain))
		if err := client.Probe(ctx); err != nil {
			fmt.Printf("    FAILED (%s)\n", err)
		} else {
			fmt.Printf("    OK (app %s, mode %s)\n", fc.AppID, fc.ConnectionMode)
		}
	}

	fmt.Println()
	fmt.Println("  Dify:")
	dc := cfg.DifySettings()
	if dc.BaseURL == "" || dc.APIKey == "" {
		fmt.Println("    NOT CONFIGURED")
	} else {
		client := dify.New(func() dify.Settings {
			return dify.Settings{BaseURL: dc.BaseURL, APIKey: dc.APIKey}
		})
		if err := client.Verify(ctx); err != nil {
			fmt.Printf("    FAILED (%s)\n", err)
		} else {
			fmt.Printf("    OK (%s)\n", dc.BaseURL)
		}
	}

	fmt.Println()
	fmt.Printf("  Agents:   %d configured\n", len(cfg.AgentList()))
}
