package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshleeeeee/dify-feishu-bot/internal/config"
	"github.com/joshleeeeee/dify-feishu-bot/internal/dify"
	"github.com/joshleeeeee/dify-feishu-bot/internal/feishu"
	"github.com/joshleeeeee/dify-feishu-bot/internal/httpapi"
	"github.com/joshleeeeee/dify-feishu-bot/internal/orchestrator"
	"github.com/joshleeeeee/dify-feishu-bot/internal/store"
	"github.com/joshleeeeee/dify-feishu-bot/internal/store/pg"
	"github.com/joshleeeeee/dify-feishu-bot/internal/store/sqlite"
	"github.com/joshleeeeee/dify-feishu-bot/internal/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot (Feishu connection + admin API)",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	// Secrets live in .env.local next to the config, loaded before the
	// config reads the environment. Absence is fine.
	cfgPath := resolveConfigPath()
	godotenv.Load(filepath.Join(filepath.Dir(cfgPath), ".env.local"))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if _, statErr := os.Stat(cfgPath); os.IsNotExist(statErr) {
		fmt.Println("No configuration found. Starting setup wizard...")
		fmt.Println()
		runOnboard()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	difyClient := dify.New(func() dify.Settings {
		dc := cfg.DifySettings()
		return dify.Settings{
			BaseURL: dc.BaseURL,
			APIKey:  dc.APIKey,
			Timeout: time.Duration(dc.TimeoutSeconds) * time.Second,
		}
	})
	var manager *feishu.Manager
	orch := orchestrator.New(cfg, st, difyClient, senderFunc(func() *feishu.Manager { return manager }))
	manager = feishu.NewManager(cfg, feishu.NewEventBridge(orch))

	if err := manager.Start(ctx); err != nil {
		// The admin API still runs so credentials can be fixed remotely.
		slog.Warn("feishu connection not started", "error", err)
	}
	defer manager.Invalidate()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sc := cfg.ServerSettings()
		api := httpapi.NewServer(cfg, cfgPath, st, manager, difyClient, Version)
		return api.ListenAndServe(gctx, fmt.Sprintf("%s:%d", sc.Host, sc.Port))
	})

	g.Go(func() error {
		return config.Watch(gctx, cfg, cfgPath)
	})

	slog.Info("dify-feishu-bot started", "version", Version, "config", cfgPath)
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("serve failed", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// openStore picks Postgres when a DSN is set, SQLite otherwise.
func openStore(cfg *config.Config) (store.ConversationStore, error) {
	db := cfg.Database
	if db.PostgresDSN != "" {
		sqlDB, err := pg.OpenDB(db.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		slog.Info("using postgres store")
		return pg.New(sqlDB), nil
	}

	path := config.ExpandHome(db.SQLitePath)
	sqlDB, err := sqlite.OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	slog.Info("using sqlite store", "path", path)
	return sqlite.New(sqlDB), nil
}

// senderFunc defers sender resolution so the orchestrator and the
// connection manager can reference each other without a setter.
type senderFunc func() *feishu.Manager

func (f senderFunc) SendCard(ctx context.Context, userID string, card map[string]any) error {
	return f().SendCard(ctx, userID, card)
}

func (f senderFunc) SendMarkdown(ctx context.Context, userID string, text string) error {
	return f().SendMarkdown(ctx, userID, text)
}
