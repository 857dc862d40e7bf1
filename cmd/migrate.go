package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshleeeeee/dify-feishu-bot/internal/config"
	"github.com/joshleeeeee/dify-feishu-bot/internal/store/pg"
	"github.com/joshleeeeee/dify-feishu-bot/internal/store/sqlite"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Long:  "Applies the embedded schema migrations to the configured database. serve does this automatically on startup; this command exists for init containers and deploy pipelines.",
		Run: func(cmd *cobra.Command, args []string) {
			runMigrate()
		},
	}
}

func runMigrate() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if dsn := cfg.Database.PostgresDSN; dsn != "" {
		db, err := pg.OpenDB(dsn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migrate postgres: %v\n", err)
			os.Exit(1)
		}
		db.Close()
		fmt.Println("postgres schema up to date")
		return
	}

	path := config.ExpandHome(cfg.Database.SQLitePath)
	db, err := sqlite.OpenDB(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate sqlite: %v\n", err)
		os.Exit(1)
	}
	db.Close()
	fmt.Printf("sqlite schema up to date (%s)\n", path)
}
