package main

import (
	"context"
	"fmt"
	"os"

	"gatekeeper/bot"
	"gatekeeper/config"
	"gatekeeper/handlers"
	"gatekeeper/model"
	"gatekeeper/utils/database"
	"gatekeeper/utils/logger"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "gatekeeper",
		Short:         "Membership review and modmail bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Connect to Discord and serve staff commands and modmail",
			RunE:  runBot,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations and exit",
			RunE:  runMigrate,
		},
	)

	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig() (*model.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logger); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := database.Init(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	defer db.Close()

	b, err := bot.New(cfg, db)
	if err != nil {
		return fmt.Errorf("error creating bot: %w", err)
	}
	// Handlers only go live after the open ticket index is loaded.
	if err := b.Hydrate(ctx); err != nil {
		return fmt.Errorf("error loading open tickets: %w", err)
	}
	handlers.Register(b)

	return b.Run(ctx)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := database.Init(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("error migrating database: %w", err)
	}
	logger.Info("database is up to date", "path", cfg.DatabasePath)
	return db.Close()
}
