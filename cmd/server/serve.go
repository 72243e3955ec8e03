package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"lexidraft-realtime/internal/chat"
	"lexidraft-realtime/internal/config"
	"lexidraft-realtime/internal/database"
	"lexidraft-realtime/internal/notification"
	"lexidraft-realtime/internal/server"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("Starting realtime server", "version", Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the notifications and chat_messages tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			slog.Info("Starting database migration...")
			db, err := database.NewPostgresConnection(cfg.Database.DSN(), &notification.Notification{}, &chat.Message{})
			if err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
			slog.Info("Database migration completed")
			return database.ClosePostgres(db)
		},
	}
}
