// Stagehand: a workspace agent MCP server.
//
// Stagehand turns plain-language requests into plans that a user reviews
// and confirms before anything is written.
//
// Usage:
//
//	stagehand serve            # Start the MCP server (stdio or sse)
//	stagehand seed --user bob  # Write a demo workspace for a user
//	stagehand version
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/stagehand/internal/config"
	"github.com/HendryAvila/stagehand/internal/server"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stagehand",
		Short: "Workspace agent MCP server",
		Long: `Stagehand is an MCP server that lets an AI host propose changes to a
user's projects, tasks, notes and events. Every change is drafted, shown
to the user, confirmed and only then applied in a single transaction.

Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "stagehand": {
        "command": "stagehand",
        "args": ["serve"]
      }
    }
  }`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")

	cmd.AddCommand(serveCmd(&configPath), seedCmd(&configPath), &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stagehand v%s\n", server.Version)
		},
	})
	return cmd
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			app, cleanup, err := server.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			defer cleanup()

			// Graceful shutdown on interrupt.
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("stagehand starting", "version", server.Version, "transport", cfg.Transport.Type, "data_dir", cfg.DataDir)
			return app.Run(ctx)
		},
	}
}

func seedCmd(configPath *string) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write a demo workspace for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if userID == "" {
				userID = cfg.Identity.UserID
			}

			db, err := server.OpenDB(cfg)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer func() { _ = db.Close() }()

			res, err := server.Seed(cmd.Context(), db, userID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user to seed (default: identity.user_id)")
	return cmd
}

// newLogger writes to stderr so the stdio transport keeps stdout clean.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
