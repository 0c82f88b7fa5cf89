// promptpot serves the chat session of a paid on-chain game.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:   "promptpot",
		Short: "Chat session backend for a paid on-chain game",
		Long: `promptpot turns chain snapshots reported by a Chain Reader into chat
sessions, gates paid sends behind a wallet, and records send intents for
the relayer to submit.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(deriveCmd())

	if err := root.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
