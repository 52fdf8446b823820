package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tickerguard",
	Short: "Chat moderation and price command bot",
	Long: `TickerGuard watches group chats: it removes messages with banned words or
content flagged by the moderation service, answers !stock and !crypto price
commands with per-user cooldowns, and relays VCS push webhooks into a chat.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env is fine; real deployments set the environment directly.
		_ = godotenv.Load()
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
