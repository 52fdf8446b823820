package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tickerguard/pkg/bus"
	"tickerguard/pkg/channel"
	"tickerguard/pkg/channel/console"
	"tickerguard/pkg/config"
	"tickerguard/pkg/gateway"

	"github.com/spf13/cobra"
)

var consoleLogFile string

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Chat with the bot locally",
	Long:  "Runs the full moderation and command pipeline against an interactive terminal chat. Replies and removals show up in the transcript.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		logOut, err := os.OpenFile(consoleLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open console log file: %w", err)
		}
		defer logOut.Close()

		cfg, appLogger, err := loadConfig(logOut, consoleOnly)
		if err != nil {
			return err
		}
		log := appLogger.With("component", "cmd.console")

		runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
		defer stop()

		adapter := console.NewAdapter(appLogger)
		mb := bus.NewMessageBus()
		defer mb.Close()

		p, err := buildPipeline(cfg, channel.NewOutbox(adapter), mb, appLogger)
		if err != nil {
			return err
		}

		svc, err := gateway.NewService(cfg, p, mb, []channel.Adapter{adapter}, appLogger, gateway.WithoutHTTP())
		if err != nil {
			return err
		}

		log.Info("Console started", "log_file", consoleLogFile)
		return svc.Run(runCtx)
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().StringVar(&consoleLogFile, "log-file", "tickerguard-console.log", "file that receives logs while the console UI owns the terminal")
}

// consoleOnly turns off the surfaces a local session never starts, so their
// credentials are not required.
func consoleOnly(cfg *config.Config) {
	cfg.Channels.Telegram.Enabled = false
	cfg.Webhook.Enabled = false
}
