package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"tickerguard/pkg/bus"
	"tickerguard/pkg/channel"
	"tickerguard/pkg/channel/telegram"
	"tickerguard/pkg/config"
	"tickerguard/pkg/gateway"
	"tickerguard/pkg/webhook"

	"github.com/spf13/cobra"
)

const telegramChannelName = "telegram"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat gateway",
	Long:  "Connects the enabled chat channels, moderates every message, answers price commands and serves health, metrics and webhook endpoints.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, appLogger, err := loadConfig(os.Stderr, nil)
		if err != nil {
			return err
		}
		log := appLogger.With("component", "cmd.serve")

		adapters, err := enabledAdapters(cfg, log)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return err
		}
		if err := checkWebhookChannel(cfg.Webhook, adapters); err != nil {
			log.Error("Webhook configuration invalid", "error", err)
			return err
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		mb := bus.NewMessageBus()
		defer mb.Close()
		outbox := channel.NewOutbox(adapters...)

		p, err := buildPipeline(cfg, outbox, mb, appLogger)
		if err != nil {
			log.Error("Failed to build pipeline", "error", err)
			return err
		}

		var opts []gateway.Option
		if cfg.Webhook.Enabled {
			relay, err := webhook.New(cfg.Webhook, outbox, mb, appLogger)
			if err != nil {
				log.Error("Failed to initialize webhook relay", "error", err)
				return err
			}
			opts = append(opts, gateway.WithRoutes(relay))
		}

		svc, err := gateway.NewService(cfg, p, mb, adapters, appLogger, opts...)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return err
		}

		log.Info("Gateway started",
			"channels", enabledChannelNames(adapters),
			"workers", cfg.Gateway.Workers,
			"webhook", cfg.Webhook.Enabled,
			"classifier", !cfg.Moderation.Classifier.Disabled,
		)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			log.Error("Gateway runtime failed", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 1)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", telegramChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

// checkWebhookChannel makes sure relayed pushes have somewhere to go.
func checkWebhookChannel(cfg config.WebhookConfig, adapters []channel.Adapter) error {
	if !cfg.Enabled {
		return nil
	}

	for _, adapter := range adapters {
		if adapter.Name() == cfg.Channel {
			return nil
		}
	}
	return fmt.Errorf("webhook.channel %q is not an enabled channel (enabled: %s)", cfg.Channel, enabledChannelNames(adapters))
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
