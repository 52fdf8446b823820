package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"tickerguard/pkg/command"
	"tickerguard/pkg/config"
	"tickerguard/pkg/logger"
	"tickerguard/pkg/moderation/classifier"
	"tickerguard/pkg/moderation/lexical"
	"tickerguard/pkg/pipeline"
	"tickerguard/pkg/quote"
	"tickerguard/pkg/ratelimit"
)

// loadConfig reads config and installs the process logger. adjust runs
// before validation so a mode can switch off surfaces it never starts.
func loadConfig(logOut io.Writer, adjust func(*config.Config)) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if adjust != nil {
		adjust(cfg)
	}

	appLogger, err := logger.NewWithWriter(cfg.Logging, logOut)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, appLogger, nil
}

// buildPipeline wires the banned-word filter, classifier, price client,
// command registry and cooldown limiter into one pipeline.
func buildPipeline(cfg *config.Config, outbound pipeline.Outbound, events pipeline.EventPublisher, log *slog.Logger) (*pipeline.Pipeline, error) {
	words, err := lexical.Load(lexical.Sources{
		SkipDefaults: cfg.Moderation.SkipDefaultList,
		Terms:        cfg.Moderation.BannedWords,
		File:         cfg.Moderation.BannedWordsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("load banned words: %w", err)
	}

	moderation, err := classifier.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize moderation classifier: %w", err)
	}

	prices, err := quote.New(cfg.Providers.Finnhub)
	if err != nil {
		return nil, fmt.Errorf("initialize price provider: %w", err)
	}

	registry, err := command.DefaultRegistry(prices)
	if err != nil {
		return nil, fmt.Errorf("register commands: %w", err)
	}

	if log != nil {
		log.Info("Pipeline configured",
			"banned_terms", words.Len(),
			"classifier", moderation.Enabled(),
			"prefix", cfg.Commands.Prefix,
			"commands", len(registry.Specs()),
		)
	}

	return pipeline.New(pipeline.Deps{
		Words:          words,
		Classifier:     moderation,
		Commands:       registry,
		Limiter:        ratelimit.New(registry.Cooldowns(cfg.Commands.Cooldowns)),
		Outbound:       outbound,
		Events:         events,
		Prefix:         cfg.Commands.Prefix,
		NoticeTemplate: cfg.Moderation.NoticeTemplate,
		Logger:         log,
	})
}
