package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	envConfigPath       = "TICKERGUARD_CONFIG"
	envTelegramBotToken = "TELEGRAM_BOT_TOKEN"
	envFinnhubAPIKey    = "FINNHUB_API_KEY"
	envOpenAIAPIKey     = "OPENAI_API_KEY"
	envCommandPrefix    = "TICKERGUARD_COMMAND_PREFIX"
	envWebhookSecret    = "TICKERGUARD_WEBHOOK_SECRET"
	envWebhookChatID    = "TICKERGUARD_WEBHOOK_CHAT_ID"
	envBannedWords      = "TICKERGUARD_BANNED_WORDS"
)

const (
	DefaultCommandPrefix         = "!"
	DefaultModerationModel       = "omni-moderation-latest"
	DefaultFinnhubBaseURL        = "https://finnhub.io/api/v1"
	DefaultCryptoExchange        = "BINANCE"
	DefaultRequestTimeoutSeconds = 5
	DefaultWebhookPath           = "/webhooks/vcs"
	DefaultGatewayHost           = "0.0.0.0"
	DefaultGatewayPort           = 18790
	DefaultGatewayWorkers        = 4
)

// ErrMissingCredential marks configuration that cannot start the service.
var ErrMissingCredential = errors.New("missing required credential")

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Channels   ChannelsConfig   `json:"channels"`
	Commands   CommandsConfig   `json:"commands"`
	Moderation ModerationConfig `json:"moderation"`
	Providers  ProvidersConfig  `json:"providers"`
	Webhook    WebhookConfig    `json:"webhook"`
	Gateway    GatewayConfig    `json:"gateway"`
	Logging    LoggingConfig    `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled    bool     `json:"enabled"`
	Token      string   `json:"token"`
	AllowChats []string `json:"allow_chats"`
}

// CommandsConfig configures command parsing and per-command cooldowns.
type CommandsConfig struct {
	Prefix string `json:"prefix"`
	// Cooldowns overrides a command's built-in cooldown, in seconds. Zero disables it.
	Cooldowns map[string]int `json:"cooldowns,omitempty"`
}

// ModerationConfig configures the banned-word list and the external classifier.
type ModerationConfig struct {
	BannedWords     []string         `json:"banned_words,omitempty"`
	BannedWordsFile string           `json:"banned_words_file,omitempty"`
	SkipDefaultList bool             `json:"skip_default_list,omitempty"`
	NoticeTemplate  string           `json:"notice_template,omitempty"`
	Classifier      ClassifierConfig `json:"classifier"`
}

// ClassifierConfig configures the external moderation classifier.
type ClassifierConfig struct {
	Disabled bool   `json:"disabled"`
	Model    string `json:"model"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenAI  OpenAIProviderConfig  `json:"openai"`
	Finnhub FinnhubProviderConfig `json:"finnhub"`
}

// OpenAIProviderConfig configures the OpenAI client used for moderation.
type OpenAIProviderConfig struct {
	APIKey                string `json:"-"`
	APIKeyEnv             string `json:"api_key_env"`
	BaseURL               string `json:"base_url"`
	Organization          string `json:"organization"`
	Project               string `json:"project"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// FinnhubProviderConfig configures the price quote provider.
type FinnhubProviderConfig struct {
	APIKey                string `json:"api_key"`
	BaseURL               string `json:"base_url"`
	CryptoExchange        string `json:"crypto_exchange"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// WebhookConfig configures the inbound VCS webhook relay.
type WebhookConfig struct {
	Enabled  bool   `json:"enabled"`
	Path     string `json:"path"`
	Secret   string `json:"secret"`
	Channel  string `json:"channel"`
	ChatID   string `json:"chat_id"`
	Template string `json:"template,omitempty"`
}

// GatewayConfig configures HTTP bind settings and pipeline concurrency.
type GatewayConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Workers int    `json:"workers"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides and defaults.
//
// A missing config file is not an error: defaults plus environment are enough to run.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	var cfg Config
	telegramSet := false
	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		telegramSet = gjson.GetBytes(content, "channels.telegram.enabled").Exists()
	}

	applyEnvOverrides(&cfg)
	// A bot token alone is enough to run Telegram unless the file decides.
	if !telegramSet && strings.TrimSpace(os.Getenv(envTelegramBotToken)) != "" {
		cfg.Channels.Telegram.Enabled = true
	}
	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills zero-valued settings with their defaults.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}

	if strings.TrimSpace(c.Commands.Prefix) == "" {
		c.Commands.Prefix = DefaultCommandPrefix
	}
	if strings.TrimSpace(c.Moderation.Classifier.Model) == "" {
		c.Moderation.Classifier.Model = DefaultModerationModel
	}
	if c.Providers.OpenAI.RequestTimeoutSeconds <= 0 {
		c.Providers.OpenAI.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}
	if strings.TrimSpace(c.Providers.Finnhub.BaseURL) == "" {
		c.Providers.Finnhub.BaseURL = DefaultFinnhubBaseURL
	}
	if strings.TrimSpace(c.Providers.Finnhub.CryptoExchange) == "" {
		c.Providers.Finnhub.CryptoExchange = DefaultCryptoExchange
	}
	if c.Providers.Finnhub.RequestTimeoutSeconds <= 0 {
		c.Providers.Finnhub.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}
	if strings.TrimSpace(c.Webhook.Path) == "" {
		c.Webhook.Path = DefaultWebhookPath
	}
	if strings.TrimSpace(c.Webhook.Channel) == "" {
		c.Webhook.Channel = "telegram"
	}
	if strings.TrimSpace(c.Gateway.Host) == "" {
		c.Gateway.Host = DefaultGatewayHost
	}
	if c.Gateway.Port <= 0 {
		c.Gateway.Port = DefaultGatewayPort
	}
	if c.Gateway.Workers <= 0 {
		c.Gateway.Workers = DefaultGatewayWorkers
	}
}

// Validate reports configuration that must abort startup.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is required")
	}

	var errs []error
	if c.Channels.Telegram.Enabled && strings.TrimSpace(c.Channels.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("%w: channels.telegram.token or %s", ErrMissingCredential, envTelegramBotToken))
	}
	if strings.TrimSpace(c.Providers.Finnhub.APIKey) == "" {
		errs = append(errs, fmt.Errorf("%w: providers.finnhub.api_key or %s", ErrMissingCredential, envFinnhubAPIKey))
	}
	if !c.Moderation.Classifier.Disabled && strings.TrimSpace(c.Providers.OpenAI.APIKey) == "" {
		errs = append(errs, fmt.Errorf("%w: providers.openai.api_key_env or %s (or set moderation.classifier.disabled)", ErrMissingCredential, envOpenAIAPIKey))
	}
	if c.Webhook.Enabled && strings.TrimSpace(c.Webhook.ChatID) == "" {
		errs = append(errs, errors.New("webhook.chat_id is required when the webhook is enabled"))
	}
	if prefix := c.Commands.Prefix; len([]rune(prefix)) != 1 {
		errs = append(errs, fmt.Errorf("commands.prefix must be a single character, got %q", prefix))
	}
	for name, seconds := range c.Commands.Cooldowns {
		if seconds < 0 {
			errs = append(errs, fmt.Errorf("commands.cooldowns.%s must not be negative", name))
		}
	}

	return errors.Join(errs...)
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if key := strings.TrimSpace(os.Getenv(envFinnhubAPIKey)); key != "" {
		cfg.Providers.Finnhub.APIKey = key
	}
	cfg.Providers.OpenAI.APIKey = resolveOpenAIKey(cfg.Providers.OpenAI)

	if prefix := strings.TrimSpace(os.Getenv(envCommandPrefix)); prefix != "" {
		cfg.Commands.Prefix = prefix
	}
	if secret := strings.TrimSpace(os.Getenv(envWebhookSecret)); secret != "" {
		cfg.Webhook.Secret = secret
	}
	if chatID := strings.TrimSpace(os.Getenv(envWebhookChatID)); chatID != "" {
		cfg.Webhook.ChatID = chatID
	}
	if rawWords := strings.TrimSpace(os.Getenv(envBannedWords)); rawWords != "" {
		cfg.Moderation.BannedWords = append(cfg.Moderation.BannedWords, parseCSV(rawWords)...)
	}
}

func resolveOpenAIKey(cfg OpenAIProviderConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv(envOpenAIAPIKey))
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is TICKERGUARD_CONFIG first, then cwd-local fallback paths. An empty
// path with a nil error means no file exists.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
