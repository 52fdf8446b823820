package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"tickerguard/pkg/config"
	"tickerguard/pkg/metrics"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Verdict is the classifier's judgement on one text.
type Verdict struct {
	Flagged    bool
	Categories map[string]bool
}

// Clean is the verdict returned whenever the classifier cannot judge a text.
func Clean() Verdict {
	return Verdict{Categories: map[string]bool{}}
}

// FlaggedCategories returns the sorted names of categories set to true.
func (v Verdict) FlaggedCategories() []string {
	names := make([]string, 0, len(v.Categories))
	for name, hit := range v.Categories {
		if hit {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Reason renders the flagged categories for a user-facing notice.
func (v Verdict) Reason() string {
	names := v.FlaggedCategories()
	if len(names) == 0 {
		return "flagged by moderation"
	}
	return strings.Join(names, ", ")
}

// Client calls the OpenAI moderation endpoint. It never returns an error:
// every failure degrades to a clean verdict.
type Client struct {
	client         osdk.Client
	model          string
	requestTimeout time.Duration
	disabled       bool
}

// New builds a client from config. A disabled classifier needs no credential.
func New(cfg *config.Config) (*Client, error) {
	if cfg.Moderation.Classifier.Disabled {
		return Disabled(), nil
	}

	providerCfg := cfg.Providers.OpenAI
	apiKey := strings.TrimSpace(providerCfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: providers.openai.api_key_env is required or OPENAI_API_KEY must be set", config.ErrMissingCredential)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL := strings.TrimSpace(providerCfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(providerCfg.Organization); organization != "" {
		opts = append(opts, option.WithOrganization(organization))
	}
	if project := strings.TrimSpace(providerCfg.Project); project != "" {
		opts = append(opts, option.WithProject(project))
	}

	requestTimeout := time.Duration(providerCfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}

	model := strings.TrimSpace(cfg.Moderation.Classifier.Model)
	if model == "" {
		model = config.DefaultModerationModel
	}

	return &Client{
		client:         osdk.NewClient(opts...),
		model:          model,
		requestTimeout: requestTimeout,
	}, nil
}

// Disabled returns a classifier that judges every text clean.
func Disabled() *Client {
	return &Client{disabled: true}
}

// Enabled reports whether Classify calls the remote endpoint.
func (c *Client) Enabled() bool {
	return c != nil && !c.disabled
}

// Classify asks the moderation endpoint about text. Transport errors, timeouts,
// empty results and undecodable categories all yield Clean().
func (c *Client) Classify(ctx context.Context, text string) Verdict {
	if !c.Enabled() || strings.TrimSpace(text) == "" {
		return Clean()
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := classifierLogger().With("operation", "classify")
	startedAt := time.Now()
	log.Debug("provider request started", "model", c.model, "text_length", len(text))

	verdict, err := c.classify(ctx, text)
	if err != nil {
		metrics.ObserveProvider("openai_moderation", "failed", time.Since(startedAt))
		log.Warn("moderation check failed, allowing message", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return Clean()
	}
	metrics.ObserveProvider("openai_moderation", "success", time.Since(startedAt))
	log.Debug("provider request completed",
		"duration_ms", time.Since(startedAt).Milliseconds(),
		"flagged", verdict.Flagged,
		"categories", strings.Join(verdict.FlaggedCategories(), ","),
	)

	return verdict
}

func (c *Client) classify(ctx context.Context, text string) (Verdict, error) {
	response, err := c.client.Moderations.New(ctx, osdk.ModerationNewParams{
		Input: osdk.ModerationNewParamsInputUnion{OfString: osdk.String(text)},
		Model: osdk.ModerationModel(c.model),
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("moderation request: %w", err)
	}
	if response == nil || len(response.Results) == 0 {
		return Verdict{}, errors.New("moderation response has no results")
	}

	result := response.Results[0]
	categories, err := decodeCategories(result.Categories.RawJSON())
	if err != nil {
		return Verdict{}, err
	}

	return Verdict{Flagged: result.Flagged, Categories: categories}, nil
}

// decodeCategories reads the raw categories object so that categories added
// upstream after this client was built are still reported.
func decodeCategories(raw string) (map[string]bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return map[string]bool{}, nil
	}

	var values map[string]*bool
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("decode moderation categories: %w", err)
	}

	categories := make(map[string]bool, len(values))
	for name, hit := range values {
		categories[name] = hit != nil && *hit
	}
	return categories, nil
}

func classifierLogger() *slog.Logger {
	return slog.Default().With("component", "moderation.classifier")
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}
