package quote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"tickerguard/pkg/config"
	"tickerguard/pkg/metrics"
)

var (
	// ErrSymbolNotFound means the provider answered but has no price for the symbol.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrUnavailable means the provider could not be reached or answered garbage.
	ErrUnavailable = errors.New("price service unavailable")
)

const maxResponseBytes = 1 << 20

// Quote is the current price of one symbol.
type Quote struct {
	Symbol string
	Price  float64
}

// Client fetches current prices from a Finnhub compatible quote endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	exchange   string
}

func New(cfg config.FinnhubProviderConfig) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: providers.finnhub.api_key or FINNHUB_API_KEY must be set", config.ErrMissingCredential)
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = config.DefaultFinnhubBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse providers.finnhub.base_url: %w", err)
	}

	exchange := strings.ToUpper(strings.TrimSpace(cfg.CryptoExchange))
	if exchange == "" {
		exchange = config.DefaultCryptoExchange
	}

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = config.DefaultRequestTimeoutSeconds * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		exchange:   exchange,
	}, nil
}

// Stock returns the current price of a stock ticker.
func (c *Client) Stock(ctx context.Context, symbol string) (Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Quote{}, ErrSymbolNotFound
	}

	price, err := c.fetch(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Symbol: symbol, Price: price}, nil
}

// Crypto returns the current price of base quoted in quoteCurrency on the
// configured exchange. USD is quoted against USDT.
func (c *Client) Crypto(ctx context.Context, base, quoteCurrency string) (Quote, error) {
	base = strings.ToUpper(strings.TrimSpace(base))
	if base == "" {
		return Quote{}, ErrSymbolNotFound
	}

	pair := c.Pair(base, quoteCurrency)
	price, err := c.fetch(ctx, pair)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Symbol: base, Price: price}, nil
}

// Pair renders the exchange trading pair for base and quoteCurrency.
func (c *Client) Pair(base, quoteCurrency string) string {
	quoteCurrency = strings.ToUpper(strings.TrimSpace(quoteCurrency))
	if quoteCurrency == "" || quoteCurrency == "USD" {
		quoteCurrency = "USDT"
	}
	return c.exchange + ":" + strings.ToUpper(strings.TrimSpace(base)) + quoteCurrency
}

func (c *Client) fetch(ctx context.Context, symbol string) (price float64, err error) {
	log := quoteLogger().With("operation", "quote", "symbol", symbol)
	startedAt := time.Now()
	log.Debug("provider request started")
	defer func() {
		metrics.ObserveProvider("finnhub", resultLabel(err), time.Since(startedAt))
	}()

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("token", c.apiKey)
	endpoint := c.baseURL + "/quote?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", redact(err.Error(), c.apiKey))
		return 0, fmt.Errorf("%w: request failed", ErrUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return 0, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "status", resp.StatusCode)
		return 0, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	price, err = parsePrice(body)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return 0, err
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "price", price)

	return price, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrSymbolNotFound):
		return "not_found"
	default:
		return "unavailable"
	}
}

// parsePrice reads the current price field. A missing or zero price is how
// the provider reports an unknown symbol.
func parsePrice(body []byte) (float64, error) {
	if !gjson.ValidBytes(body) {
		return 0, fmt.Errorf("%w: malformed response", ErrUnavailable)
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return 0, fmt.Errorf("%w: unexpected response shape", ErrUnavailable)
	}

	current := root.Get("c")
	if !current.Exists() || current.Type != gjson.Number || current.Float() == 0 {
		return 0, ErrSymbolNotFound
	}
	return current.Float(), nil
}

// redact keeps the API token out of logged transport errors, which embed the URL.
func redact(text, secret string) string {
	if secret == "" {
		return text
	}
	return strings.ReplaceAll(text, secret, "REDACTED")
}

func quoteLogger() *slog.Logger {
	return slog.Default().With("component", "quote.finnhub")
}
