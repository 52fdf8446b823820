package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"tickerguard/pkg/quote"
)

const (
	DefaultPriceCooldown = 10 * time.Second

	ReplyPriceUnavailable = "⚠️ Price service is unavailable right now, please try again later."
)

// PriceSource looks up current prices.
type PriceSource interface {
	Stock(ctx context.Context, symbol string) (quote.Quote, error)
	Crypto(ctx context.Context, base, quoteCurrency string) (quote.Quote, error)
}

// Stock replies with the current price of a stock ticker.
type Stock struct {
	prices PriceSource
}

func NewStock(prices PriceSource) *Stock {
	return &Stock{prices: prices}
}

func (s *Stock) Spec() Spec {
	return Spec{
		Name:     "stock",
		Usage:    "stock <symbol>",
		Summary:  "Show the current price of a stock.",
		MinArgs:  1,
		MaxArgs:  1,
		Cooldown: DefaultPriceCooldown,
	}
}

func (s *Stock) Execute(ctx context.Context, inv Invocation) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(inv.Args[0]))

	q, err := s.prices.Stock(ctx, symbol)
	switch {
	case errors.Is(err, quote.ErrSymbolNotFound):
		return fmt.Sprintf("❌ Invalid stock symbol: %s.", symbol), nil
	case errors.Is(err, quote.ErrUnavailable):
		priceLogger().Warn("stock lookup unavailable", "symbol", symbol, "error", err)
		return ReplyPriceUnavailable, nil
	case err != nil:
		return "", fmt.Errorf("stock lookup %s: %w", symbol, err)
	}

	return fmt.Sprintf("📈 %s price: $%s", q.Symbol, formatPrice(q.Price)), nil
}

// Crypto replies with the current price of a crypto asset.
type Crypto struct {
	prices PriceSource
}

func NewCrypto(prices PriceSource) *Crypto {
	return &Crypto{prices: prices}
}

func (c *Crypto) Spec() Spec {
	return Spec{
		Name:     "crypto",
		Usage:    "crypto <symbol> [quote_currency=usd]",
		Summary:  "Show the current price of a crypto asset.",
		MinArgs:  1,
		MaxArgs:  2,
		Cooldown: DefaultPriceCooldown,
	}
}

func (c *Crypto) Execute(ctx context.Context, inv Invocation) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(inv.Args[0]))
	quoteCurrency := "USD"
	if len(inv.Args) > 1 {
		quoteCurrency = strings.ToUpper(strings.TrimSpace(inv.Args[1]))
	}

	q, err := c.prices.Crypto(ctx, symbol, quoteCurrency)
	switch {
	case errors.Is(err, quote.ErrSymbolNotFound):
		return fmt.Sprintf("❌ Invalid crypto symbol: %s.", symbol), nil
	case errors.Is(err, quote.ErrUnavailable):
		priceLogger().Warn("crypto lookup unavailable", "symbol", symbol, "quote_currency", quoteCurrency, "error", err)
		return ReplyPriceUnavailable, nil
	case err != nil:
		return "", fmt.Errorf("crypto lookup %s: %w", symbol, err)
	}

	if quoteCurrency == "USD" || quoteCurrency == "USDT" {
		return fmt.Sprintf("💰 %s price: $%s", q.Symbol, formatPrice(q.Price)), nil
	}
	return fmt.Sprintf("💰 %s price: %s %s", q.Symbol, formatPrice(q.Price), quoteCurrency), nil
}

func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', -1, 64)
}

func priceLogger() *slog.Logger {
	return slog.Default().With("component", "command.price")
}
