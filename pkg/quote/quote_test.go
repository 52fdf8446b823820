package quote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"tickerguard/pkg/config"
)

type recordedRequest struct {
	path   string
	symbol string
	token  string
}

func newQuoteServer(t *testing.T, status int, body string) (*Client, func() []recordedRequest) {
	t.Helper()

	var mu sync.Mutex
	var requests []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, recordedRequest{
			path:   r.URL.Path,
			symbol: r.URL.Query().Get("symbol"),
			token:  r.URL.Query().Get("token"),
		})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	client, err := New(config.FinnhubProviderConfig{APIKey: "fh-test", BaseURL: srv.URL + "/api/v1", RequestTimeoutSeconds: 2})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	return client, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), requests...)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(config.FinnhubProviderConfig{})
	if !errors.Is(err, config.ErrMissingCredential) {
		t.Fatalf("error = %v, want ErrMissingCredential", err)
	}
}

func TestStockSuccess(t *testing.T) {
	client, requests := newQuoteServer(t, http.StatusOK, `{"c":150.25,"d":1.2,"dp":0.8,"h":151,"l":149,"o":150,"pc":149.05}`)

	q, err := client.Stock(context.Background(), " aapl ")
	if err != nil {
		t.Fatalf("Stock error: %v", err)
	}
	if q.Symbol != "AAPL" || q.Price != 150.25 {
		t.Fatalf("quote = %+v, want AAPL 150.25", q)
	}

	got := requests()
	if len(got) != 1 {
		t.Fatalf("requests = %d, want 1", len(got))
	}
	if got[0].path != "/api/v1/quote" || got[0].symbol != "AAPL" || got[0].token != "fh-test" {
		t.Fatalf("request = %+v", got[0])
	}
}

func TestStockNotFound(t *testing.T) {
	for name, body := range map[string]string{
		"empty object": `{}`,
		"zero price":   `{"c":0,"d":null,"dp":null}`,
		"null price":   `{"c":null}`,
	} {
		t.Run(name, func(t *testing.T) {
			client, _ := newQuoteServer(t, http.StatusOK, body)
			if _, err := client.Stock(context.Background(), "ZZZZ"); !errors.Is(err, ErrSymbolNotFound) {
				t.Fatalf("error = %v, want ErrSymbolNotFound", err)
			}
		})
	}
}

func TestStockUnavailable(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"boom"}`},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":"slow down"}`},
		{name: "malformed json", status: http.StatusOK, body: `{"c":`},
		{name: "not an object", status: http.StatusOK, body: `[1,2]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, requests := newQuoteServer(t, tc.status, tc.body)
			_, err := client.Stock(context.Background(), "AAPL")
			if !errors.Is(err, ErrUnavailable) {
				t.Fatalf("error = %v, want ErrUnavailable", err)
			}
			if n := len(requests()); n != 1 {
				t.Fatalf("requests = %d, want 1 (no retries)", n)
			}
		})
	}
}

func TestStockUnavailableOnTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	client, err := New(config.FinnhubProviderConfig{APIKey: "fh-test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	client.httpClient.Timeout = 50 * time.Millisecond

	if _, err := client.Stock(context.Background(), "AAPL"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
}

func TestStockUnavailableOnConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	client, err := New(config.FinnhubProviderConfig{APIKey: "fh-test", BaseURL: baseURL})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if _, err := client.Stock(context.Background(), "AAPL"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
}

func TestCryptoUsesExchangePair(t *testing.T) {
	client, requests := newQuoteServer(t, http.StatusOK, `{"c":67000.5}`)

	q, err := client.Crypto(context.Background(), "btc", "usd")
	if err != nil {
		t.Fatalf("Crypto error: %v", err)
	}
	if q.Symbol != "BTC" || q.Price != 67000.5 {
		t.Fatalf("quote = %+v", q)
	}
	if got := requests()[0].symbol; got != "BINANCE:BTCUSDT" {
		t.Fatalf("symbol = %q, want %q", got, "BINANCE:BTCUSDT")
	}
}

func TestPair(t *testing.T) {
	client, err := New(config.FinnhubProviderConfig{APIKey: "k", CryptoExchange: "kraken"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	cases := []struct {
		base, quote, want string
	}{
		{"btc", "", "KRAKEN:BTCUSDT"},
		{"eth", "usd", "KRAKEN:ETHUSDT"},
		{"eth", "eur", "KRAKEN:ETHEUR"},
		{"sol", "btc", "KRAKEN:SOLBTC"},
	}
	for _, tc := range cases {
		if got := client.Pair(tc.base, tc.quote); got != tc.want {
			t.Fatalf("Pair(%q, %q) = %q, want %q", tc.base, tc.quote, got, tc.want)
		}
	}
}

func TestRedact(t *testing.T) {
	if got := redact("GET /quote?token=abc123 failed", "abc123"); got != "GET /quote?token=REDACTED failed" {
		t.Fatalf("redact = %q", got)
	}
}
