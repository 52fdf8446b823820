package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"tickerguard/pkg/bus"
	"tickerguard/pkg/channel"
	"tickerguard/pkg/command"
	"tickerguard/pkg/config"
	"tickerguard/pkg/moderation/classifier"
	"tickerguard/pkg/moderation/lexical"
	"tickerguard/pkg/pipeline"
	"tickerguard/pkg/quote"
	"tickerguard/pkg/ratelimit"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"
)

type recordedAction struct {
	kind   string
	chatID string
	value  string
}

type scriptedAdapter struct {
	name    string
	inbound []bus.InboundMessage

	// stopAfterScript makes Run return once the script is delivered, the way
	// the console returns when the user quits.
	stopAfterScript bool

	mu      sync.Mutex
	actions []recordedAction
	done    chan struct{}
}

func newScriptedAdapter(name string, inbound ...bus.InboundMessage) *scriptedAdapter {
	return &scriptedAdapter{name: name, inbound: inbound, done: make(chan struct{})}
}

func (a *scriptedAdapter) Name() string {
	return a.name
}

func (a *scriptedAdapter) Run(ctx context.Context, handler channel.Handler) error {
	for _, inbound := range a.inbound {
		if err := handler(ctx, inbound); err != nil {
			return err
		}
	}

	close(a.done)
	if a.stopAfterScript {
		return nil
	}

	<-ctx.Done()
	return nil
}

func (a *scriptedAdapter) SendText(_ context.Context, chatID, text string) error {
	a.record(recordedAction{kind: "send", chatID: chatID, value: text})
	return nil
}

func (a *scriptedAdapter) DeleteMessage(_ context.Context, chatID, messageID string) error {
	a.record(recordedAction{kind: "delete", chatID: chatID, value: messageID})
	return nil
}

func (a *scriptedAdapter) record(action recordedAction) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

func (a *scriptedAdapter) snapshot() []recordedAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]recordedAction(nil), a.actions...)
}

type staticPrices struct{}

func (staticPrices) Stock(_ context.Context, symbol string) (quote.Quote, error) {
	if symbol == "AAPL" {
		return quote.Quote{Symbol: symbol, Price: 150.25}, nil
	}
	return quote.Quote{}, quote.ErrSymbolNotFound
}

func (staticPrices) Crypto(_ context.Context, base, _ string) (quote.Quote, error) {
	return quote.Quote{}, fmt.Errorf("%w: %s", quote.ErrSymbolNotFound, base)
}

func newTestPipeline(t *testing.T, mb *bus.MessageBus, adapters ...channel.Adapter) *pipeline.Pipeline {
	t.Helper()

	registry, err := command.DefaultRegistry(staticPrices{})
	require.NoError(t, err)

	p, err := pipeline.New(pipeline.Deps{
		Words:      lexical.NewFilter([]string{"toxicword1"}),
		Classifier: classifier.Disabled(),
		Commands:   registry,
		Limiter:    ratelimit.New(registry.Cooldowns(nil)),
		Outbound:   channel.NewOutbox(adapters...),
		Events:     mb,
		Prefix:     "!",
	})
	require.NoError(t, err)
	return p
}

func TestGatewayServiceRunE2EPipelineActions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter := newScriptedAdapter("telegram",
		bus.InboundMessage{Channel: "telegram", MessageID: "1", ChatID: "100", SenderID: "7", SenderName: "@alice", Content: "good morning"},
		bus.InboundMessage{Channel: "telegram", MessageID: "2", ChatID: "100", SenderID: "7", SenderName: "@alice", Content: "you are a toxicword1"},
		bus.InboundMessage{Channel: "telegram", MessageID: "3", ChatID: "100", SenderID: "8", SenderName: "@bob", Content: "!stock AAPL"},
		bus.InboundMessage{Channel: "telegram", MessageID: "4", ChatID: "100", SenderID: "9", IsBot: true, Content: "toxicword1 !stock AAPL"},
	)

	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	cfg := &config.Config{Gateway: config.GatewayConfig{Workers: 2}}
	svc, err := NewService(cfg, newTestPipeline(t, mb, adapter), mb, []channel.Adapter{adapter}, nil, WithoutHTTP())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	select {
	case <-adapter.done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for adapter scripted messages")
	}

	require.Eventually(t, func() bool {
		return len(adapter.snapshot()) == 3
	}, 3*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}

	actions := adapter.snapshot()
	require.Contains(t, actions, recordedAction{kind: "delete", chatID: "100", value: "2"})
	require.Contains(t, actions, recordedAction{
		kind:   "send",
		chatID: "100",
		value:  "@alice, your message was removed due to inappropriate content (banned word).",
	})
	require.Contains(t, actions, recordedAction{kind: "send", chatID: "100", value: "📈 AAPL price: $150.25"})
}

func TestGatewayServiceStopsWhenChannelReturns(t *testing.T) {
	adapter := newScriptedAdapter("console")
	adapter.stopAfterScript = true

	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	svc, err := NewService(&config.Config{}, nopHandler{}, mb, []channel.Adapter{adapter}, nil, WithoutHTTP())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(context.Background())
	}()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("service did not stop after its only channel returned")
	}
}

type failingAdapter struct {
	*scriptedAdapter
}

func (failingAdapter) Run(context.Context, channel.Handler) error {
	return fmt.Errorf("long polling rejected")
}

func TestGatewayServiceReturnsChannelError(t *testing.T) {
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	adapter := failingAdapter{newScriptedAdapter("telegram")}
	svc, err := NewService(&config.Config{}, nopHandler{}, mb, []channel.Adapter{adapter}, nil, WithoutHTTP())
	require.NoError(t, err)

	err = svc.Run(context.Background())
	require.ErrorContains(t, err, "run telegram channel")
	require.ErrorContains(t, err, "long polling rejected")
}

func TestGatewayServiceReadyzAndWebhookRoutes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := freeTCPPort(t)
	cfg := &config.Config{Gateway: config.GatewayConfig{Host: "127.0.0.1", Port: port}}

	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	adapter := newScriptedAdapter("telegram")
	svc, err := NewService(cfg, nopHandler{}, mb, []channel.Adapter{adapter}, nil, WithRoutes(pingRoutes{}))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	readyURL := fmt.Sprintf("http://127.0.0.1:%d/readyz", port)
	require.Equal(t, http.StatusOK, waitHTTPStatus(t, readyURL, 2*time.Second))

	pingURL := fmt.Sprintf("http://127.0.0.1:%d/ping", port)
	response, err := http.Post(pingURL, "application/json", nil)
	require.NoError(t, err)
	require.NoError(t, response.Body.Close())
	require.Equal(t, http.StatusNoContent, response.StatusCode)
	require.NotEmpty(t, response.Header.Get("X-Request-Seen"))

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}
}

type pingRoutes struct{}

func (pingRoutes) RegisterRoutes(r chi.Router) {
	r.Post("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Seen", middleware.GetReqID(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	})
}

func waitHTTPStatus(t *testing.T, url string, timeout time.Duration) int {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		response, err := http.Get(url)
		if err == nil {
			statusCode := response.StatusCode
			require.NoError(t, response.Body.Close())
			if statusCode == http.StatusOK || time.Now().After(deadline) {
				return statusCode
			}
		} else if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: %v", url, err)
		}

		time.Sleep(25 * time.Millisecond)
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}
