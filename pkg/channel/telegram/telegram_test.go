package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/require"

	"tickerguard/pkg/config"
)

var testToken = "123456:" + strings.Repeat("A", 35)

type apiCall struct {
	method string
	body   map[string]any
}

type fakeTelegramAPI struct {
	mu    sync.Mutex
	calls []apiCall
}

func (f *fakeTelegramAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	raw, _ := io.ReadAll(r.Body)
	body := map[string]any{}
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{method: method, body: body})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "sendMessage":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":10,"date":0,"chat":{"id":-100,"type":"supergroup"}}}`))
	case "deleteMessage":
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	default:
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func (f *fakeTelegramAPI) snapshot() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

func newTestAdapter(t *testing.T, cfg config.TelegramConfig) (*Adapter, *fakeTelegramAPI) {
	t.Helper()
	api := &fakeTelegramAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	if cfg.Token == "" {
		cfg.Token = testToken
	}
	adapter, err := NewAdapter(cfg, nil, telego.WithAPIServer(srv.URL))
	require.NoError(t, err)
	return adapter, api
}

func TestNewAdapterRequiresToken(t *testing.T) {
	_, err := NewAdapter(config.TelegramConfig{}, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, config.ErrMissingCredential))
}

func TestSendTextCallsSendMessage(t *testing.T) {
	adapter, api := newTestAdapter(t, config.TelegramConfig{})

	require.NoError(t, adapter.SendText(context.Background(), "-100", "📈 AAPL price: $150.25"))

	calls := api.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, "sendMessage", calls[0].method)
	require.EqualValues(t, -100, calls[0].body["chat_id"])
	require.Equal(t, "📈 AAPL price: $150.25", calls[0].body["text"])
}

func TestDeleteMessageCallsDeleteMessage(t *testing.T) {
	adapter, api := newTestAdapter(t, config.TelegramConfig{})

	require.NoError(t, adapter.DeleteMessage(context.Background(), "-100", "77"))

	calls := api.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, "deleteMessage", calls[0].method)
	require.EqualValues(t, 77, calls[0].body["message_id"])
}

func TestSendTextRejectsInvalidChatID(t *testing.T) {
	adapter, api := newTestAdapter(t, config.TelegramConfig{})

	require.Error(t, adapter.SendText(context.Background(), "not-a-chat", "hi"))
	require.Error(t, adapter.DeleteMessage(context.Background(), "-100", "x"))
	require.Empty(t, api.snapshot())
}

func TestInboundFromMessage(t *testing.T) {
	adapter, _ := newTestAdapter(t, config.TelegramConfig{})

	inbound, ok := adapter.inboundFromMessage(&telego.Message{
		MessageID: 77,
		Chat:      telego.Chat{ID: -100},
		From:      &telego.User{ID: 5, Username: "alice"},
		Text:      "!stock AAPL",
	})
	require.True(t, ok)
	require.Equal(t, "telegram", inbound.Channel)
	require.Equal(t, "77", inbound.MessageID)
	require.Equal(t, "-100", inbound.ChatID)
	require.Equal(t, "5", inbound.SenderID)
	require.Equal(t, "@alice", inbound.SenderName)
	require.False(t, inbound.IsBot)
	require.Equal(t, "!stock AAPL", inbound.Content)
}

func TestInboundFromMessageUsesCaptionAndBotFlag(t *testing.T) {
	adapter, _ := newTestAdapter(t, config.TelegramConfig{})

	inbound, ok := adapter.inboundFromMessage(&telego.Message{
		MessageID: 1,
		Chat:      telego.Chat{ID: 9},
		From:      &telego.User{ID: 6, IsBot: true, FirstName: "Relay"},
		Caption:   "photo caption",
	})
	require.True(t, ok)
	require.True(t, inbound.IsBot)
	require.Equal(t, "Relay", inbound.SenderName)
	require.Equal(t, "photo caption", inbound.Content)
}

func TestInboundFromMessageSkips(t *testing.T) {
	adapter, _ := newTestAdapter(t, config.TelegramConfig{AllowChats: []string{"-100"}})

	cases := map[string]*telego.Message{
		"nil":          nil,
		"empty text":   {Chat: telego.Chat{ID: -100}, From: &telego.User{ID: 1}},
		"no sender":    {Chat: telego.Chat{ID: -100}, Text: "hi"},
		"other chat":   {Chat: telego.Chat{ID: -200}, From: &telego.User{ID: 1}, Text: "hi"},
		"only spacing": {Chat: telego.Chat{ID: -100}, From: &telego.User{ID: 1}, Text: "   "},
	}
	for name, msg := range cases {
		_, ok := adapter.inboundFromMessage(msg)
		require.False(t, ok, name)
	}
}

func TestAllowChatSet(t *testing.T) {
	allowed := allowChatSet([]string{" -100 ", "", "456", "-100"})
	if len(allowed) != 2 {
		t.Fatalf("allowChatSet len = %d, want 2", len(allowed))
	}
	if _, ok := allowed["-100"]; !ok {
		t.Fatal("allowChatSet missing -100")
	}
	if allowChatSet([]string{" ", ""}) != nil {
		t.Fatal("expected nil set for blank entries")
	}
}

func TestChatAllowed(t *testing.T) {
	adapter := &Adapter{allowChats: map[string]struct{}{"1": {}}}
	if !adapter.chatAllowed("1") {
		t.Fatal("expected chat 1 to be allowed")
	}
	if adapter.chatAllowed("2") {
		t.Fatal("expected chat 2 to be denied")
	}

	adapter.allowChats = nil
	if !adapter.chatAllowed("any") {
		t.Fatal("expected chat to be allowed when allowlist empty")
	}
}

func TestMention(t *testing.T) {
	cases := []struct {
		user telego.User
		want string
	}{
		{telego.User{ID: 1, Username: "bob"}, "@bob"},
		{telego.User{ID: 2, FirstName: "Ann", LastName: "Lee"}, "Ann Lee"},
		{telego.User{ID: 3}, "3"},
	}
	for _, tc := range cases {
		if got := mention(&tc.user); got != tc.want {
			t.Fatalf("mention = %q, want %q", got, tc.want)
		}
	}
}

func TestPreviewText(t *testing.T) {
	short := " hello "
	if got := previewText(short); got != "hello" {
		t.Fatalf("previewText short = %q, want %q", got, "hello")
	}

	long := strings.Repeat("a", messagePreviewLimit+20)
	got := previewText(long)
	if len(got) != messagePreviewLimit+3 {
		t.Fatalf("previewText long len = %d, want %d", len(got), messagePreviewLimit+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("previewText long = %q, want ellipsis suffix", got)
	}
	multibyte := "a" + strings.Repeat("ж", messagePreviewLimit)
	got = previewText(multibyte)
	if !utf8.ValidString(got) {
		t.Fatalf("previewText multibyte = %q, want valid UTF-8", got)
	}
	if len(got) > messagePreviewLimit+3 {
		t.Fatalf("previewText multibyte len = %d, want at most %d", len(got), messagePreviewLimit+3)
	}
}
