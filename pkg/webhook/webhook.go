package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/flosch/pongo2/v6"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tidwall/gjson"

	"tickerguard/pkg/bus"
	"tickerguard/pkg/config"
)

const (
	headerEvent     = "X-GitHub-Event"
	headerSignature = "X-Hub-Signature-256"
	maxBodyBytes    = 1 << 20
)

// DefaultTemplate renders a push event for chat.
const DefaultTemplate = `🔨 {{ pusher }} pushed to {{ repository }}{% if branch %} ({{ branch }}){% endif %}
{{ message }}
{{ url }}`

// ErrUnsupportedEvent marks deliveries that are acknowledged but not relayed.
var ErrUnsupportedEvent = errors.New("unsupported event")

// Sender posts text to a chat on a named channel.
type Sender interface {
	SendText(ctx context.Context, channelName, chatID, text string) error
}

// EventPublisher receives one event per relayed or failed delivery.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event bus.Event) bool
}

// Handler relays VCS push webhooks into a chat.
type Handler struct {
	sender  Sender
	events  EventPublisher
	channel string
	chatID  string
	path    string
	secret  []byte
	tpl     *pongo2.Template
	log     *slog.Logger
}

func New(cfg config.WebhookConfig, sender Sender, events EventPublisher, log *slog.Logger) (*Handler, error) {
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		return nil, errors.New("webhook.chat_id is required")
	}

	source := cfg.Template
	if strings.TrimSpace(source) == "" {
		source = DefaultTemplate
	}
	tpl, err := pongo2.FromString(source)
	if err != nil {
		return nil, fmt.Errorf("parse webhook template: %w", err)
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = config.DefaultWebhookPath
	}

	if log == nil {
		log = slog.Default()
	}

	return &Handler{
		sender:  sender,
		events:  events,
		channel: strings.TrimSpace(cfg.Channel),
		chatID:  strings.TrimSpace(cfg.ChatID),
		path:    path,
		secret:  []byte(cfg.Secret),
		tpl:     tpl,
		log:     log.With("component", "webhook"),
	}, nil
}

// RegisterRoutes mounts the webhook endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post(h.path, h.handlePush)
}

// Relay validates one delivery and sends it to the configured chat.
// ErrUnsupportedEvent is returned for deliveries that are not pushes.
func (h *Handler) Relay(ctx context.Context, eventName string, body []byte) (Push, error) {
	eventName = strings.ToLower(strings.TrimSpace(eventName))
	if eventName != "" && eventName != "push" {
		return Push{}, ErrUnsupportedEvent
	}
	if eventName == "" {
		if !gjson.ValidBytes(body) {
			return Push{}, NewError(ErrorInvalidPayload, "body is not valid JSON")
		}
		if !looksLikePush(body) {
			return Push{}, ErrUnsupportedEvent
		}
	}

	push, err := ParsePush(body)
	if err != nil {
		return Push{}, err
	}

	text, err := h.render(push)
	if err != nil {
		return Push{}, NewError(ErrorRelayFailed, err.Error())
	}

	if err := h.sender.SendText(ctx, h.channel, h.chatID, text); err != nil {
		return Push{}, NewError(ErrorRelayFailed, err.Error())
	}
	return push, nil
}

func (h *Handler) handlePush(w http.ResponseWriter, r *http.Request) {
	log := h.log.With("request_id", middleware.GetReqID(r.Context()))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, r, log, NewError(ErrorInvalidPayload, "could not read body"))
		return
	}

	if err := h.verifySignature(r.Header.Get(headerSignature), body); err != nil {
		h.fail(w, r, log, err)
		return
	}

	push, err := h.Relay(r.Context(), r.Header.Get(headerEvent), body)
	if errors.Is(err, ErrUnsupportedEvent) {
		log.Debug("Ignoring unsupported webhook event", "event", r.Header.Get(headerEvent))
		respondJSON(w, http.StatusOK, map[string]string{"status": "unsupported event"})
		return
	}
	if err != nil {
		h.fail(w, r, log, err)
		return
	}

	log.Info("Relayed push event", "repository", push.Repository, "pusher", push.Pusher, "commits", push.Commits)
	h.publish(r.Context(), bus.Event{
		Type:    bus.EventWebhookRelayed,
		Channel: h.channel,
		ChatID:  h.chatID,
		Payload: map[string]string{"repository": push.Repository, "pusher": push.Pusher},
	})
	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status := StatusFromError(err)
	if status >= http.StatusInternalServerError {
		log.Error("Webhook relay failed", "category", CategoryFromError(err), "error", err)
	} else {
		log.Warn("Rejected webhook", "category", CategoryFromError(err), "error", err)
	}

	h.publish(r.Context(), bus.Event{
		Type:    bus.EventWebhookFailed,
		Channel: h.channel,
		ChatID:  h.chatID,
		Error:   err.Error(),
	})
	respondJSON(w, status, map[string]string{
		"status":  "error",
		"message": "error processing webhook: " + detailFromError(err),
	})
}

// verifySignature checks the sha256 HMAC of body when a secret is configured.
func (h *Handler) verifySignature(header string, body []byte) error {
	if len(h.secret) == 0 {
		return nil
	}

	hexDigest, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok {
		return NewError(ErrorInvalidSignature, "missing signature")
	}
	got, err := hex.DecodeString(hexDigest)
	if err != nil {
		return NewError(ErrorInvalidSignature, "malformed signature")
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return NewError(ErrorInvalidSignature, "signature mismatch")
	}
	return nil
}

func (h *Handler) render(push Push) (string, error) {
	out, err := h.tpl.Execute(pongo2.Context{
		"pusher":     pongo2.AsSafeValue(push.Pusher),
		"repository": pongo2.AsSafeValue(push.Repository),
		"message":    pongo2.AsSafeValue(push.Message),
		"url":        pongo2.AsSafeValue(push.URL),
		"branch":     pongo2.AsSafeValue(push.Branch),
		"commits":    push.Commits,
	})
	if err != nil {
		return "", fmt.Errorf("render webhook template: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (h *Handler) publish(ctx context.Context, event bus.Event) {
	if h.events == nil {
		return
	}
	event.RequestID = middleware.GetReqID(ctx)
	h.events.PublishEvent(ctx, event)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
