package gateway

import (
	"context"
	"log/slog"

	"tickerguard/pkg/bus"
	"tickerguard/pkg/metrics"
)

// observeEvents logs and counts events until the subscription closes.
func observeEvents(log *slog.Logger, events <-chan bus.Event) {
	for event := range events {
		metrics.ObserveEvent(event)
		logEvent(log, event)
	}
}

func logEvent(log *slog.Logger, event bus.Event) {
	attrs := []slog.Attr{
		slog.String("event", string(event.Type)),
		slog.String("request_id", event.RequestID),
		slog.String("channel", event.Channel),
		slog.String("chat_id", event.ChatID),
	}
	if event.SenderID != "" {
		attrs = append(attrs, slog.String("sender_id", event.SenderID))
	}
	if event.Command != "" {
		attrs = append(attrs, slog.String("command", event.Command))
	}
	if event.Duration > 0 {
		attrs = append(attrs, slog.Int64("duration_ms", event.Duration.Milliseconds()))
	}
	for _, key := range []string{"reason", "source", "repository"} {
		if value := event.Payload[key]; value != "" {
			attrs = append(attrs, slog.String(key, value))
		}
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}

	log.LogAttrs(context.Background(), eventLevel(event.Type), eventMessage(event.Type), attrs...)
}

func eventLevel(eventType bus.EventType) slog.Level {
	switch eventType {
	case bus.EventCommandFailed, bus.EventWebhookFailed:
		return slog.LevelWarn
	case bus.EventMessageSkipped, bus.EventMessageIgnored:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func eventMessage(eventType bus.EventType) string {
	switch eventType {
	case bus.EventMessageSkipped:
		return "Skipped bot message"
	case bus.EventMessageDeleted:
		return "Removed message"
	case bus.EventMessageIgnored:
		return "Ignored message"
	case bus.EventCommandReplied:
		return "Command replied"
	case bus.EventCommandLimited:
		return "Command on cooldown"
	case bus.EventCommandFailed:
		return "Command failed"
	case bus.EventWebhookRelayed:
		return "Webhook relayed"
	case bus.EventWebhookFailed:
		return "Webhook failed"
	default:
		return "Event"
	}
}
