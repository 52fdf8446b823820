package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"tickerguard/pkg/bus"
	"tickerguard/pkg/channel"
	"tickerguard/pkg/config"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const channelName = "telegram"
const messagePreviewLimit = 240

// Adapter bridges Telegram group chats into the moderation pipeline.
type Adapter struct {
	bot        *telego.Bot
	allowChats map[string]struct{}
	log        *slog.Logger
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger, opts ...telego.BotOption) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("%w: channels.telegram.token is required", config.ErrMissingCredential)
	}

	if log == nil {
		log = slog.Default()
	}

	bot, err := telego.NewBot(token, append([]telego.BotOption{telego.WithDiscardLogger()}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	return &Adapter{
		bot:        bot,
		allowChats: allowChatSet(cfg.AllowChats),
		log:        log.With("component", "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in bus messages and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and forwards text messages to handler.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	me, err := a.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("identify telegram bot: %w", err)
	}

	updates, err := a.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started", "bot", "@"+me.Username, "bot_id", me.ID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			inbound, ok := a.inboundFromMessage(update.Message)
			if !ok {
				continue
			}
			a.log.Debug("Received message",
				"chat_id", inbound.ChatID,
				"sender_id", inbound.SenderID,
				"message_id", inbound.MessageID,
				"content", previewText(inbound.Content),
			)

			if err := handler(ctx, inbound); err != nil {
				a.log.Error("Failed to enqueue inbound message", "chat_id", inbound.ChatID, "error", err)
			}
		}
	}
}

// SendText posts text to a chat.
func (a *Adapter) SendText(ctx context.Context, chatID, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}

	a.log.Info("Sending message", "chat_id", chatID, "content", previewText(text))
	if _, err := a.bot.SendMessage(ctx, tu.Message(tu.ID(id), text)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// DeleteMessage removes a message from a chat. The bot needs the delete
// messages admin right in groups.
func (a *Adapter) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(strings.TrimSpace(messageID))
	if err != nil {
		return fmt.Errorf("invalid telegram message id %q: %w", messageID, err)
	}

	if err := a.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{ChatID: tu.ID(id), MessageID: msgID}); err != nil {
		return fmt.Errorf("delete telegram message: %w", err)
	}
	return nil
}

// inboundFromMessage converts a Telegram message into a bus message. Service
// messages, media without captions and chats outside allow_chats are skipped.
func (a *Adapter) inboundFromMessage(message *telego.Message) (bus.InboundMessage, bool) {
	if message == nil {
		return bus.InboundMessage{}, false
	}

	content := message.Text
	if content == "" {
		content = message.Caption
	}
	if strings.TrimSpace(content) == "" {
		return bus.InboundMessage{}, false
	}
	if message.From == nil {
		a.log.Debug("Ignoring message without sender")
		return bus.InboundMessage{}, false
	}

	chatID := strconv.FormatInt(message.Chat.ID, 10)
	if !a.chatAllowed(chatID) {
		a.log.Debug("Ignoring message from chat outside allow list", "chat_id", chatID)
		return bus.InboundMessage{}, false
	}

	return bus.InboundMessage{
		Channel:    channelName,
		MessageID:  strconv.Itoa(message.MessageID),
		ChatID:     chatID,
		SenderID:   strconv.FormatInt(message.From.ID, 10),
		SenderName: mention(message.From),
		IsBot:      message.From.IsBot,
		Content:    content,
	}, true
}

// chatAllowed checks whether a chat is permitted by allow_chats config.
//
// When no allow list is configured, all chats are accepted.
func (a *Adapter) chatAllowed(chatID string) bool {
	if len(a.allowChats) == 0 {
		return true
	}

	_, ok := a.allowChats[strings.TrimSpace(chatID)]
	return ok
}

func mention(user *telego.User) string {
	if username := strings.TrimSpace(user.Username); username != "" {
		return "@" + username
	}
	name := strings.TrimSpace(strings.TrimSpace(user.FirstName) + " " + strings.TrimSpace(user.LastName))
	if name != "" {
		return name
	}
	return strconv.FormatInt(user.ID, 10)
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	return id, nil
}

// allowChatSet normalizes allow_chats values into a lookup set.
func allowChatSet(allowChats []string) map[string]struct{} {
	if len(allowChats) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowChats))
	for _, value := range allowChats {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	// Back up to a rune boundary so the preview stays valid UTF-8.
	cut := messagePreviewLimit
	for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
		cut--
	}
	return trimmed[:cut] + "..."
}
