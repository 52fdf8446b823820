package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"tickerguard/pkg/bus"
	"tickerguard/pkg/command"
	"tickerguard/pkg/moderation/classifier"
	"tickerguard/pkg/ratelimit"
)

type Outcome string

const (
	OutcomeSkippedBot Outcome = "skipped_bot"
	OutcomeDeleted    Outcome = "deleted"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeCooldown   Outcome = "cooldown"
	OutcomeReplied    Outcome = "replied"
	OutcomeFailed     Outcome = "failed"
)

const (
	ReplyCommandFailed = "⚠️ Something went wrong while running that command."

	reasonBannedWord = "banned word"
	sourceLexical    = "lexical"
	sourceClassifier = "classifier"
)

// Result is what Handle did with one message.
type Result struct {
	Outcome Outcome
	Command string
	Reason  string
	Reply   string
}

// WordFilter finds banned terms in text.
type WordFilter interface {
	Check(text string) (bool, string)
}

// Classifier judges text with an external moderation service.
type Classifier interface {
	Classify(ctx context.Context, text string) classifier.Verdict
}

// Router parses and runs commands.
type Router interface {
	Parse(prefix, text string) (command.Invocation, bool)
	CheckArgs(inv command.Invocation) (string, bool)
	Route(ctx context.Context, inv command.Invocation) (string, error)
}

// Limiter hands out per-user command cooldown slots.
type Limiter interface {
	Reserve(user, command string) (ratelimit.Reservation, bool)
}

// Outbound performs chat actions on the channel a message came from.
type Outbound interface {
	SendText(ctx context.Context, channelName, chatID, text string) error
	DeleteMessage(ctx context.Context, channelName, chatID, messageID string) error
}

// EventPublisher receives one event per handled message.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event bus.Event) bool
}

// Deps are the collaborators a Pipeline is built from. Events and Classifier
// are optional.
type Deps struct {
	Words          WordFilter
	Classifier     Classifier
	Commands       Router
	Limiter        Limiter
	Outbound       Outbound
	Events         EventPublisher
	Prefix         string
	NoticeTemplate string
	Logger         *slog.Logger
}

// Pipeline applies moderation and command dispatch to inbound messages.
type Pipeline struct {
	words      WordFilter
	classifier Classifier
	commands   Router
	limiter    Limiter
	outbound   Outbound
	events     EventPublisher
	prefix     string
	notice     *noticeTemplate
	log        *slog.Logger
}

func New(deps Deps) (*Pipeline, error) {
	if deps.Words == nil {
		return nil, errors.New("word filter is required")
	}
	if deps.Commands == nil {
		return nil, errors.New("command router is required")
	}
	if deps.Limiter == nil {
		return nil, errors.New("rate limiter is required")
	}
	if deps.Outbound == nil {
		return nil, errors.New("outbound channel is required")
	}
	if deps.Prefix == "" {
		return nil, errors.New("command prefix is required")
	}

	notice, err := newNoticeTemplate(deps.NoticeTemplate)
	if err != nil {
		return nil, err
	}

	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Pipeline{
		words:      deps.Words,
		classifier: deps.Classifier,
		commands:   deps.Commands,
		limiter:    deps.Limiter,
		outbound:   deps.Outbound,
		events:     deps.Events,
		prefix:     deps.Prefix,
		notice:     notice,
		log:        log.With("component", "pipeline"),
	}, nil
}

// Handle runs msg through the bot filter, the banned-word filter, the
// moderation classifier and the command router, in that order, and performs
// the resulting chat actions. It never panics on a handler fault.
func (p *Pipeline) Handle(ctx context.Context, msg bus.InboundMessage) Result {
	startedAt := time.Now()
	log := p.log.With("request_id", msg.RequestID, "channel", msg.Channel, "chat_id", msg.ChatID, "sender_id", msg.SenderID)

	result, source, fault := p.handle(ctx, msg, log)

	event := bus.Event{
		Type:      eventType(result.Outcome),
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		RequestID: msg.RequestID,
		Command:   result.Command,
		Duration:  time.Since(startedAt),
	}
	if result.Reason != "" || source != "" {
		event.Payload = map[string]string{"reason": result.Reason, "source": source}
	}
	if fault != nil {
		event.Error = fault.Error()
	}
	if p.events != nil {
		p.events.PublishEvent(ctx, event)
	}

	return result
}

func (p *Pipeline) handle(ctx context.Context, msg bus.InboundMessage, log *slog.Logger) (Result, string, error) {
	if msg.IsBot {
		return Result{Outcome: OutcomeSkippedBot}, "", nil
	}

	if matched, term := p.words.Check(msg.Content); matched {
		return p.remove(ctx, msg, reasonBannedWord, log.With("term", term)), sourceLexical, nil
	}

	if p.classifier != nil {
		if verdict := p.classifier.Classify(ctx, msg.Content); verdict.Flagged {
			return p.remove(ctx, msg, verdict.Reason(), log), sourceClassifier, nil
		}
	}

	inv, ok := p.commands.Parse(p.prefix, msg.Content)
	if !ok {
		return Result{Outcome: OutcomeIgnored}, "", nil
	}
	inv.Caller = command.Caller{UserID: msg.SenderID, Mention: msg.Mention()}
	inv.Channel = msg.Channel
	inv.ChatID = msg.ChatID
	log = log.With("command", inv.Name)

	if usage, ok := p.commands.CheckArgs(inv); !ok {
		p.reply(ctx, msg, usage, log)
		return Result{Outcome: OutcomeReplied, Command: inv.Name, Reply: usage}, "", nil
	}

	reservation, ok := p.limiter.Reserve(msg.SenderID, inv.Name)
	if !ok {
		reply := cooldownReply(msg.Mention(), p.prefix+inv.Name, reservation.Wait)
		log.Debug("Command on cooldown", "wait", reservation.Wait)
		p.reply(ctx, msg, reply, log)
		return Result{Outcome: OutcomeCooldown, Command: inv.Name, Reply: reply}, "", nil
	}

	reply, err := p.execute(ctx, inv)
	if err != nil {
		reservation.Cancel()
		var panicErr *handlerPanic
		if errors.As(err, &panicErr) {
			log.Error("Command handler panicked", "error", panicErr.value, "stack", string(panicErr.stack))
		} else {
			log.Error("Command handler failed", "error", err)
		}
		p.reply(ctx, msg, ReplyCommandFailed, log)
		return Result{Outcome: OutcomeFailed, Command: inv.Name, Reply: ReplyCommandFailed}, "", err
	}

	log.Info("Command replied", "reply", previewText(reply))
	p.reply(ctx, msg, reply, log)
	return Result{Outcome: OutcomeReplied, Command: inv.Name, Reply: reply}, "", nil
}

// remove deletes msg and posts the removal notice. A failed delete is logged
// and the notice is still sent.
func (p *Pipeline) remove(ctx context.Context, msg bus.InboundMessage, reason string, log *slog.Logger) Result {
	log.Info("Removing message", "reason", reason, "content", previewText(msg.Content))

	if err := p.outbound.DeleteMessage(ctx, msg.Channel, msg.ChatID, msg.MessageID); err != nil {
		log.Error("Failed to delete message", "message_id", msg.MessageID, "error", err)
	}

	notice, err := p.notice.render(msg.Mention(), reason)
	if err != nil {
		log.Error("Failed to render removal notice", "error", err)
		notice = fmt.Sprintf("%s, your message was removed due to inappropriate content.", msg.Mention())
	}
	p.reply(ctx, msg, notice, log)

	return Result{Outcome: OutcomeDeleted, Reason: reason, Reply: notice}
}

type handlerPanic struct {
	value any
	stack []byte
}

func (e *handlerPanic) Error() string {
	return fmt.Sprintf("command handler panic: %v", e.value)
}

func (p *Pipeline) execute(ctx context.Context, inv command.Invocation) (reply string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &handlerPanic{value: recovered, stack: debug.Stack()}
		}
	}()

	return p.commands.Route(ctx, inv)
}

func (p *Pipeline) reply(ctx context.Context, msg bus.InboundMessage, text string, log *slog.Logger) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if err := p.outbound.SendText(ctx, msg.Channel, msg.ChatID, text); err != nil {
		log.Error("Failed to send reply", "error", err)
	}
}

func cooldownReply(mention, commandText string, wait time.Duration) string {
	seconds := ratelimit.WaitSeconds(wait)
	unit := "seconds"
	if seconds == 1 {
		unit = "second"
	}
	return fmt.Sprintf("⏳ %s, please wait %d %s before using %s again.", mention, seconds, unit, commandText)
}

func eventType(outcome Outcome) bus.EventType {
	switch outcome {
	case OutcomeSkippedBot:
		return bus.EventMessageSkipped
	case OutcomeDeleted:
		return bus.EventMessageDeleted
	case OutcomeCooldown:
		return bus.EventCommandLimited
	case OutcomeReplied:
		return bus.EventCommandReplied
	case OutcomeFailed:
		return bus.EventCommandFailed
	default:
		return bus.EventMessageIgnored
	}
}

const messagePreviewLimit = 240

func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	cut := messagePreviewLimit
	for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
		cut--
	}
	return trimmed[:cut] + "..."
}
