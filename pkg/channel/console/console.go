package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"

	"tickerguard/pkg/channel"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	channelName = "console"

	// ChatID, SenderID and SenderName identify the single local conversation.
	ChatID     = "local"
	SenderID   = "local-user"
	SenderName = "@you"

	outboundBuffer = 64
)

// Adapter runs the pipeline against a local terminal transcript. Bot replies
// and deletions are rendered in place instead of being sent to a chat service.
type Adapter struct {
	outbound chan tea.Msg
	nextID   atomic.Int64
	opts     []tea.ProgramOption
	out      io.Writer
	log      *slog.Logger
}

// NewAdapter constructs a console adapter. opts are passed to the bubbletea
// program, which lets tests drive it without a terminal.
func NewAdapter(log *slog.Logger, opts ...tea.ProgramOption) *Adapter {
	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		outbound: make(chan tea.Msg, outboundBuffer),
		opts:     opts,
		out:      os.Stdout,
		log:      log.With("component", "channel.console"),
	}
}

func (a *Adapter) Name() string {
	return channelName
}

// SendText appends a bot reply to the transcript.
func (a *Adapter) SendText(ctx context.Context, chatID, text string) error {
	return a.push(ctx, botReplyMsg{chatID: chatID, text: text})
}

// DeleteMessage marks a previously typed message as removed.
func (a *Adapter) DeleteMessage(ctx context.Context, _ string, messageID string) error {
	return a.push(ctx, messageRemovedMsg{messageID: messageID})
}

// Run starts the terminal UI and forwards every submitted line to handler.
// It returns when the user quits or ctx is cancelled.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	m := newModel(ctx, handler, a.outbound, a.allocateID)
	opts := append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen(), tea.WithMouseCellMotion()}, a.opts...)
	program := tea.NewProgram(m, opts...)

	a.log.Info("Console channel started", "chat_id", ChatID)
	if _, err := program.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("run console: %w", err)
	}

	fmt.Fprintln(a.out, renderGoodbyeBanner(m.sent, m.removed))
	return nil
}

func (a *Adapter) push(ctx context.Context, msg tea.Msg) error {
	select {
	case a.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) allocateID() string {
	return strconv.FormatInt(a.nextID.Add(1), 10)
}

func renderGoodbyeBanner(sent, removed int) string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("24")).
		Padding(1, 2)

	return style.Render(fmt.Sprintf("📈 TickerGuard console closed · %d sent · %d removed", sent, removed))
}
