package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"tickerguard/pkg/bus"
	"tickerguard/pkg/pipeline"

	"github.com/spf13/cobra"
)

const checkChannelName = "check"

var (
	checkText   string
	checkSender string
	checkAsBot  bool
)

var checkCmd = &cobra.Command{
	Use:   "check [text]",
	Short: "Run one message through the pipeline",
	Long:  "Moderates one message and runs it as a command if it is one, then prints the chat actions the bot would have taken.",
	RunE: func(cmd *cobra.Command, args []string) error {
		text := resolveText(args)
		if text == "" {
			return fmt.Errorf("message text is required")
		}

		cfg, appLogger, err := loadConfig(os.Stderr, consoleOnly)
		if err != nil {
			return err
		}

		outbox := &printingOutbox{}
		p, err := buildPipeline(cfg, outbox, nil, appLogger)
		if err != nil {
			return err
		}

		runCheck(cmd.Context(), p, bus.InboundMessage{
			Channel:    checkChannelName,
			MessageID:  "1",
			ChatID:     "local",
			SenderID:   "local-user",
			SenderName: checkSender,
			IsBot:      checkAsBot,
			Content:    text,
		}, outbox, cmd.OutOrStdout())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVarP(&checkText, "text", "t", "", "message text to check")
	checkCmd.Flags().StringVar(&checkSender, "as", "@you", "sender mention used in replies")
	checkCmd.Flags().BoolVar(&checkAsBot, "bot", false, "mark the message as sent by a bot")
}

type messageHandler interface {
	Handle(ctx context.Context, msg bus.InboundMessage) pipeline.Result
}

// runCheck handles msg and prints the outcome followed by every chat action.
func runCheck(ctx context.Context, p messageHandler, msg bus.InboundMessage, outbox *printingOutbox, out io.Writer) pipeline.Result {
	if ctx == nil {
		ctx = context.Background()
	}

	result := p.Handle(ctx, msg)

	fmt.Fprintf(out, "outcome: %s\n", result.Outcome)
	if result.Command != "" {
		fmt.Fprintf(out, "command: %s\n", result.Command)
	}
	if result.Reason != "" {
		fmt.Fprintf(out, "reason: %s\n", result.Reason)
	}
	for _, action := range outbox.snapshot() {
		for _, line := range replyLines(action) {
			fmt.Fprintln(out, line)
		}
	}
	return result
}

// printingOutbox records chat actions instead of performing them.
type printingOutbox struct {
	mu      sync.Mutex
	actions []string
}

func (o *printingOutbox) SendText(_ context.Context, _ string, _ string, text string) error {
	o.record("💬 " + text)
	return nil
}

func (o *printingOutbox) DeleteMessage(_ context.Context, _ string, _ string, messageID string) error {
	o.record("🗑  deleted message " + messageID)
	return nil
}

func (o *printingOutbox) record(action string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.actions = append(o.actions, action)
}

func (o *printingOutbox) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.actions...)
}

func resolveText(args []string) string {
	if value := strings.TrimSpace(checkText); value != "" {
		return value
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

// replyLines splits a multi-line action so continuation lines stay indented.
func replyLines(action string) []string {
	trimmed := strings.TrimSpace(action)
	if trimmed == "" {
		return nil
	}

	lines := strings.Split(trimmed, "\n")
	for i := 1; i < len(lines); i++ {
		lines[i] = "   " + lines[i]
	}
	return lines
}
