package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	charmLog "github.com/charmbracelet/log"

	"tickerguard/pkg/config"
)

const (
	envLogLevel     = "TICKERGUARD_LOG_LEVEL"
	envLogFormat    = "TICKERGUARD_LOG_FORMAT"
	envLogAddSource = "TICKERGUARD_LOG_ADD_SOURCE"

	redactedValue = "[redacted]"
)

var ErrUnsupportedFormat = errors.New("unsupported log format")

// secretKeys are attr keys whose values never reach the output.
var secretKeys = map[string]struct{}{
	"token":         {},
	"api_key":       {},
	"secret":        {},
	"authorization": {},
	"signature":     {},
}

type settings struct {
	json      bool
	level     slog.Level
	addSource bool
}

// New builds the process logger writing to stderr.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter builds a logger writing to writer. The console channel uses it
// to keep log lines out of the terminal UI.
func NewWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	s, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	if s.json {
		handler = &entryHandler{
			level:     s.level,
			addSource: s.addSource,
			writer:    writer,
			mu:        &sync.Mutex{},
		}
	} else {
		handler = charmLog.NewWithOptions(writer, charmLog.Options{
			Level:           charmLog.Level(s.level),
			ReportTimestamp: true,
			ReportCaller:    s.addSource,
			Formatter:       charmLog.TextFormatter,
		})
	}

	return slog.New(redactingHandler{next: handler}), nil
}

// resolve merges config with the TICKERGUARD_LOG_* environment.
func resolve(cfg config.LoggingConfig) (settings, error) {
	var s settings

	switch format := strings.ToLower(envOr(envLogFormat, cfg.Format)); format {
	case "", "text":
	case "json":
		s.json = true
	default:
		return settings{}, fmt.Errorf("%w %q", ErrUnsupportedFormat, format)
	}

	levelText := strings.ToLower(envOr(envLogLevel, cfg.Level))
	switch levelText {
	case "":
		s.level = slog.LevelInfo
	case "warning":
		s.level = slog.LevelWarn
	default:
		if err := s.level.UnmarshalText([]byte(levelText)); err != nil {
			return settings{}, fmt.Errorf("unsupported log level %q", levelText)
		}
	}

	s.addSource = cfg.AddSource
	if value := strings.TrimSpace(os.Getenv(envLogAddSource)); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			s.addSource = true
		default:
			s.addSource = false
		}
	}

	return s, nil
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(fallback)
}

// redactingHandler masks secret-named attrs before the wrapped handler sees them.
type redactingHandler struct {
	next slog.Handler
}

func (h redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h redactingHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(redact(attr))
		return true
	})
	return h.next.Handle(ctx, clean)
}

func (h redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		clean[i] = redact(attr)
	}
	return redactingHandler{next: h.next.WithAttrs(clean)}
}

func (h redactingHandler) WithGroup(name string) slog.Handler {
	return redactingHandler{next: h.next.WithGroup(name)}
}

func redact(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup {
		group := attr.Value.Group()
		clean := make([]any, len(group))
		for i, item := range group {
			clean[i] = redact(item)
		}
		return slog.Group(attr.Key, clean...)
	}

	if _, secret := secretKeys[strings.ToLower(attr.Key)]; secret && attr.Value.String() != "" {
		return slog.String(attr.Key, redactedValue)
	}
	return attr
}
