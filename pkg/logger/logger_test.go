package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"tickerguard/pkg/config"
)

func TestLoggerJSONEntryShape(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := NewWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	if err != nil {
		t.Fatalf("NewWithWriter error: %v", err)
	}

	log.With("component", "pipeline").Info("Command replied", "request_id", "req-42", "channel", "telegram", "command", "stock", "ok", true)

	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}

	if entry.Level != "info" {
		t.Fatalf("level = %q, want %q", entry.Level, "info")
	}
	if entry.Message != "Command replied" {
		t.Fatalf("message = %q, want %q", entry.Message, "Command replied")
	}
	if entry.Component != "pipeline" {
		t.Fatalf("component = %q, want %q", entry.Component, "pipeline")
	}
	if entry.RequestID != "req-42" {
		t.Fatalf("request_id = %q, want %q", entry.RequestID, "req-42")
	}
	if entry.Channel != "telegram" {
		t.Fatalf("channel = %q, want %q", entry.Channel, "telegram")
	}
	if entry.Timestamp == "" {
		t.Fatal("expected timestamp")
	}
	if entry.Command != "stock" {
		t.Fatalf("command = %q, want %q", entry.Command, "stock")
	}
	if _, ok := entry.Fields["command"]; ok {
		t.Fatal("command should be lifted out of fields")
	}
	if got := entry.Fields["ok"]; got != true {
		t.Fatalf("fields.ok = %v, want true", got)
	}
}

func TestLoggerJSONRendersErrors(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := NewWithWriter(config.LoggingConfig{Format: "json"}, &out)
	if err != nil {
		t.Fatalf("NewWithWriter error: %v", err)
	}

	log.Warn("Classifier failed", "error", errors.New("upstream timeout"))

	var entry LogEntry
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}
	if got := entry.Fields["error"]; got != "upstream timeout" {
		t.Fatalf("fields.error = %v, want %q", got, "upstream timeout")
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := NewWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("NewWithWriter error: %v", err)
	}

	log.Info("Ignored")
	if got := strings.TrimSpace(out.String()); got != "" {
		t.Fatalf("expected no output for info, got %q", got)
	}

	log.Error("Kept")
	if got := strings.TrimSpace(out.String()); got == "" {
		t.Fatal("expected output for error")
	}
}

func TestLoggerEnvironmentOverrides(t *testing.T) {
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envLogFormat, "text")

	var out bytes.Buffer
	log, err := NewWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("NewWithWriter error: %v", err)
	}

	log.Debug("Debug enabled", "component", "test")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected debug output with env override")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format override, got %q", line)
	}
}

func TestLoggerDefaultsToTextFormat(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := NewWithWriter(config.LoggingConfig{}, &out)
	if err != nil {
		t.Fatalf("NewWithWriter error: %v", err)
	}

	log.Info("Default format")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format by default, got %q", line)
	}
}

func TestLoggerRejectsUnknownFormat(t *testing.T) {
	unsetLoggingEnv(t)

	if _, err := NewWithWriter(config.LoggingConfig{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestLoggerRejectsUnknownLevel(t *testing.T) {
	unsetLoggingEnv(t)

	if _, err := NewWithWriter(config.LoggingConfig{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unsupported level")
	}
}

func TestResolveLevelAliases(t *testing.T) {
	unsetLoggingEnv(t)

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "", want: slog.LevelInfo},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "warning", want: slog.LevelWarn},
		{input: "warn", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
	}

	for _, tt := range tests {
		s, err := resolve(config.LoggingConfig{Level: tt.input})
		if err != nil {
			t.Fatalf("resolve(%q) error: %v", tt.input, err)
		}
		if s.level != tt.want {
			t.Fatalf("resolve(%q).level = %v, want %v", tt.input, s.level, tt.want)
		}
	}
}

func TestLoggerRedactsSecrets(t *testing.T) {
	unsetLoggingEnv(t)

	for _, format := range []string{"json", "text"} {
		t.Run(format, func(t *testing.T) {
			var out bytes.Buffer
			log, err := NewWithWriter(config.LoggingConfig{Format: format}, &out)
			if err != nil {
				t.Fatalf("NewWithWriter error: %v", err)
			}

			log.With("token", "123456:ABC").Info("Adapter configured", "api_key", "fh-secret", slog.Group("webhook", "secret", "s3cr3t"), "symbol", "AAPL")

			got := out.String()
			for _, leaked := range []string{"123456:ABC", "fh-secret", "s3cr3t"} {
				if strings.Contains(got, leaked) {
					t.Fatalf("log output leaked %q: %s", leaked, got)
				}
			}
			if !strings.Contains(got, redactedValue) {
				t.Fatalf("expected %q marker in %s", redactedValue, got)
			}
			if !strings.Contains(got, "AAPL") {
				t.Fatalf("non-secret attr missing from %s", got)
			}
		})
	}
}

func unsetLoggingEnv(t *testing.T) {
	t.Helper()
	t.Setenv(envLogLevel, "")
	t.Setenv(envLogFormat, "")
	t.Setenv(envLogAddSource, "")
	_ = os.Unsetenv(envLogLevel)
	_ = os.Unsetenv(envLogFormat)
	_ = os.Unsetenv(envLogAddSource)
}
