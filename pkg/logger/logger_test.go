package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func resetLogger(t *testing.T) {
	t.Cleanup(func() {
		_ = Close()
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
		mu.Lock()
		current = zerolog.New(os.Stderr).With().Timestamp().Logger()
		mu.Unlock()
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{" DEBUG ", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestInitOutputAndLevel(t *testing.T) {
	resetLogger(t)
	var buf bytes.Buffer
	if err := Init(LogConfig{Level: "warn", Format: "json", Output: &buf}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	Info().Msg("dropped")
	Warn().Str("channel", "openai").Msg("channel unhealthy")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	if entry["level"] != "warn" || entry["channel"] != "openai" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestInitConsoleFormat(t *testing.T) {
	resetLogger(t)
	var buf bytes.Buffer
	if err := Init(LogConfig{Level: "info", Format: "console", Output: &buf}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	Info().Msg("hello console")
	out := buf.String()
	if !strings.Contains(out, "hello console") || strings.HasPrefix(out, "{") {
		t.Errorf("expected console output, got %q", out)
	}
}

func TestInitWithFile(t *testing.T) {
	resetLogger(t)
	logPath := filepath.Join(t.TempDir(), "chatline.log")
	var buf bytes.Buffer

	if err := Init(LogConfig{Level: "debug", Format: "json", File: logPath, Output: &buf}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	l := Component("executor")
	l.Info().Str("model", "gpt-4o").Msg("attempt finished")

	if err := Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	for _, want := range []string{`"component":"executor"`, "attempt finished"} {
		if !strings.Contains(string(content), want) {
			t.Errorf("log file missing %s: %s", want, content)
		}
		if !strings.Contains(buf.String(), want) {
			t.Errorf("primary output missing %s: %s", want, buf.String())
		}
	}
}

func TestInitWithInvalidFile(t *testing.T) {
	resetLogger(t)

	err := Init(LogConfig{Level: "info", Format: "json", File: "/nonexistent/directory/test.log"})
	if err == nil {
		t.Error("expected error for invalid file path")
	}
}

func TestGetWithoutInit(t *testing.T) {
	if Get() == nil {
		t.Fatal("Get() should return a default logger when not initialized")
	}
}

func TestCloseWithoutFile(t *testing.T) {
	if err := Close(); err != nil {
		t.Errorf("Close without file: %v", err)
	}
}
