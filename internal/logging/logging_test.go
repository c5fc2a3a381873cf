package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := ParseLevel(tt.input)
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestJSONHandlerOutput(t *testing.T) {
	var buf bytes.Buffer
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	logger := slog.New(slog.NewJSONHandler(&buf, opts))

	logger.Info("plate accepted", "plate", "ABC123")

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("expected valid JSON output, got error: %v\noutput: %s", err, buf.String())
	}
	if m["msg"] != "plate accepted" {
		t.Errorf("expected msg 'plate accepted', got %q", m["msg"])
	}
	if m["plate"] != "ABC123" {
		t.Errorf("expected plate 'ABC123', got %q", m["plate"])
	}
}

func TestTextHandlerOutput(t *testing.T) {
	var buf bytes.Buffer
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	logger := slog.New(slog.NewTextHandler(&buf, opts))

	logger.Info("session closed", "session_id", "20260825_120000")

	out := buf.String()
	if !strings.Contains(out, "msg=\"session closed\"") && !strings.Contains(out, "msg=session") {
		t.Errorf("expected text output containing msg, got: %s", out)
	}
	if !strings.Contains(out, "session_id=20260825_120000") {
		t.Errorf("expected text output containing session_id, got: %s", out)
	}
}
