package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelString(t *testing.T) {
	if LevelDebug.String() != "DEBUG" {
		t.Errorf("expected DEBUG, got %s", LevelDebug.String())
	}
	if Level(99).String() != "UNKNOWN" {
		t.Errorf("expected UNKNOWN for out-of-range level")
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Output: &buf})

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") {
		t.Error("debug message should be filtered at warn level")
	}
	if strings.Contains(out, "info message") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "warn message") {
		t.Error("warn message missing")
	}
	if !strings.Contains(out, "error message") {
		t.Error("error message missing")
	}
}

func TestLoggerFormatting(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Output: &buf, Prefix: "test"})

	l.Info("count=%d", 42)

	out := buf.String()
	if !strings.Contains(out, "count=42") {
		t.Errorf("expected formatted args in output, got %q", out)
	}
	if !strings.Contains(out, "[INFO] test:") {
		t.Errorf("expected prefix and level in output, got %q", out)
	}
}

func TestLoggerWithField(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Output: &buf})

	l.WithScript("alpha").Info("started")

	out := buf.String()
	if !strings.Contains(out, "script=alpha") {
		t.Errorf("expected script field in output, got %q", out)
	}

	// The parent logger must not inherit the child's fields.
	buf.Reset()
	l.Info("plain")
	if strings.Contains(buf.String(), "script=alpha") {
		t.Error("field leaked into parent logger")
	}
}

func TestNullLogger(t *testing.T) {
	// Must not panic and must not write anywhere.
	Null.Info("discarded")
	Null.Error("discarded")
}
