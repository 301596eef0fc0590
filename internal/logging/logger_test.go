package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestComponentLoggerFiltersByLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithOptions("ledger", &buf, LevelWarn)

	logger.Debug("dropped %d", 1)
	logger.Info("dropped too")
	logger.Warn("kept %s", "warn")
	logger.Error("kept error")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("expected debug/info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "[WARN] [ledger] kept warn") {
		t.Fatalf("missing warn line in %q", out)
	}
	if !strings.Contains(out, "[ERROR] [ledger] kept error") {
		t.Fatalf("missing error line in %q", out)
	}
}

func TestOrNopHandlesTypedNil(t *testing.T) {
	t.Parallel()

	var typed *componentLogger
	logger := OrNop(typed)
	// Must not panic.
	logger.Info("ignored")

	if logger != Nop() {
		t.Fatalf("expected typed nil to collapse to Nop logger")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]Level{
		"debug":   LevelDebug,
		"WARN":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
