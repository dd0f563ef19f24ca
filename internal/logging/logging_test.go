package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"Warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected error for unrecognized level")
	}
}

func TestComponentFilterHandlerLevels(t *testing.T) {
	var buf bytes.Buffer
	filter := NewComponentFilterHandler(slog.NewJSONHandler(&buf, nil), slog.LevelInfo)

	if got := filter.Levels(); len(got) != 0 {
		t.Fatalf("expected no overrides initially, got %v", got)
	}

	filter.SetLevel("ingest", slog.LevelDebug)
	levels := filter.Levels()
	if levels["ingest"] != slog.LevelDebug {
		t.Fatalf("Levels()[\"ingest\"] = %v, want LevelDebug", levels["ingest"])
	}

	// Mutating the returned map must not affect the handler's internal state.
	levels["ingest"] = slog.LevelError
	if got := filter.Level("ingest"); got != slog.LevelDebug {
		t.Fatalf("Levels() leaked a mutable reference: Level(\"ingest\") = %v", got)
	}

	filter.ClearLevel("ingest")
	if got := filter.Levels(); len(got) != 0 {
		t.Fatalf("expected no overrides after ClearLevel, got %v", got)
	}
}

func TestComponentFilterHandlerRespectsOverride(t *testing.T) {
	var buf bytes.Buffer
	filter := NewComponentFilterHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}), slog.LevelWarn)
	filter.SetLevel("httpapi", slog.LevelDebug)

	logger := slog.New(filter).With("component", "httpapi")
	logger.Debug("request received")

	if buf.Len() == 0 {
		t.Fatal("expected debug record to pass filter for overridden component")
	}
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["msg"] != "request received" {
		t.Fatalf("unexpected record: %v", rec)
	}

	buf.Reset()
	other := slog.New(filter).With("component", "ingest")
	other.Debug("should be dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected debug record below default level to be dropped, got %q", buf.String())
	}
}

func TestDiscardHandlerNeverEnabled(t *testing.T) {
	h := discardHandler{}
	if h.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("discardHandler should never be enabled")
	}
}
