package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/loqalabs/loqa-melody/internal/config"
)

func TestLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":  slog.LevelDebug,
		"INFO":   slog.LevelInfo,
		" warn ": slog.LevelWarn,
		"error":  slog.LevelError,
		"":       slog.LevelInfo,
		"loud":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := Level(in); got != want {
			t.Fatalf("Level(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupWithoutExporters(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	shutdown, handler, err := Setup(context.Background(), config.Default(), logger)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if handler == nil {
		t.Fatal("expected metrics handler")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
