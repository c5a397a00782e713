package melody

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/loqalabs/loqa-melody/internal/sequence"
	"github.com/loqalabs/loqa-melody/internal/theory"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRenderTriad(t *testing.T) {
	r := NewRenderer(newLogger())
	m := r.Render(context.Background(), Request{Root: "C", Mode: "major", Digits: "135"})
	if len(m.PCM) != 66150 {
		t.Fatalf("expected 66150 samples, got %d", len(m.PCM))
	}
	if m.SampleRate != SampleRate || m.DurationMS() != 1500 {
		t.Fatalf("unexpected timing: rate=%d duration=%d", m.SampleRate, m.DurationMS())
	}
	if len(m.Scale) != 9 || len(m.Symbols) != 3 {
		t.Fatalf("unexpected scale/symbols: %d/%d", len(m.Scale), len(m.Symbols))
	}
}

func TestRenderFallsBackToCMajor(t *testing.T) {
	r := NewRenderer(newLogger())
	ctx := context.Background()
	fallback := r.Render(ctx, Request{Root: "Z", Mode: "blah", Digits: "1234567890"})
	reference := r.Render(ctx, Request{Root: "C", Mode: "major", Digits: "1234567890"})
	if !bytes.Equal(fallback.PCM, reference.PCM) {
		t.Fatalf("unknown root/mode should render like C major")
	}
	if fallback.Root != "C" || fallback.Mode != "major" {
		t.Fatalf("expected resolved C major, got %s %s", fallback.Root, fallback.Mode)
	}
}

func TestRenderModeIsCaseInsensitive(t *testing.T) {
	r := NewRenderer(newLogger())
	m := r.Render(context.Background(), Request{Root: "A", Mode: "DoRiAn", Digits: "3"})
	if m.Mode != "dorian" {
		t.Fatalf("expected dorian, got %s", m.Mode)
	}
	want := 220 * math.Pow(2, 3.0/12)
	if len(m.Symbols) != 1 || math.Abs(m.Symbols[0].Frequency-want) > want*1e-9 {
		t.Fatalf("unexpected symbol %+v", m.Symbols)
	}
}

func TestRenderRootIsCaseSensitive(t *testing.T) {
	r := NewRenderer(newLogger())
	m := r.Render(context.Background(), Request{Root: "eb", Mode: "minor", Digits: "1"})
	if m.Root != "C" || m.RootFrequency != theory.DefaultFrequency {
		t.Fatalf("lower-case note should fall back to C, got %s %v", m.Root, m.RootFrequency)
	}
}

func TestRenderNinthDegree(t *testing.T) {
	r := NewRenderer(newLogger())
	m := r.Render(context.Background(), Request{Root: "D", Mode: "major", Digits: "9"})
	want := theory.FrequencyOf("D") * math.Pow(2, 14.0/12)
	if len(m.Symbols) != 1 || m.Symbols[0].Degree != 8 || math.Abs(m.Symbols[0].Frequency-want) > want*1e-9 {
		t.Fatalf("unexpected symbol %+v", m.Symbols)
	}
	if !bytes.Equal(m.PCM, sequence.Compile("9", m.Scale, NoteDurationMS, SampleRate)) {
		t.Fatalf("render differs from compile")
	}
}
