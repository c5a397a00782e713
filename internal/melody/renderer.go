// Package melody wires the note and mode tables, the scale generator and the
// sequence compiler into one rendering step.
package melody

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-melody/internal/sequence"
	"github.com/loqalabs/loqa-melody/internal/theory"
)

const (
	// SampleRate of every rendered buffer, in Hz.
	SampleRate = 44100
	// NoteDurationMS is the length of each note or rest.
	NoteDurationMS = 500
)

const instrumentationName = "github.com/loqalabs/loqa-melody/melody"

// Request names the root note, mode and digit sequence to render.
type Request struct {
	Root   string
	Mode   string
	Digits string
}

// Melody is the result of a render: the resolved inputs and the composite buffer.
type Melody struct {
	Root          string
	RootFrequency float64
	Mode          string
	Scale         []float64
	Symbols       []sequence.Symbol
	PCM           []byte
	SampleRate    int
}

// DurationMS returns the playing time of the melody in milliseconds.
func (m Melody) DurationMS() int {
	if m.SampleRate == 0 {
		return 0
	}
	return len(m.PCM) * 1000 / m.SampleRate
}

type Renderer struct {
	logger   *slog.Logger
	tracer   trace.Tracer
	symbols  metric.Int64Counter
	samples  metric.Int64Counter
	fallback metric.Int64Counter
}

func NewRenderer(logger *slog.Logger) *Renderer {
	r := &Renderer{
		logger: logger.With(slog.String("component", "melody-renderer")),
		tracer: otel.Tracer(instrumentationName),
	}
	if err := r.initMetrics(); err != nil {
		r.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return r
}

func (r *Renderer) initMetrics() error {
	meter := otel.Meter(instrumentationName)
	var err error
	r.symbols, err = meter.Int64Counter("melody.symbols",
		metric.WithDescription("Rendered notes and rests"))
	if err != nil {
		return err
	}
	r.samples, err = meter.Int64Counter("melody.samples",
		metric.WithDescription("PCM samples produced"),
		metric.WithUnit("{sample}"))
	if err != nil {
		return err
	}
	r.fallback, err = meter.Int64Counter("melody.lookup_fallbacks",
		metric.WithDescription("Unrecognized note or mode names replaced by defaults"))
	return err
}

// Render resolves req against the built-in tables and synthesizes it.
// Unknown roots fall back to C and unknown modes to major; the mode name
// is lower-cased before lookup.
func (r *Renderer) Render(ctx context.Context, req Request) Melody {
	ctx, span := r.tracer.Start(ctx, "melody.render")
	defer span.End()

	root, rootFreq := resolveRoot(req.Root)
	mode, modeKnown := theory.LookupMode(strings.ToLower(req.Mode))
	if !modeKnown {
		mode = theory.ResolveMode(theory.DefaultMode)
	}
	if r.fallback != nil {
		if root != req.Root {
			r.fallback.Add(ctx, 1, metric.WithAttributes(attribute.String("table", "note")))
		}
		if !modeKnown {
			r.fallback.Add(ctx, 1, metric.WithAttributes(attribute.String("table", "mode")))
		}
	}

	scale := theory.GenerateScale(rootFreq, mode.Intervals)
	symbols := sequence.Plan(req.Digits, scale)
	pcm := sequence.Render(symbols, NoteDurationMS, SampleRate)

	span.SetAttributes(
		attribute.String("melody.root", root),
		attribute.String("melody.mode", mode.Name),
		attribute.Int("melody.symbols", len(symbols)),
		attribute.Int("melody.samples", len(pcm)),
	)
	if r.symbols != nil {
		tones := 0
		for _, s := range symbols {
			if s.Kind == sequence.KindTone {
				tones++
			}
		}
		r.symbols.Add(ctx, int64(tones), metric.WithAttributes(attribute.String("kind", sequence.KindTone.String())))
		r.symbols.Add(ctx, int64(len(symbols)-tones), metric.WithAttributes(attribute.String("kind", sequence.KindRest.String())))
	}
	if r.samples != nil {
		r.samples.Add(ctx, int64(len(pcm)))
	}
	r.logger.Debug("melody rendered",
		slog.String("root", root),
		slog.String("mode", mode.Name),
		slog.Int("symbols", len(symbols)),
		slog.Int("samples", len(pcm)))

	return Melody{
		Root:          root,
		RootFrequency: rootFreq,
		Mode:          mode.Name,
		Scale:         scale,
		Symbols:       symbols,
		PCM:           pcm,
		SampleRate:    SampleRate,
	}
}

func resolveRoot(name string) (string, float64) {
	if f, ok := theory.LookupFrequency(name); ok {
		return name, f
	}
	return theory.DefaultRoot.String(), theory.DefaultFrequency
}
