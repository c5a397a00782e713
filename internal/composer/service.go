package composer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-melody/internal/bus"
	"github.com/loqalabs/loqa-melody/internal/config"
	"github.com/loqalabs/loqa-melody/internal/melody"
	"github.com/loqalabs/loqa-melody/internal/playback"
	"github.com/loqalabs/loqa-melody/internal/protocol"
)

// Service renders melody requests and hands them to a player, one at a time.
type Service struct {
	cfg      config.ComposerConfig
	bus      *bus.Client
	renderer *melody.Renderer
	player   playback.Player
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	playMu   sync.Mutex
	logger   *slog.Logger
	requests metric.Int64Counter
}

func NewService(parent context.Context, cfg config.ComposerConfig, busClient *bus.Client, renderer *melody.Renderer, player playback.Player, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:      cfg,
		bus:      busClient,
		renderer: renderer,
		player:   player,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "composer")),
	}
	counter, err := otel.Meter("github.com/loqalabs/loqa-melody/composer").Int64Counter("melody.requests",
		metric.WithDescription("Melody requests by outcome"))
	if err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
	}
	s.requests = counter
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectMelodyRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

// Compose renders req and blocks until the player has drained it. Concurrent
// calls are played back in turn.
func (s *Service) Compose(ctx context.Context, req protocol.MelodyRequest) protocol.MelodyStatus {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	m := s.renderer.Render(ctx, melody.Request{Root: req.Root, Mode: req.Mode, Digits: req.Digits})
	for _, sym := range m.Symbols {
		s.logger.Debug("scheduling symbol",
			slog.String("request_id", req.RequestID),
			slog.String("digit", string(sym.Digit)),
			slog.String("kind", sym.Kind.String()),
			slog.Float64("frequency_hz", sym.Frequency))
	}

	status := protocol.MelodyStatus{
		RequestID: req.RequestID,
		Root:      m.Root,
		Mode:      m.Mode,
		Symbols:   len(m.Symbols),
		Samples:   len(m.PCM),
	}

	s.playMu.Lock()
	err := s.player.Play(ctx, m.PCM, m.SampleRate)
	s.playMu.Unlock()

	outcome := "completed"
	if err != nil {
		outcome = "failed"
		status.Error = err.Error()
		s.logger.Warn("melody playback failed", slog.String("request_id", req.RequestID), slogError(err))
	} else {
		status.Completed = true
		s.logger.Info("melody played",
			slog.String("request_id", req.RequestID),
			slog.String("root", m.Root),
			slog.String("mode", m.Mode),
			slog.Int("symbols", len(m.Symbols)))
	}
	if s.requests != nil {
		s.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	status.Timestamp = time.Now().UTC()
	return status
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.MelodyRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode melody request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		status := s.Compose(s.ctx, req)
		data, err := json.Marshal(status)
		if err != nil {
			s.logger.Warn("failed to marshal melody status", slogError(err))
			return
		}
		if msg.Reply != "" {
			if err := msg.Respond(data); err != nil {
				s.logger.Warn("failed to reply to melody request", slogError(err))
			}
		}
		if err := s.bus.Conn().Publish(protocol.SubjectMelodyDone, data); err != nil {
			s.logger.Warn("failed to publish melody status", slogError(err))
		}
	}()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
