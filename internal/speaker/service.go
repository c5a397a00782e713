package speaker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-melody/internal/bus"
	"github.com/loqalabs/loqa-melody/internal/config"
	"github.com/loqalabs/loqa-melody/internal/playback"
	"github.com/loqalabs/loqa-melody/internal/protocol"
)

// Service receives audio chunks addressed to one target, reassembles them
// and plays each completed buffer on a local player, one at a time.
type Service struct {
	cfg    config.SpeakerConfig
	bus    *bus.Client
	player playback.Player
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	mu         sync.Mutex
	pending    map[string]*assembly
	sessionTTL time.Duration
	jobs       chan job
}

type assembly struct {
	next       int
	sampleRate int
	pcm        []byte
	broken     error
	lastSeen   time.Time
}

const defaultSessionTTL = 2 * time.Minute

type job struct {
	sessionID  string
	pcm        []byte
	sampleRate int
	broken     error
	msg        *nats.Msg
}

func NewService(parent context.Context, cfg config.SpeakerConfig, busClient *bus.Client, player playback.Player, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	ttl := time.Duration(cfg.Player.TimeoutMS) * time.Millisecond
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Service{
		cfg:        cfg,
		bus:        busClient,
		player:     player,
		ctx:        ctx,
		cancel:     cancel,
		logger:     log.With(slog.String("component", "speaker"), slog.String("target", cfg.Target)),
		pending:    make(map[string]*assembly),
		sessionTTL: ttl,
		jobs:       make(chan job, 8),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SpeakerSubject(s.cfg.Target), s.handleChunk)
	if err != nil {
		return err
	}
	s.sub = sub
	s.wg.Add(1)
	go s.run()
	s.logger.Info("speaker listening", slog.String("subject", sub.Subject))
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

func (s *Service) handleChunk(msg *nats.Msg) {
	var chunk protocol.AudioChunk
	if err := json.Unmarshal(msg.Data, &chunk); err != nil {
		s.logger.Warn("failed to decode audio chunk", slogError(err))
		return
	}

	s.mu.Lock()
	a, ok := s.pending[chunk.SessionID]
	if !ok {
		a = &assembly{sampleRate: chunk.SampleRate}
		s.pending[chunk.SessionID] = a
	}
	a.lastSeen = time.Now()
	switch {
	case a.broken != nil:
	case chunk.Sequence != a.next:
		a.broken = fmt.Errorf("session %s: expected chunk %d, got %d", chunk.SessionID, a.next, chunk.Sequence)
	case chunk.Channels != playback.Channels || chunk.BitDepth != playback.BitDepth:
		a.broken = fmt.Errorf("session %s: unsupported format %d ch / %d bit", chunk.SessionID, chunk.Channels, chunk.BitDepth)
	default:
		a.pcm = append(a.pcm, chunk.PCM...)
		a.next++
	}
	if !chunk.Final {
		s.mu.Unlock()
		return
	}
	delete(s.pending, chunk.SessionID)
	s.mu.Unlock()

	select {
	case s.jobs <- job{sessionID: chunk.SessionID, pcm: a.pcm, sampleRate: a.sampleRate, broken: a.broken, msg: msg}:
	case <-s.ctx.Done():
	}
}

func (s *Service) run() {
	defer s.wg.Done()
	sweep := time.NewTicker(max(s.sessionTTL/4, 10*time.Millisecond))
	defer sweep.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case j := <-s.jobs:
			s.play(j)
		case now := <-sweep.C:
			s.evictStale(now)
		}
	}
}

// evictStale drops sessions whose final chunk has not arrived within the
// session TTL of their last chunk.
func (s *Service) evictStale(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, a := range s.pending {
		if now.Sub(a.lastSeen) > s.sessionTTL {
			delete(s.pending, id)
			evicted++
			s.logger.Warn("dropping incomplete session",
				slog.String("session_id", id),
				slog.Int("chunks", a.next),
				slog.Int("samples", len(a.pcm)))
		}
	}
	return evicted
}

func (s *Service) pendingSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Service) play(j job) {
	ack := protocol.PlaybackAck{SessionID: j.sessionID, Samples: len(j.pcm)}
	err := j.broken
	if err == nil {
		err = s.player.Play(s.ctx, j.pcm, j.sampleRate)
	}
	if err != nil {
		s.logger.Warn("playback failed", slog.String("session_id", j.sessionID), slogError(err))
		ack.Error = err.Error()
	} else {
		s.logger.Info("playback complete", slog.String("session_id", j.sessionID), slog.Int("samples", len(j.pcm)))
	}
	ack.Timestamp = time.Now().UTC()

	if j.msg.Reply == "" {
		return
	}
	data, err := json.Marshal(ack)
	if err != nil {
		s.logger.Warn("failed to marshal playback ack", slogError(err))
		return
	}
	if err := j.msg.Respond(data); err != nil {
		s.logger.Warn("failed to send playback ack", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
