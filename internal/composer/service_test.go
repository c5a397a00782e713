package composer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-melody/internal/bus"
	"github.com/loqalabs/loqa-melody/internal/config"
	"github.com/loqalabs/loqa-melody/internal/melody"
	"github.com/loqalabs/loqa-melody/internal/natsserver"
	"github.com/loqalabs/loqa-melody/internal/playback"
	"github.com/loqalabs/loqa-melody/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(t *testing.T, cfg config.ComposerConfig, client *bus.Client, player playback.Player) *Service {
	t.Helper()
	logger := newLogger()
	svc := NewService(context.Background(), cfg, client, melody.NewRenderer(logger), player, logger)
	t.Cleanup(svc.Close)
	return svc
}

func TestComposePlaysMelody(t *testing.T) {
	player := playback.NewMock()
	svc := newService(t, config.ComposerConfig{}, nil, player)

	status := svc.Compose(context.Background(), protocol.MelodyRequest{Root: "C", Mode: "Major", Digits: "135"})
	if !status.Completed || status.Error != "" {
		t.Fatalf("expected completed status, got %+v", status)
	}
	if status.RequestID == "" {
		t.Fatal("expected generated request id")
	}
	if status.Root != "C" || status.Mode != "major" || status.Symbols != 3 || status.Samples != 66150 {
		t.Fatalf("unexpected status %+v", status)
	}

	plays := player.Plays()
	if len(plays) != 1 || len(plays[0].PCM) != 66150 || plays[0].SampleRate != melody.SampleRate {
		t.Fatalf("unexpected plays %d", len(plays))
	}
}

func TestComposeKeepsRequestID(t *testing.T) {
	svc := newService(t, config.ComposerConfig{}, nil, playback.NewMock())
	status := svc.Compose(context.Background(), protocol.MelodyRequest{RequestID: "req-1", Root: "D", Mode: "dorian", Digits: "0"})
	if status.RequestID != "req-1" || status.Samples != 22050 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestComposeReportsPlaybackFailure(t *testing.T) {
	player := playback.NewMock()
	player.FailWith(errors.New("no device"))
	svc := newService(t, config.ComposerConfig{}, nil, player)

	status := svc.Compose(context.Background(), protocol.MelodyRequest{Root: "C", Mode: "major", Digits: "1"})
	if status.Completed {
		t.Fatal("expected failure")
	}
	if !strings.Contains(status.Error, "no device") {
		t.Fatalf("expected cause in error, got %q", status.Error)
	}
}

func TestComposeSerializesPlayback(t *testing.T) {
	player := &overlapDetector{}
	svc := newService(t, config.ComposerConfig{}, nil, player)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Compose(context.Background(), protocol.MelodyRequest{Root: "C", Mode: "major", Digits: "1"})
		}()
	}
	wg.Wait()
	if player.overlapped {
		t.Fatal("playback calls overlapped")
	}
	if player.calls != 4 {
		t.Fatalf("expected 4 calls, got %d", player.calls)
	}
}

type overlapDetector struct {
	mu         sync.Mutex
	active     bool
	overlapped bool
	calls      int
}

func (o *overlapDetector) Play(context.Context, []byte, int) error {
	o.mu.Lock()
	if o.active {
		o.overlapped = true
	}
	o.active = true
	o.calls++
	o.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	o.mu.Lock()
	o.active = false
	o.mu.Unlock()
	return nil
}

func TestComposerAnswersBusRequests(t *testing.T) {
	logger := newLogger()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Host: "127.0.0.1", Port: -1}, "test", logger)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, "composer-test", logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	done := make(chan protocol.MelodyStatus, 1)
	doneSub, err := client.Conn().Subscribe(protocol.SubjectMelodyDone, func(msg *nats.Msg) {
		var status protocol.MelodyStatus
		if json.Unmarshal(msg.Data, &status) == nil {
			done <- status
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { _ = doneSub.Unsubscribe() })

	player := playback.NewMock()
	svc := newService(t, config.ComposerConfig{Enabled: true}, client, player)
	if err := svc.Start(); err != nil {
		t.Fatalf("start composer: %v", err)
	}

	data, _ := json.Marshal(protocol.MelodyRequest{RequestID: "bus-1", Root: "A", Mode: "minor", Digits: "12"})
	reply, err := client.Conn().Request(protocol.SubjectMelodyRequest, data, 5*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var status protocol.MelodyStatus
	if err := json.Unmarshal(reply.Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.RequestID != "bus-1" || !status.Completed || status.Symbols != 2 {
		t.Fatalf("unexpected status %+v", status)
	}

	select {
	case got := <-done:
		if got.RequestID != "bus-1" {
			t.Fatalf("unexpected done status %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for melody.done")
	}
	if len(player.Plays()) != 1 {
		t.Fatalf("expected one playback, got %d", len(player.Plays()))
	}
}
