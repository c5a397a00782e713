package registry

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/loqalabs/loqa-melody/internal/bus"
	"github.com/loqalabs/loqa-melody/internal/config"
	"github.com/loqalabs/loqa-melody/internal/natsserver"
	"github.com/loqalabs/loqa-melody/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func connect(t *testing.T) *bus.Client {
	t.Helper()
	logger := newLogger()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Host: "127.0.0.1", Port: -1}, "test", logger)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, "registry-test", logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func nodeConfig(id string) config.NodeConfig {
	return config.NodeConfig{ID: id, HeartbeatInterval: 20, HeartbeatTimeout: 200}
}

func TestRegistryDiscoversSpeakers(t *testing.T) {
	client := connect(t)

	composer, err := New(context.Background(), nodeConfig("hub"), []string{RoleComposer}, nil, client, newLogger())
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	t.Cleanup(composer.Close)

	speaker, err := New(context.Background(), nodeConfig("lounge-pi"), []string{RoleSpeaker}, []string{"lounge", "kitchen"}, client, newLogger())
	if err != nil {
		t.Fatalf("new speaker: %v", err)
	}
	t.Cleanup(speaker.Close)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if slices.Equal(composer.Speakers(), []string{"kitchen", "lounge"}) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := composer.Speakers(); !slices.Equal(got, []string{"kitchen", "lounge"}) {
		t.Fatalf("unexpected speakers %v", got)
	}
	if !composer.Healthy() {
		t.Fatal("expected local node to be healthy")
	}

	speakers := composer.Nodes(WithRole(RoleSpeaker))
	if len(speakers) != 1 || speakers[0].ID != "lounge-pi" {
		t.Fatalf("unexpected speaker nodes %+v", speakers)
	}
}

func TestEvaluateHealthExpiresSilentNodes(t *testing.T) {
	r := &Registry{
		cfg:     nodeConfig("hub"),
		log:     newLogger(),
		nodes:   make(map[string]*Node),
		timeout: time.Second,
	}
	now := time.Now()
	r.update(protocol.Presence{NodeID: "hub", Timestamp: now})
	r.update(protocol.Presence{NodeID: "gone", Speakers: []string{"attic"}, Timestamp: now.Add(-time.Minute)})

	r.evaluateHealth(now)

	if !r.Healthy() {
		t.Fatal("local node should stay healthy")
	}
	if got := r.Speakers(); len(got) != 0 {
		t.Fatalf("expected no speakers from expired nodes, got %v", got)
	}
	if nodes := r.Nodes(nil); len(nodes) != 2 {
		t.Fatalf("expected both nodes to be retained, got %d", len(nodes))
	}
}
