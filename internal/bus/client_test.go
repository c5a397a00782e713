package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-melody/internal/config"
	"github.com/loqalabs/loqa-melody/internal/natsserver"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConnName(t *testing.T) {
	cases := []struct {
		roles []string
		want  string
	}{
		{nil, "loqa-melody"},
		{[]string{"speaker"}, "loqa-melody[speaker]"},
		{[]string{"composer", "speaker"}, "loqa-melody[composer,speaker]"},
	}
	for _, tc := range cases {
		if got := ConnName("loqa-melody", tc.roles...); got != tc.want {
			t.Fatalf("ConnName(%v) = %q, want %q", tc.roles, got, tc.want)
		}
	}
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, "x", newLogger()); err == nil {
		t.Fatal("expected error without servers")
	}
}

func TestConnectPublishJSON(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Host: "127.0.0.1", Port: -1}, "bus-test", newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, ConnName("loqa-melody", "composer"), newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !client.Healthy() {
		t.Fatal("expected healthy connection")
	}
	if got := client.Conn().Opts.Name; got != "loqa-melody[composer]" {
		t.Fatalf("unexpected connection name %q", got)
	}

	sub, err := client.Conn().SubscribeSync("melody.test")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.PublishJSON("melody.test", map[string]int{"samples": 3}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	var got map[string]int
	if err := json.Unmarshal(msg.Data, &got); err != nil || got["samples"] != 3 {
		t.Fatalf("unexpected payload %s (%v)", msg.Data, err)
	}

	if err := client.PublishJSON("melody.test", func() {}); err == nil {
		t.Fatal("expected encode error")
	}

	client.Close()
	if client.Healthy() {
		t.Fatal("closed client should not be healthy")
	}
}
