// Package registry tracks which runtimes, and which speakers, are reachable
// on the bus.
package registry

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-melody/internal/bus"
	"github.com/loqalabs/loqa-melody/internal/config"
	"github.com/loqalabs/loqa-melody/internal/protocol"
)

const (
	RoleComposer = "composer"
	RoleSpeaker  = "speaker"
	RolePlayer   = "player"
)

// Node is the last known state of one runtime.
type Node struct {
	ID       string    `json:"id"`
	Roles    []string  `json:"roles"`
	Speakers []string  `json:"speakers"`
	LastSeen time.Time `json:"last_seen"`
	Healthy  bool      `json:"healthy"`
}

type Registry struct {
	cfg      config.NodeConfig
	local    protocol.Presence
	log      *slog.Logger
	bus      *bus.Client
	mu       sync.RWMutex
	nodes    map[string]*Node
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	sub      *nats.Subscription
	meter    metric.Meter
	interval time.Duration
	timeout  time.Duration
}

// New announces the local node with the given roles and speaker targets and
// starts tracking its peers.
func New(ctx context.Context, cfg config.NodeConfig, roles, speakers []string, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg: cfg,
		local: protocol.Presence{
			NodeID:   cfg.ID,
			Roles:    slices.Clone(roles),
			Speakers: slices.Clone(speakers),
		},
		log:      log.With(slog.String("component", "registry"), slog.String("node_id", cfg.ID)),
		bus:      busClient,
		nodes:    make(map[string]*Node),
		cancel:   cancel,
		meter:    otel.Meter("github.com/loqalabs/loqa-melody/registry"),
		interval: time.Duration(cfg.HeartbeatInterval) * time.Millisecond,
		timeout:  time.Duration(cfg.HeartbeatTimeout) * time.Millisecond,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	sub, err := busClient.Conn().Subscribe(protocol.SubjectPresencePrefix+".*", r.handlePresence)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe presence: %w", err)
	}
	r.sub = sub

	if err := r.publish(); err != nil {
		r.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}

	r.wg.Add(1)
	go r.run(ctx)
	return r, nil
}

func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
	if r.sub != nil {
		_ = r.sub.Drain()
	}
}

func (r *Registry) run(ctx context.Context) {
	defer r.wg.Done()
	heartbeat := time.NewTicker(r.interval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := r.publish(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
			r.evaluateHealth(time.Now())
		}
	}
}

func (r *Registry) publish() error {
	msg := r.local
	msg.Timestamp = time.Now().UTC()
	if err := r.bus.PublishJSON(protocol.PresenceSubject(r.cfg.ID), msg); err != nil {
		return err
	}
	r.update(msg)
	return nil
}

func (r *Registry) handlePresence(msg *nats.Msg) {
	var p protocol.Presence
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		r.log.Warn("invalid presence message", slog.String("error", err.Error()))
		return
	}
	if p.NodeID == "" {
		return
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	r.update(p)
}

func (r *Registry) update(p protocol.Presence) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[p.NodeID]
	if !ok {
		node = &Node{ID: p.NodeID}
		r.nodes[p.NodeID] = node
		r.log.Debug("node discovered", slog.String("peer", p.NodeID), slog.Any("speakers", p.Speakers))
	}
	node.Roles = p.Roles
	node.Speakers = p.Speakers
	node.LastSeen = p.Timestamp
	node.Healthy = true
}

func (r *Registry) evaluateHealth(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, node := range r.nodes {
		if node.Healthy && now.Sub(node.LastSeen) > r.timeout {
			node.Healthy = false
			r.log.Info("node missed heartbeats", slog.String("peer", node.ID))
		}
	}
}

// Healthy reports whether the local node's own presence is current.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[r.cfg.ID]
	return ok && node.Healthy
}

// Nodes returns copies of the known nodes accepted by filter, ordered by id.
func (r *Registry) Nodes(filter func(Node) bool) []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []Node
	for _, node := range r.nodes {
		n := *node
		n.Roles = slices.Clone(node.Roles)
		n.Speakers = slices.Clone(node.Speakers)
		if filter == nil || filter(n) {
			results = append(results, n)
		}
	}
	slices.SortFunc(results, func(a, b Node) int { return cmp.Compare(a.ID, b.ID) })
	return results
}

// Speakers lists the distinct speaker targets hosted by healthy nodes.
func (r *Registry) Speakers() []string {
	var targets []string
	for _, node := range r.Nodes(HealthyOnly) {
		targets = append(targets, node.Speakers...)
	}
	slices.Sort(targets)
	return slices.Compact(targets)
}

func HealthyOnly(n Node) bool { return n.Healthy }

func WithRole(role string) func(Node) bool {
	return func(n Node) bool {
		return slices.Contains(n.Roles, role)
	}
}

func (r *Registry) initMetrics() error {
	nodes, err := r.meter.Int64ObservableGauge("melody.nodes", metric.WithDescription("Healthy nodes on the bus"))
	if err != nil {
		return err
	}
	speakers, err := r.meter.Int64ObservableGauge("melody.speakers", metric.WithDescription("Speaker targets on healthy nodes"))
	if err != nil {
		return err
	}
	_, err = r.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(nodes, int64(len(r.Nodes(HealthyOnly))))
		obs.ObserveInt64(speakers, int64(len(r.Speakers())))
		return nil
	}, nodes, speakers)
	return err
}
