package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/loqalabs/loqa-melody/internal/bus"
	"github.com/loqalabs/loqa-melody/internal/composer"
	"github.com/loqalabs/loqa-melody/internal/config"
	"github.com/loqalabs/loqa-melody/internal/melody"
	"github.com/loqalabs/loqa-melody/internal/natsserver"
	"github.com/loqalabs/loqa-melody/internal/playback"
	"github.com/loqalabs/loqa-melody/internal/protocol"
	"github.com/loqalabs/loqa-melody/internal/registry"
	"github.com/loqalabs/loqa-melody/internal/speaker"
	"github.com/loqalabs/loqa-melody/internal/telemetry"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	telemetryStop func(context.Context) error
	metrics       http.Handler
	embedded      *natsserver.EmbeddedServer
	bus           *bus.Client
	registry      *registry.Registry
	composer      *composer.Service
	speaker       *speaker.Service
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopTelemetry, metricsHandler, err := telemetry.Setup(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryStop = stopTelemetry
	r.metrics = metricsHandler

	if err := r.startComponents(ctx); err != nil {
		r.stopComponents()
		r.stopTelemetry()
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.stopComponents()
	r.stopTelemetry()
	return nil
}

func (r *Runtime) startComponents(ctx context.Context) error {
	roles, speakers := r.roles()
	if r.cfg.UsesBus() {
		busCfg := r.cfg.Bus
		if busCfg.Embedded {
			srv, err := natsserver.Start(busCfg, r.cfg.Node.ID, r.logger)
			if err != nil {
				return fmt.Errorf("failed to start embedded NATS: %w", err)
			}
			r.embedded = srv
			busCfg.Servers = []string{srv.ClientURL()}
		}
		client, err := bus.Connect(ctx, busCfg, bus.ConnName(r.cfg.RuntimeName, roles...), r.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		r.bus = client
	}

	player, err := playback.New(r.cfg.Player, r.bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create player: %w", err)
	}
	renderer := melody.NewRenderer(r.logger)
	r.composer = composer.NewService(ctx, r.cfg.Composer, r.bus, renderer, player, r.logger)
	if err := r.composer.Start(); err != nil {
		return fmt.Errorf("failed to start composer: %w", err)
	}

	if r.cfg.Speaker.Enabled {
		local, err := playback.New(r.cfg.Speaker.Player, nil, r.logger)
		if err != nil {
			return fmt.Errorf("failed to create speaker player: %w", err)
		}
		r.speaker = speaker.NewService(ctx, r.cfg.Speaker, r.bus, local, r.logger)
		if err := r.speaker.Start(); err != nil {
			return fmt.Errorf("failed to start speaker: %w", err)
		}
	}

	if r.bus != nil {
		reg, err := registry.New(ctx, r.cfg.Node, roles, speakers, r.bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start registry: %w", err)
		}
		r.registry = reg
	}
	return nil
}

// roles lists what this runtime does on the bus, and the speaker targets it
// hosts. A runtime that only plays over the bus is a "player".
func (r *Runtime) roles() (roles, speakers []string) {
	if r.cfg.Composer.Enabled {
		roles = append(roles, registry.RoleComposer)
	}
	if r.cfg.Speaker.Enabled {
		roles = append(roles, registry.RoleSpeaker)
		speakers = append(speakers, r.cfg.Speaker.Target)
	}
	if len(roles) == 0 && r.cfg.Player.Mode == config.PlayerBus {
		roles = append(roles, registry.RolePlayer)
	}
	return roles, speakers
}

func (r *Runtime) stopComponents() {
	if r.registry != nil {
		r.registry.Close()
	}
	if r.speaker != nil {
		r.speaker.Close()
	}
	if r.composer != nil {
		r.composer.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
}

func (r *Runtime) stopTelemetry() {
	if r.telemetryStop == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.telemetryStop(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) router() http.Handler {
	router := chi.NewRouter()
	router.Use(chimw.RealIP)
	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)

	router.Get("/healthz", r.handleHealth)
	router.Get("/readyz", r.handleReady)
	if r.metrics != nil {
		router.Method(http.MethodGet, "/metrics", r.metrics)
	}
	router.Route("/v1", func(v1 chi.Router) {
		v1.Post("/melodies", r.handleMelody)
		v1.Get("/speakers", r.handleSpeakers)
	})
	return router
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.componentsHealthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) componentsHealthy() bool {
	if r.bus != nil && !r.bus.Healthy() {
		return false
	}
	if r.registry != nil && !r.registry.Healthy() {
		return false
	}
	if r.composer != nil && !r.composer.Healthy() {
		return false
	}
	if r.speaker != nil && !r.speaker.Healthy() {
		return false
	}
	return true
}

type melodyBody struct {
	Root   string `json:"root"`
	Mode   string `json:"mode"`
	Digits string `json:"digits"`
}

func (r *Runtime) handleMelody(w http.ResponseWriter, req *http.Request) {
	var body melodyBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if r.composer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "composer not running"})
		return
	}

	status := r.composer.Compose(req.Context(), protocol.MelodyRequest{
		RequestID: chimw.GetReqID(req.Context()),
		Root:      body.Root,
		Mode:      body.Mode,
		Digits:    body.Digits,
	})
	code := http.StatusOK
	if !status.Completed {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, status)
}

func (r *Runtime) handleSpeakers(w http.ResponseWriter, _ *http.Request) {
	resp := struct {
		Speakers []string        `json:"speakers"`
		Nodes    []registry.Node `json:"nodes"`
	}{Speakers: []string{}, Nodes: []registry.Node{}}
	if r.registry != nil {
		if speakers := r.registry.Speakers(); len(speakers) > 0 {
			resp.Speakers = speakers
		}
		if nodes := r.registry.Nodes(nil); len(nodes) > 0 {
			resp.Nodes = nodes
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
