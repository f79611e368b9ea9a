package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/tailored-agentic-units/switchboard/client"
	"github.com/tailored-agentic-units/switchboard/config"
	"github.com/tailored-agentic-units/switchboard/message"
	"github.com/tailored-agentic-units/switchboard/observability"
	"github.com/tailored-agentic-units/switchboard/route"
	"github.com/tailored-agentic-units/switchboard/router"
	"github.com/tailored-agentic-units/switchboard/state"
	"github.com/tailored-agentic-units/switchboard/transport"
	"github.com/tailored-agentic-units/switchboard/transport/bus"
	"github.com/tailored-agentic-units/switchboard/transport/rpc"
)

const shutdownTimeout = 5 * time.Second

// hub is the background half of a switchboard process: the bus, the
// background client, and its router. Every client started through the hub
// runs in the hub's errgroup and tracks messages in its own diagnostics
// registry, so a message crossing several hops is counted once per hop.
type hub struct {
	cfg      *config.Config
	logger   *slog.Logger
	observer observability.Observer

	mu      sync.Mutex
	clients []*client.Client

	bus    *bus.Bus
	router *router.Router
	rpc    *rpc.Server

	ctx   context.Context
	group *errgroup.Group
}

func newHub(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*hub, error) {
	observer, err := observability.GetObserver(cfg.Observer)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve observer: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	h := &hub{
		cfg:      cfg,
		logger:   logger,
		observer: observer,
		bus:      bus.New(groupCtx, cfg.Bus),
		ctx:      groupCtx,
		group:    group,
	}
	h.rpc = rpc.NewServer(h.bus, logger)

	ep, err := h.bus.Connect(route.Background, 0)
	if err != nil {
		return nil, err
	}

	clientCfg := cfg.Client
	clientCfg.Location = route.Background.String()
	clientCfg.ID = transport.BackgroundID

	messenger, err := transport.NewMessenger(clientCfg, ep, observer)
	if err != nil {
		return nil, err
	}

	background, err := client.New(&clientCfg, messenger,
		client.WithObserver(observer),
		client.WithDiagnostics(h.newDiagnostics()),
	)
	if err != nil {
		return nil, err
	}
	h.track(background)
	if err := background.Initialize(groupCtx); err != nil {
		return nil, err
	}

	h.router, err = router.New(&cfg.Router, background,
		router.WithObserver(observer),
		router.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	group.Go(func() error { return h.router.Run(groupCtx) })
	return h, nil
}

// join connects an in-process client at loc, starts its receive loop, and
// bootstraps it.
func (h *hub) join(loc route.Location, tabID int, machines ...*state.Machine) (*client.Client, error) {
	ep, err := h.bus.Connect(loc, tabID)
	if err != nil {
		return nil, err
	}

	clientCfg := h.cfg.Client
	clientCfg.ID = ""
	clientCfg.Location = loc.String()
	clientCfg.TabID = tabID

	messenger, err := transport.NewMessenger(clientCfg, ep, h.observer)
	if err != nil {
		return nil, err
	}

	c, err := client.New(&clientCfg, messenger,
		client.WithObserver(h.observer),
		client.WithDiagnostics(h.newDiagnostics()),
		client.WithMachines(machines...),
	)
	if err != nil {
		return nil, err
	}

	h.group.Go(func() error { return c.Run(h.ctx) })

	if err := c.Initialize(h.ctx); err != nil {
		return nil, fmt.Errorf("%s client: %w", loc, err)
	}
	h.track(c)
	return c, nil
}

func (h *hub) newDiagnostics() *message.Diagnostics {
	return message.NewDiagnostics(h.cfg.Tracking, h.logger, h.observer)
}

func (h *hub) track(c *client.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients = append(h.clients, c)
}

// diagnostics snapshots every client's registry keyed by client id.
func (h *hub) diagnostics() map[string]message.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]message.Snapshot, len(h.clients))
	for _, c := range h.clients {
		out[c.ID()] = c.Diagnostics().Snapshot()
	}
	return out
}

// wait blocks until every hub goroutine has returned, then shuts the bus
// down.
func (h *hub) wait() error {
	err := h.group.Wait()
	if shutdownErr := h.bus.Shutdown(shutdownTimeout); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	return err
}

type debugReport struct {
	Clients     []string                    `json:"clients"`
	Sessions    int                         `json:"sessions"`
	Bus         bus.MetricsSnapshot         `json:"bus"`
	Diagnostics map[string]message.Snapshot `json:"diagnostics"`
}

func (h *hub) report() debugReport {
	return debugReport{
		Clients:     h.router.Clients(),
		Sessions:    h.rpc.Sessions(),
		Bus:         h.bus.Metrics(),
		Diagnostics: h.diagnostics(),
	}
}

// handler routes the Connect bridge, a health check, and the debug report.
func (h *hub) handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/debug/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, h.report())
	})

	h.rpc.Mount(r)
	return r
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
