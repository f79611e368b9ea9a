// Package router implements the background authority: it assigns client
// ids during bootstrap, keeps the client map, and pushes it to every live
// client on a heartbeat.
//
//	bg, _ := client.New(&cfg.Client, backgroundMessenger)
//	r, _ := router.New(&cfg.Router, bg)
//	err := r.Run(ctx)
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tailored-agentic-units/switchboard/client"
	"github.com/tailored-agentic-units/switchboard/config"
	"github.com/tailored-agentic-units/switchboard/message"
	"github.com/tailored-agentic-units/switchboard/observability"
	"github.com/tailored-agentic-units/switchboard/route"
	"github.com/tailored-agentic-units/switchboard/state"
	"github.com/tailored-agentic-units/switchboard/transport"
)

// Machine names the router registers on its client.
const (
	BootstrapMachine = message.NameBootstrap
	HeartbeatMachine = message.NameHeartbeat
)

const broadcastLimit = 8

// IDFunc assigns a client id to a bootstrapping client.
type IDFunc func(loc route.Location, tabID int) (string, error)

// NewID is the default IDFunc. Content scripts are known by their tab id;
// popups and APIs get a prefixed UUIDv7.
func NewID(loc route.Location, tabID int) (string, error) {
	switch loc {
	case route.Content:
		if tabID <= 0 {
			return "", fmt.Errorf("%w: %d", transport.ErrInvalidTabID, tabID)
		}
		return strconv.Itoa(tabID), nil
	case route.Popup:
		return "popup-" + uuid.Must(uuid.NewV7()).String(), nil
	case route.API:
		return "api-" + uuid.Must(uuid.NewV7()).String(), nil
	case route.Background:
		return "", ErrBackgroundBootstrap
	default:
		return "", fmt.Errorf("%w: %s", route.ErrInvalidLocation, loc)
	}
}

// Option configures a Router after config-driven initialization.
type Option func(*Router)

// WithObserver overrides the default slog observer.
func WithObserver(o observability.Observer) Option {
	return func(r *Router) { r.observer = o }
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithIDFunc overrides NewID.
func WithIDFunc(fn IDFunc) Option {
	return func(r *Router) { r.newID = fn }
}

// Router owns the background client's bootstrap and heartbeat machines.
type Router struct {
	client   *client.Client
	cfg      config.RouterConfig
	newID    IDFunc
	observer observability.Observer
	logger   *slog.Logger

	// API clients live behind their host, outside the client map.
	mu   sync.RWMutex
	apis map[string]time.Time
}

// New wires the router into c, which must be the background client.
func New(cfg *config.RouterConfig, c *client.Client, opts ...Option) (*Router, error) {
	if c == nil || c.Location() != route.Background {
		return nil, ErrNotBackground
	}

	defaults := config.DefaultRouterConfig()
	if cfg != nil {
		defaults.Merge(cfg)
	}

	observer, err := observability.GetObserver("slog")
	if err != nil {
		return nil, err
	}

	r := &Router{
		client:   c,
		cfg:      defaults,
		newID:    NewID,
		observer: observer,
		logger:   slog.Default(),
		apis:     make(map[string]time.Time),
	}

	for _, opt := range opts {
		opt(r)
	}

	c.Messenger().Clients().Set(c.ID(), route.Background)

	if err := r.install(c, BootstrapMachine, r.onBootstrap); err != nil {
		return nil, err
	}
	if err := r.install(c, HeartbeatMachine, r.onHeartbeat); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Router) install(c *client.Client, name string, effect state.Effect) error {
	table, err := state.NewTable(
		state.Base(nil),
		state.Error(r.logger),
		state.State{
			Name:      state.Name(name),
			BaseLevel: true,
			Returns:   []state.Name{state.BaseName},
			Effect:    effect,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to build %s table: %w", name, err)
	}

	cfg := config.DefaultMachineConfig(name)
	cfg.Logger = r.logger
	m := state.NewMachineWithDeps(cfg, r.observer)

	if err := m.Initialize(context.Background(), table, state.BaseName); err != nil {
		return err
	}
	return c.AddMachine(m)
}

func (r *Router) Client() *client.Client {
	return r.client
}

// Clients returns every registered client id: the client map plus API
// clients, sorted.
func (r *Router) Clients() []string {
	ids := slices.Collect(maps.Keys(r.client.Messenger().Clients().Snapshot()))

	r.mu.RLock()
	for id := range r.apis {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

func (r *Router) onBootstrap(ctx context.Context, msg state.Named, current, previous state.State) (state.Name, error) {
	inbound, ok := client.Inbound(ctx)
	if !ok || inbound.Sender == nil {
		return state.BaseName, ErrNoSender
	}

	req, err := message.As[message.Bootstrap](inbound.Message)
	if err != nil {
		return state.BaseName, err
	}

	tabID := req.TabID
	if tabID == 0 {
		tabID = inbound.Sender.TabID
	}

	id, err := r.newID(req.Location, tabID)
	if err != nil {
		return state.BaseName, err
	}

	messenger := r.client.Messenger()
	if req.Location == route.API {
		r.mu.Lock()
		r.apis[id] = time.Now()
		r.mu.Unlock()
	} else {
		messenger.Clients().Set(id, req.Location)
	}

	result, err := r.build(message.BootstrapResult{
		Nonce:     req.Nonce,
		ClientID:  id,
		APIMap:    maps.Clone(r.cfg.APIMap),
		ClientMap: messenger.Clients().Snapshot(),
	})
	if err != nil {
		return state.BaseName, err
	}

	if err := messenger.Reply(ctx, *inbound.Sender, "", id, result); err != nil {
		return state.BaseName, fmt.Errorf("failed to answer bootstrap: %w", err)
	}

	r.logger.DebugContext(ctx, "client registered",
		slog.String("client_id", id),
		slog.String("location", req.Location.String()),
	)
	observability.Emit(ctx, r.observer, EventRegistered, observability.LevelInfo, r.client.ID(), map[string]any{
		"client_id": id,
		"location":  req.Location.String(),
	})
	return state.BaseName, nil
}

// onHeartbeat answers a client's heartbeat with the client map. A heartbeat
// from an id the router has forgotten re-registers it.
func (r *Router) onHeartbeat(ctx context.Context, msg state.Named, current, previous state.State) (state.Name, error) {
	inbound, ok := client.Inbound(ctx)
	if !ok || inbound.Sender == nil {
		return state.BaseName, ErrNoSender
	}

	hb, err := message.As[message.Heartbeat](inbound.Message)
	if err != nil {
		return state.BaseName, err
	}

	messenger := r.client.Messenger()
	if hb.ClientID != "" {
		switch loc := inbound.Message.From(); loc {
		case route.API:
			r.mu.Lock()
			r.apis[hb.ClientID] = time.Now()
			r.mu.Unlock()
		case route.Popup, route.Content:
			if _, known := messenger.Clients().Get(hb.ClientID); !known {
				messenger.Clients().Set(hb.ClientID, loc)
			}
		}
	}

	result, err := r.build(message.HeartbeatResult{ClientMap: messenger.Clients().Snapshot()})
	if err != nil {
		return state.BaseName, err
	}
	if err := messenger.Reply(ctx, *inbound.Sender, "", hb.ClientID, result); err != nil {
		return state.BaseName, fmt.Errorf("failed to answer heartbeat: %w", err)
	}
	return state.BaseName, nil
}

func (r *Router) build(payload message.Payload) (message.Message, error) {
	return message.New(payload.MessageName(), route.Background).
		ClientID(r.client.ID()).
		Attributes(payload).
		Build()
}

// Broadcast pushes the client map to every client in it. Clients whose
// channel is gone (no tab, no receiver) are evicted and returned.
func (r *Router) Broadcast(ctx context.Context) ([]string, error) {
	messenger := r.client.Messenger()
	snapshot := messenger.Clients().Snapshot()

	result, err := r.build(message.HeartbeatResult{ClientMap: snapshot})
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		evicted []string
		g       errgroup.Group
	)
	g.SetLimit(broadcastLimit)

	self := r.client.ID()
	for id := range snapshot {
		if id == self {
			continue
		}
		g.Go(func() error {
			err := messenger.SendMessage(ctx, "", id, result)
			switch {
			case err == nil:
			case errors.Is(err, transport.ErrNoActiveTab), errors.Is(err, transport.ErrNoReceiver):
				mu.Lock()
				evicted = append(evicted, id)
				mu.Unlock()
			default:
				r.logger.WarnContext(ctx, "heartbeat not delivered",
					slog.String("client_id", id),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(evicted)
	for _, id := range evicted {
		messenger.Clients().Delete(id)
		observability.Emit(ctx, r.observer, EventEvicted, observability.LevelInfo, self, map[string]any{
			"client_id": id,
		})
	}

	observability.Emit(ctx, r.observer, EventHeartbeat, observability.LevelVerbose, self, map[string]any{
		"clients": len(snapshot) - 1,
		"evicted": len(evicted),
	})
	return evicted, nil
}

// Run dispatches the background client's inbound messages and broadcasts
// heartbeats every HeartbeatInterval until ctx ends.
func (r *Router) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.client.Run(ctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(r.cfg.HeartbeatInterval.Std())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := r.Broadcast(ctx); err != nil {
					return err
				}
			}
		}
	})

	return g.Wait()
}
