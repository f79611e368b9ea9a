package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tailored-agentic-units/switchboard/config"
	"github.com/tailored-agentic-units/switchboard/route"
	"github.com/tailored-agentic-units/switchboard/transport"
)

type delivery struct {
	packet transport.Packet
	sender transport.Sender
}

// Bus simulates a browser extension host in-process: one runtime channel
// shared by popup and background endpoints and one channel per content tab.
type Bus struct {
	name string

	endpoints map[int]*Endpoint
	tabs      map[int]*Endpoint
	mu        sync.RWMutex
	nextID    int

	channelBufferSize int
	deliveryTimeout   time.Duration

	logger  *slog.Logger
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(ctx context.Context, cfg config.BusConfig) *Bus {
	defaults := config.DefaultBusConfig()
	defaults.Merge(&cfg)

	busCtx, cancel := context.WithCancel(ctx)

	return &Bus{
		name:              defaults.Name,
		endpoints:         make(map[int]*Endpoint),
		tabs:              make(map[int]*Endpoint),
		channelBufferSize: defaults.ChannelBufferSize,
		deliveryTimeout:   defaults.DeliveryTimeout.Std(),
		logger:            defaults.Logger,
		metrics:           NewMetrics(),
		ctx:               busCtx,
		cancel:            cancel,
	}
}

func (b *Bus) Name() string {
	return b.name
}

// Connect attaches a popup, background, or content context. Content
// endpoints need a positive tab id unique on the bus. Nested API clients
// attach to their host through transport.Pipe instead.
func (b *Bus) Connect(loc route.Location, tabID int) (*Endpoint, error) {
	switch loc {
	case route.Popup, route.Background:
		tabID = 0
	case route.Content:
		if tabID <= 0 {
			return nil, fmt.Errorf("%w: %d", transport.ErrInvalidTabID, tabID)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocation, loc)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ctx.Err(); err != nil {
		return nil, ErrClosed
	}
	if tabID > 0 {
		if _, exists := b.tabs[tabID]; exists {
			return nil, fmt.Errorf("%w: %d", ErrTabInUse, tabID)
		}
	}

	id := b.nextID
	b.nextID++

	ep := newEndpoint(b, id, loc, tabID)
	b.endpoints[id] = ep
	if tabID > 0 {
		b.tabs[tabID] = ep
	}
	b.metrics.RecordEndpoint(1)

	b.wg.Add(1)
	go ep.loop()

	b.logger.DebugContext(b.ctx, "endpoint connected",
		slog.String("bus_name", b.name),
		slog.String("location", string(loc)),
		slog.Int("tab_id", tabID),
	)
	return ep, nil
}

func (b *Bus) detach(ep *Endpoint) {
	b.mu.Lock()
	_, exists := b.endpoints[ep.id]
	if exists {
		delete(b.endpoints, ep.id)
		if ep.tabID > 0 {
			delete(b.tabs, ep.tabID)
		}
	}
	b.mu.Unlock()

	if exists {
		b.metrics.RecordEndpoint(-1)
		b.logger.DebugContext(b.ctx, "endpoint disconnected",
			slog.String("bus_name", b.name),
			slog.String("location", string(ep.location)),
			slog.Int("tab_id", ep.tabID),
		)
	}
}

// Tabs lists the tab ids with a connected content endpoint.
func (b *Bus) Tabs() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tabs := make([]int, 0, len(b.tabs))
	for id := range b.tabs {
		tabs = append(tabs, id)
	}
	sort.Ints(tabs)
	return tabs
}

// Install fires every endpoint's OnInstalled callbacks, as the host does
// when the extension is installed or updated.
func (b *Bus) Install(ctx context.Context) {
	b.mu.RLock()
	eps := make([]*Endpoint, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		eps = append(eps, ep)
	}
	b.mu.RUnlock()

	for _, ep := range eps {
		ep.fireInstalled(ctx)
	}
}

func (b *Bus) sendRuntime(ctx context.Context, from *Endpoint, packet transport.Packet) error {
	b.mu.RLock()
	receivers := make([]*Endpoint, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		if ep != from && ep.location.Runtime() {
			receivers = append(receivers, ep)
		}
	}
	b.mu.RUnlock()

	b.metrics.RecordRuntimeSend()

	if len(receivers) == 0 {
		b.metrics.RecordDropped(1)
		return transport.ErrNoReceiver
	}

	d := delivery{packet: packet, sender: from.sender()}
	var errs []error
	delivered := 0
	for _, ep := range receivers {
		if err := b.deliver(ctx, ep, d); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (b *Bus) sendTab(ctx context.Context, from *Endpoint, tabID int, packet transport.Packet) error {
	b.mu.RLock()
	ep, exists := b.tabs[tabID]
	b.mu.RUnlock()

	b.metrics.RecordTabSend()

	if !exists {
		b.metrics.RecordDropped(1)
		return fmt.Errorf("%w: %d", transport.ErrNoActiveTab, tabID)
	}
	return b.deliver(ctx, ep, delivery{packet: packet, sender: from.sender()})
}

func (b *Bus) deliver(ctx context.Context, ep *Endpoint, d delivery) error {
	sendCtx, cancel := context.WithTimeout(ctx, b.deliveryTimeout)
	defer cancel()

	if err := ep.inbox.Send(sendCtx, d); err != nil {
		b.metrics.RecordDropped(1)
		b.logger.WarnContext(ctx, "failed to deliver packet",
			slog.String("bus_name", b.name),
			slog.String("to", string(ep.location)),
			slog.Int("tab_id", ep.tabID),
			slog.String("message", d.packet.Message.Name),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to deliver to %s: %w", ep.location, err)
	}
	return nil
}

func (b *Bus) Metrics() MetricsSnapshot {
	return b.metrics.Snapshot()
}

// Shutdown closes every endpoint and waits for their loops to exit.
func (b *Bus) Shutdown(timeout time.Duration) error {
	b.logger.DebugContext(b.ctx, "shutting down bus", slog.String("bus_name", b.name))
	b.cancel()

	b.mu.RLock()
	eps := make([]*Endpoint, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		eps = append(eps, ep)
	}
	b.mu.RUnlock()

	for _, ep := range eps {
		ep.inbox.Close()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("bus shutdown timeout after %v", timeout)
	}
}

// Endpoint is one context's attachment to the bus. It implements
// transport.RuntimeProxy.
type Endpoint struct {
	bus      *Bus
	id       int
	location route.Location
	tabID    int
	inbox    *Queue[delivery]

	mu        sync.RWMutex
	handlers  map[int]transport.Handler
	nextID    int
	installed []func(ctx context.Context)
}

func newEndpoint(b *Bus, id int, loc route.Location, tabID int) *Endpoint {
	return &Endpoint{
		bus:      b,
		id:       id,
		location: loc,
		tabID:    tabID,
		inbox:    NewQueue[delivery](b.ctx, b.channelBufferSize),
		handlers: make(map[int]transport.Handler),
	}
}

func (e *Endpoint) Location() route.Location { return e.location }
func (e *Endpoint) TabID() int               { return e.tabID }

func (e *Endpoint) sender() transport.Sender {
	s := transport.Sender{Location: e.location, TabID: e.tabID}
	switch {
	case e.location == route.Background:
		s.ClientID = transport.BackgroundID
	case e.tabID > 0:
		s.ClientID = strconv.Itoa(e.tabID)
	}
	return s
}

func (e *Endpoint) SendMessageToTab(ctx context.Context, tabID int, packet transport.Packet) error {
	if e.inbox.IsClosed() {
		return ErrClosed
	}
	return e.bus.sendTab(ctx, e, tabID, packet)
}

func (e *Endpoint) SendMessageToRuntime(ctx context.Context, packet transport.Packet) error {
	if e.inbox.IsClosed() {
		return ErrClosed
	}
	return e.bus.sendRuntime(ctx, e, packet)
}

func (e *Endpoint) OnInstalled(handler func(ctx context.Context)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.installed = append(e.installed, handler)
}

func (e *Endpoint) OnMessage(handler transport.Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.handlers[id] = handler

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers, id)
	}
}

// Close detaches the endpoint. Packets already queued are discarded.
func (e *Endpoint) Close() {
	e.bus.detach(e)
	e.inbox.Close()
}

func (e *Endpoint) fireInstalled(ctx context.Context) {
	e.mu.RLock()
	callbacks := append([]func(ctx context.Context){}, e.installed...)
	e.mu.RUnlock()

	for _, cb := range callbacks {
		cb(ctx)
	}
}

// loop dispatches inbound packets to handlers one at a time, preserving
// arrival order for this endpoint.
func (e *Endpoint) loop() {
	defer e.bus.wg.Done()

	for {
		d, err := e.inbox.Receive(e.bus.ctx)
		if err != nil {
			return
		}
		if e.inbox.IsClosed() {
			continue
		}

		e.mu.RLock()
		handlers := make([]transport.Handler, 0, len(e.handlers))
		for _, h := range e.handlers {
			handlers = append(handlers, h)
		}
		e.mu.RUnlock()

		if len(handlers) == 0 {
			e.bus.metrics.RecordDropped(1)
			continue
		}

		for _, h := range handlers {
			h(e.bus.ctx, d.packet, d.sender)
		}
		e.bus.metrics.RecordDelivered(1)
	}
}
