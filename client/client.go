// Package client implements the addressable participant: a messenger, a set
// of named state machines, and the path resolution that decides whether a
// message is handled here or forwarded to the next hop.
//
// A client initializes from configuration via New. Functional options allow
// tests to override the observer, diagnostics, and tracer.
//
//	c, err := client.New(&cfg, messenger)
//	err = c.AddMachine(machine)
//	err = c.Initialize(ctx)
//	go c.Run(ctx)
//	err = c.Send(ctx, "background/42#content-wave", catalog.Start{})
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tailored-agentic-units/switchboard/config"
	"github.com/tailored-agentic-units/switchboard/message"
	"github.com/tailored-agentic-units/switchboard/observability"
	"github.com/tailored-agentic-units/switchboard/route"
	"github.com/tailored-agentic-units/switchboard/state"
	"github.com/tailored-agentic-units/switchboard/transport"
)

const tracerName = "github.com/tailored-agentic-units/switchboard/client"

// Messenger abstracts the transport seam for testability.
// *transport.Messenger is the production implementation.
type Messenger interface {
	ID() string
	SetID(id string)
	Location() route.Location
	Clients() *transport.ClientMap
	APIs() *transport.APIMap
	SendMessage(ctx context.Context, path, clientID string, msg message.Message) error
	Reply(ctx context.Context, to transport.Sender, path, clientID string, msg message.Message) error
	OnReceive() (<-chan transport.ClientMessage, func())
	Bootstrap(ctx context.Context, payload message.Bootstrap) (message.BootstrapResult, error)
	CancelBootstrap(ctx context.Context, nonce string) (message.BootstrapResult, bool)
}

// Option configures a Client after config-driven initialization.
type Option func(*Client)

// WithObserver overrides the config-resolved observer.
func WithObserver(o observability.Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithDiagnostics shares a diagnostics registry between clients.
func WithDiagnostics(d *message.Diagnostics) Option {
	return func(c *Client) { c.diagnostics = d }
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithMachines registers machines at construction.
func WithMachines(machines ...*state.Machine) Option {
	return func(c *Client) {
		for _, m := range machines {
			c.machines[m.Name()] = m
		}
	}
}

// Client is one addressable participant: popup, background, a content
// script, or a hosted API.
type Client struct {
	cfg       config.ClientConfig
	location  route.Location
	messenger Messenger

	observer    observability.Observer
	diagnostics *message.Diagnostics
	tracer      trace.Tracer
	logger      *slog.Logger

	machinesMu sync.RWMutex
	machines   map[string]*state.Machine

	// api name -> id of the client hosting it
	remoteMu   sync.RWMutex
	remoteAPIs map[string]string

	statusMu sync.RWMutex
	status   Status

	recv   <-chan transport.ClientMessage
	cancel func()
}

// New creates a Client over messenger. The client subscribes to the
// messenger's inbound stream immediately; Run consumes it.
func New(cfg *config.ClientConfig, messenger Messenger, opts ...Option) (*Client, error) {
	if messenger == nil {
		return nil, errors.New("client requires a messenger")
	}

	defaults := config.DefaultClientConfig()
	if cfg != nil {
		defaults.Merge(cfg)
	}

	observer, err := observability.GetObserver(defaults.Observer)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve observer: %w", err)
	}

	c := &Client{
		cfg:        defaults,
		location:   messenger.Location(),
		messenger:  messenger,
		observer:   observer,
		tracer:     otel.Tracer(tracerName),
		logger:     defaults.Logger,
		machines:   make(map[string]*state.Machine),
		remoteAPIs: make(map[string]string),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.diagnostics == nil {
		c.diagnostics = message.NewDiagnostics(config.DefaultTrackingConfig(), c.logger, c.observer)
	}

	c.recv, c.cancel = messenger.OnReceive()
	return c, nil
}

func (c *Client) ID() string                        { return c.messenger.ID() }
func (c *Client) Location() route.Location          { return c.location }
func (c *Client) Messenger() Messenger              { return c.messenger }
func (c *Client) Diagnostics() *message.Diagnostics { return c.diagnostics }

func (c *Client) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

func (c *Client) updateStatus(next func(Status) Status) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.status = next(c.status)
}

// AddMachine registers m under its name.
func (c *Client) AddMachine(m *state.Machine) error {
	c.machinesMu.Lock()
	defer c.machinesMu.Unlock()

	if _, exists := c.machines[m.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMachine, m.Name())
	}
	c.machines[m.Name()] = m
	return nil
}

func (c *Client) Machine(name string) (*state.Machine, bool) {
	c.machinesMu.RLock()
	defer c.machinesMu.RUnlock()
	m, ok := c.machines[name]
	return m, ok
}

// Machines returns the registered machine names, sorted.
func (c *Client) Machines() []string {
	c.machinesMu.RLock()
	defer c.machinesMu.RUnlock()
	return slices.Sorted(maps.Keys(c.machines))
}

// HostAPI registers an API endpoint hosted by this client. Paths whose next
// hop is name are delivered to ep.
func (c *Client) HostAPI(name string, ep transport.Endpoint) {
	c.messenger.APIs().Set(name, ep)
}

// RemoteAPIs returns the api name to host client id directory learned from
// bootstrap.
func (c *Client) RemoteAPIs() map[string]string {
	c.remoteMu.RLock()
	defer c.remoteMu.RUnlock()
	return maps.Clone(c.remoteAPIs)
}

// Initialize bootstraps a non-background client: it asks the background
// for an id and waits for the answer. Each attempt waits BootstrapTimeout;
// failed attempts are retried BootstrapRetries times with exponential
// backoff, all under one nonce. A result that lands between attempts is
// adopted without another request. The background client is its own
// authority and connects immediately.
func (c *Client) Initialize(ctx context.Context) error {
	if c.location == route.Background {
		c.updateStatus(func(Status) Status { return StatusConnected })
		return nil
	}

	nonce := uuid.Must(uuid.NewV7()).String()
	payload := message.Bootstrap{Nonce: nonce, Location: c.location, TabID: c.cfg.TabID}

	backoff := c.cfg.BootstrapBackoff.Std()
	attempts := max(c.cfg.BootstrapRetries, 0) + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.BootstrapTimeout.Std())
		result, err := c.messenger.Bootstrap(attemptCtx, payload)
		cancel()

		if err == nil {
			c.connect(ctx, result, attempt)
			return nil
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}

		observability.Emit(ctx, c.observer, EventBootstrapRetry, observability.LevelWarning, c.source(), map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		})
		c.logger.WarnContext(ctx, "bootstrap attempt failed",
			slog.String("location", c.location.String()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		if attempt == attempts {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		backoff = min(backoff*2, c.cfg.BootstrapMaxBackoff.Std())
	}

	if result, ok := c.messenger.CancelBootstrap(context.WithoutCancel(ctx), nonce); ok {
		c.connect(ctx, result, attempts)
		return nil
	}
	c.updateStatus(Status.failed)

	observability.Emit(ctx, c.observer, EventBootstrapFail, observability.LevelError, c.source(), map[string]any{
		"attempts": attempts,
		"error":    lastErr.Error(),
	})

	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", transport.ErrBootstrapTimeout, ctx.Err())
	}
	return fmt.Errorf("%w after %d attempts: %w", transport.ErrBootstrapTimeout, attempts, lastErr)
}

func (c *Client) connect(ctx context.Context, result message.BootstrapResult, attempt int) {
	c.adopt(ctx, result)
	c.updateStatus(func(Status) Status { return StatusConnected })

	observability.Emit(ctx, c.observer, EventBootstrap, observability.LevelInfo, c.source(), map[string]any{
		"client_id": result.ClientID,
		"attempt":   attempt,
		"apis":      len(result.APIMap),
	})
}

func (c *Client) adopt(ctx context.Context, result message.BootstrapResult) {
	if result.ClientID != "" {
		c.messenger.SetID(result.ClientID)
	}
	c.messenger.Clients().Merge(result.ClientMap)

	c.remoteMu.Lock()
	maps.Copy(c.remoteAPIs, result.APIMap)
	c.remoteMu.Unlock()

	c.logger.DebugContext(ctx, "bootstrap adopted",
		slog.String("client_id", result.ClientID),
		slog.Int("clients", len(result.ClientMap)),
		slog.Int("apis", len(result.APIMap)),
	)
}

// Send builds a message from payload, stamped with this client's location
// and id, and routes it along path.
func (c *Client) Send(ctx context.Context, path string, payload message.Payload) error {
	env, err := message.New(payload.MessageName(), c.location).
		ClientID(c.ID()).
		Attributes(payload).
		Build()
	if err != nil {
		return err
	}
	return c.SendMessage(ctx, transport.ClientMessage{Path: path, Message: env})
}

// SendMessage routes cm by its path:
//   - no hops, or a first hop naming this client: dispatch to the machine
//     named after '#' (the default machine when empty)
//   - a first hop naming a hosted API: deliver the remaining path to it
//   - a first hop naming an API hosted elsewhere: hand the whole path to
//     its host
//   - otherwise: send the remaining path to the first hop over the
//     messenger
//
// Every message is tracked by the diagnostics registry first.
func (c *Client) SendMessage(ctx context.Context, cm transport.ClientMessage) error {
	if cm.Message == nil {
		return transport.ErrNilMessage
	}

	ctx, span := c.tracer.Start(ctx, "switchboard.send", trace.WithAttributes(
		attribute.String("switchboard.path", cm.Path),
		attribute.String("switchboard.message", cm.Message.Name()),
		attribute.String("switchboard.location", c.location.String()),
	))
	defer span.End()

	report := c.diagnostics.Track(ctx, cm.Message)
	span.SetAttributes(attribute.String("switchboard.hash", report.Hash))

	err := c.route(ctx, cm)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		observability.Emit(ctx, c.observer, EventRouteFailed, observability.LevelWarning, c.source(), map[string]any{
			"path":    cm.Path,
			"message": cm.Message.Name(),
			"error":   err.Error(),
		})
	}
	return err
}

func (c *Client) route(ctx context.Context, cm transport.ClientMessage) error {
	addr, err := route.Parse(cm.Path)
	if err != nil {
		return &RouteError{Path: cm.Path, Err: err}
	}

	self := c.ID()
	hop, ok := addr.First()
	if !ok || hop == self {
		if err := c.dispatchLocal(ctx, addr.Machine, cm); err != nil {
			return &RouteError{Path: cm.Path, Hop: hop, Err: err}
		}
		return nil
	}

	next, target := addr.Rest().String(), hop
	if !c.messenger.APIs().Has(hop) {
		c.remoteMu.RLock()
		host, remote := c.remoteAPIs[hop]
		c.remoteMu.RUnlock()
		if remote && host != self {
			next, target = addr.String(), host
		}
	}

	c.logger.DebugContext(ctx, "forwarding message",
		slog.String("path", cm.Path),
		slog.String("hop", target),
		slog.String("message", cm.Message.Name()),
	)

	if err := c.messenger.SendMessage(ctx, next, target, cm.Message); err != nil {
		c.updateStatus(Status.failed)
		return &RouteError{Path: cm.Path, Hop: target, Err: err}
	}
	c.updateStatus(Status.sent)

	observability.Emit(ctx, c.observer, EventForward, observability.LevelVerbose, c.source(), map[string]any{
		"path":    cm.Path,
		"hop":     target,
		"message": cm.Message.Name(),
	})
	return nil
}

func (c *Client) dispatchLocal(ctx context.Context, machine string, cm transport.ClientMessage) error {
	if machine == "" {
		machine = c.cfg.DefaultMachine
	}

	m, ok := c.Machine(machine)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMachine, machine)
	}

	current, err := m.HandleState(WithInbound(ctx, cm), cm.Message)
	if err != nil {
		return err
	}

	observability.Emit(ctx, c.observer, EventDispatch, observability.LevelVerbose, c.source(), map[string]any{
		"machine": machine,
		"message": cm.Message.Name(),
		"state":   string(current.Name),
	})
	return nil
}

// Dispatch handles one inbound ClientMessage. Protocol results addressed to
// this client itself are consumed here: BootstrapResult extends the API
// directory, HeartbeatResult refreshes the client map, and Failure is
// logged. Everything else is routed like an outbound send. A routing
// failure is reported to the sender with a Failure message.
func (c *Client) Dispatch(ctx context.Context, cm transport.ClientMessage) error {
	if cm.Message == nil {
		return transport.ErrNilMessage
	}
	c.updateStatus(Status.received)

	if cm.Path == "" {
		if consumed := c.consume(ctx, cm); consumed {
			return nil
		}
	}

	err := c.SendMessage(ctx, cm)
	if err != nil && cm.Sender != nil && cm.Message.Name() != message.NameFailure {
		c.reportFailure(ctx, cm, err)
	}
	return err
}

func (c *Client) consume(ctx context.Context, cm transport.ClientMessage) bool {
	switch cm.Message.Name() {
	case message.NameBootstrapResult:
		result, err := message.As[message.BootstrapResult](cm.Message)
		if err != nil {
			c.logger.WarnContext(ctx, "malformed bootstrap result", slog.String("error", err.Error()))
			return true
		}
		c.remoteMu.Lock()
		maps.Copy(c.remoteAPIs, result.APIMap)
		c.remoteMu.Unlock()
		return true

	case message.NameHeartbeatResult:
		result, err := message.As[message.HeartbeatResult](cm.Message)
		if err != nil {
			c.logger.WarnContext(ctx, "malformed heartbeat result", slog.String("error", err.Error()))
			return true
		}
		c.messenger.Clients().Merge(result.ClientMap)

		observability.Emit(ctx, c.observer, EventClientMap, observability.LevelVerbose, c.source(), map[string]any{
			"clients": c.messenger.Clients().Len(),
		})
		return true

	case message.NameFailure:
		failure, _ := message.As[message.Failure](cm.Message)
		c.updateStatus(Status.failed)
		c.logger.WarnContext(ctx, "peer reported failure",
			slog.String("path", failure.Path),
			slog.String("reason", failure.Reason),
		)
		observability.Emit(ctx, c.observer, EventFailure, observability.LevelWarning, c.source(), map[string]any{
			"path":   failure.Path,
			"reason": failure.Reason,
		})
		return true
	}
	return false
}

func (c *Client) reportFailure(ctx context.Context, cm transport.ClientMessage, cause error) {
	env, err := message.New(message.NameFailure, c.location).
		ClientID(c.ID()).
		Attributes(message.Failure{Path: cm.Path, Reason: cause.Error()}).
		Build()
	if err != nil {
		return
	}

	if err := c.messenger.Reply(ctx, *cm.Sender, "", cm.Sender.ClientID, env); err != nil {
		c.logger.DebugContext(ctx, "failure report undeliverable",
			slog.String("to", cm.Sender.ClientID),
			slog.String("error", err.Error()),
		)
	}
}

// Run dispatches inbound messages until ctx ends or the messenger closes
// the stream. Dispatch errors are logged.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cm, ok := <-c.recv:
			if !ok {
				return nil
			}
			if err := c.Dispatch(ctx, cm); err != nil {
				c.logger.WarnContext(ctx, "inbound dispatch failed",
					slog.String("client", c.ID()),
					slog.String("path", cm.Path),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Heartbeat asks the background for a fresh client map.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.Send(ctx, route.NewAddress().Hop(transport.BackgroundID).Machine(message.NameHeartbeat).Path(),
		message.Heartbeat{ClientID: c.ID()})
}

// Close stops receiving. Machines and the messenger are left to their owners.
func (c *Client) Close() {
	c.cancel()
}

func (c *Client) source() string {
	if id := c.ID(); id != "" {
		return id
	}
	return c.location.String()
}
