package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/switchboard/config"
	"github.com/tailored-agentic-units/switchboard/message"
	"github.com/tailored-agentic-units/switchboard/observability"
	"github.com/tailored-agentic-units/switchboard/route"
)

// BackgroundID is the fixed client id of the background router.
const BackgroundID = "background"

// Messenger turns (path, client id, message) sends into RuntimeProxy calls
// and turns inbound packets into a ClientMessage stream.
//
// While a bootstrap is outstanding every inbound message other than the
// matching BootstrapResult is held in a backlog. The result is published
// first, then the backlog in arrival order.
type Messenger struct {
	location route.Location
	tabID    int
	target   route.Location
	proxy    RuntimeProxy
	clients  *ClientMap
	apis     *APIMap
	buffer   int
	logger   *slog.Logger
	observer observability.Observer

	idMu sync.RWMutex
	id   string

	recvMu    sync.Mutex
	subs      map[int]chan ClientMessage
	nextSub   int
	pending   map[string]chan message.BootstrapResult
	resolved  map[string]message.BootstrapResult
	buffering bool
	backlog   []ClientMessage
	closed    bool

	detach func()
}

// NewMessenger builds a messenger for the location in cfg and attaches it
// to proxy. A nil proxy is allowed for messengers that only deliver to
// in-process endpoints.
func NewMessenger(cfg config.ClientConfig, proxy RuntimeProxy, observer observability.Observer) (*Messenger, error) {
	defaults := config.DefaultClientConfig()
	defaults.Merge(&cfg)

	loc, err := route.ParseLocation(defaults.Location)
	if err != nil {
		return nil, err
	}

	if observer == nil {
		observer = observability.NoOpObserver{}
	}

	id := defaults.ID
	if loc == route.Background && id == "" {
		id = BackgroundID
	}

	m := &Messenger{
		location: loc,
		tabID:    defaults.TabID,
		target:   DefaultTarget(loc),
		proxy:    proxy,
		clients:  NewClientMap(),
		apis:     NewAPIMap(),
		buffer:   defaults.ReceiveBuffer,
		logger:   defaults.Logger,
		observer: observer,
		id:       id,
		subs:     make(map[int]chan ClientMessage),
		pending:  make(map[string]chan message.BootstrapResult),
		resolved: make(map[string]message.BootstrapResult),
	}

	if proxy != nil {
		m.detach = proxy.OnMessage(m.handlePacket)
	}
	return m, nil
}

// DefaultTarget is the location a client id resolves to when the client map
// has no entry for it.
func DefaultTarget(from route.Location) route.Location {
	if from == route.Background {
		return route.Content
	}
	return route.Background
}

func (m *Messenger) ID() string {
	m.idMu.RLock()
	defer m.idMu.RUnlock()
	return m.id
}

func (m *Messenger) SetID(id string) {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	m.id = id
}

func (m *Messenger) Location() route.Location { return m.location }
func (m *Messenger) TabID() int               { return m.tabID }
func (m *Messenger) Clients() *ClientMap      { return m.clients }
func (m *Messenger) APIs() *APIMap            { return m.apis }
func (m *Messenger) Proxy() RuntimeProxy      { return m.proxy }

// Sender is the identity this messenger presents on in-process deliveries.
func (m *Messenger) Sender() Sender {
	return Sender{ClientID: m.ID(), Location: m.location, TabID: m.tabID}
}

// Discovery resolves which location clientID lives at, as seen from here.
func (m *Messenger) Discovery(clientID string) route.Discovery {
	to, ok := m.clients.Get(clientID)
	switch {
	case ok:
	case m.apis.Has(clientID):
		to = route.API
	default:
		to = m.target
	}
	return route.Discovery{From: m.location, To: to}
}

// SendMessage delivers msg to clientID with the remaining path:
// popup and background over the runtime channel, content over the tab
// channel named by clientID, api through the hosted endpoint.
func (m *Messenger) SendMessage(ctx context.Context, path, clientID string, msg message.Message) error {
	if msg == nil {
		return ErrNilMessage
	}

	discovery := m.Discovery(clientID)
	if discovery.SelfLoop() {
		return fmt.Errorf("%w: %s (client %s)", ErrSelfLoop, discovery, clientID)
	}

	cm := ClientMessage{Path: path, ClientID: clientID, Message: msg}

	var err error
	switch discovery.To {
	case route.Popup, route.Background:
		err = m.sendRuntime(ctx, cm)
	case route.Content:
		tabID, convErr := strconv.Atoi(clientID)
		if convErr != nil || tabID <= 0 {
			return fmt.Errorf("%w: %q", ErrInvalidTabID, clientID)
		}
		err = m.sendTab(ctx, tabID, cm)
	case route.API:
		ep, ok := m.apis.Get(clientID)
		if !ok {
			return fmt.Errorf("%w: api %s", ErrUnknownClient, clientID)
		}
		sender := m.Sender()
		cm.Sender = &sender
		err = ep.Deliver(ctx, cm)
	default:
		return fmt.Errorf("%w: %s has no location", ErrUnknownClient, clientID)
	}

	if err != nil {
		return err
	}

	observability.Emit(ctx, m.observer, EventSend, observability.LevelVerbose, m.ID(), map[string]any{
		"message":   msg.Name(),
		"path":      path,
		"client_id": clientID,
		"route":     discovery.String(),
	})
	return nil
}

// Reply answers a message over the channel it arrived on.
func (m *Messenger) Reply(ctx context.Context, to Sender, path, clientID string, msg message.Message) error {
	if msg == nil {
		return ErrNilMessage
	}
	cm := ClientMessage{Path: path, ClientID: clientID, Message: msg}

	switch {
	case to.TabID > 0:
		return m.sendTab(ctx, to.TabID, cm)
	case to.Location == route.API:
		ep, ok := m.apis.Get(to.ClientID)
		if !ok {
			return fmt.Errorf("%w: api %s", ErrUnknownClient, to.ClientID)
		}
		sender := m.Sender()
		cm.Sender = &sender
		return ep.Deliver(ctx, cm)
	default:
		return m.sendRuntime(ctx, cm)
	}
}

func (m *Messenger) sendRuntime(ctx context.Context, cm ClientMessage) error {
	if m.proxy == nil {
		return ErrNoProxy
	}
	packet, err := cm.Packet()
	if err != nil {
		return err
	}
	return m.proxy.SendMessageToRuntime(ctx, packet)
}

func (m *Messenger) sendTab(ctx context.Context, tabID int, cm ClientMessage) error {
	if m.proxy == nil {
		return ErrNoProxy
	}
	packet, err := cm.Packet()
	if err != nil {
		return err
	}
	return m.proxy.SendMessageToTab(ctx, tabID, packet)
}

// OnReceive subscribes to inbound client messages. The returned func
// unsubscribes and closes the channel.
func (m *Messenger) OnReceive() (<-chan ClientMessage, func()) {
	m.recvMu.Lock()
	defer m.recvMu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan ClientMessage, m.buffer)
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	m.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.recvMu.Lock()
			defer m.recvMu.Unlock()
			if _, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Bootstrap sends payload to the background and waits for the
// BootstrapResult carrying the same nonce. A timed-out wait leaves the
// request pending, so a late result still resolves it; call
// CancelBootstrap to give up. Retrying a nonce whose result arrived in
// between returns that result without sending again.
func (m *Messenger) Bootstrap(ctx context.Context, payload message.Bootstrap) (message.BootstrapResult, error) {
	if payload.Nonce == "" {
		payload.Nonce = uuid.Must(uuid.NewV7()).String()
	}
	payload.Location = m.location
	payload.TabID = m.tabID

	waiter, result, done := m.await(payload.Nonce)
	if done {
		return result, nil
	}

	msg, err := message.Of(m.location, payload)
	if err != nil {
		return message.BootstrapResult{}, err
	}

	cm := ClientMessage{
		Path:     route.NewAddress().Machine(message.NameBootstrap).Path(),
		ClientID: BackgroundID,
		Message:  msg,
	}
	if err := m.sendRuntime(ctx, cm); err != nil {
		return message.BootstrapResult{}, fmt.Errorf("failed to send bootstrap: %w", err)
	}

	observability.Emit(ctx, m.observer, EventBootstrapSent, observability.LevelInfo, string(m.location), map[string]any{
		"nonce": payload.Nonce,
	})

	select {
	case result := <-waiter:
		m.recvMu.Lock()
		delete(m.resolved, payload.Nonce)
		m.recvMu.Unlock()
		return result, nil
	case <-ctx.Done():
		return message.BootstrapResult{}, fmt.Errorf("%w: %w", ErrBootstrapTimeout, ctx.Err())
	}
}

// await registers a waiter for nonce. When the result already arrived it
// is returned with done set and nothing is registered.
func (m *Messenger) await(nonce string) (chan message.BootstrapResult, message.BootstrapResult, bool) {
	m.recvMu.Lock()
	defer m.recvMu.Unlock()

	if result, ok := m.resolved[nonce]; ok {
		delete(m.resolved, nonce)
		return nil, result, true
	}

	waiter, ok := m.pending[nonce]
	if !ok {
		waiter = make(chan message.BootstrapResult, 1)
		m.pending[nonce] = waiter
	}
	m.buffering = true
	return waiter, message.BootstrapResult{}, false
}

// CancelBootstrap abandons the request for nonce. When nothing else is
// pending the backlog is released to subscribers. If the result for nonce
// arrived after the last wait gave up, it is returned with ok set.
func (m *Messenger) CancelBootstrap(ctx context.Context, nonce string) (message.BootstrapResult, bool) {
	m.recvMu.Lock()
	defer m.recvMu.Unlock()

	result, ok := m.resolved[nonce]
	delete(m.pending, nonce)
	delete(m.resolved, nonce)
	if len(m.pending) == 0 && m.buffering {
		m.flushLocked(ctx)
	}
	return result, ok
}

// Pending reports whether a bootstrap is outstanding.
func (m *Messenger) Pending() bool {
	m.recvMu.Lock()
	defer m.recvMu.Unlock()
	return m.buffering
}

func (m *Messenger) handlePacket(ctx context.Context, packet Packet, sender Sender) {
	cm, err := packet.Decode(&sender)
	if err != nil {
		m.drop(ctx, packet.Message.Name, err.Error())
		return
	}

	if !m.accepts(cm) {
		return
	}

	if err := m.Deliver(ctx, cm); err != nil {
		m.logger.WarnContext(ctx, "inbound delivery failed",
			slog.String("client_id", m.ID()),
			slog.String("message", cm.Message.Name()),
			slog.String("error", err.Error()),
		)
	}
}

// accepts filters runtime broadcasts addressed to another client.
// Bootstrap results are matched by nonce instead.
func (m *Messenger) accepts(cm ClientMessage) bool {
	if cm.Message.Name() == message.NameBootstrapResult {
		return true
	}
	return cm.ClientID == "" || cm.ClientID == m.ID()
}

// Deliver hands an inbound message to subscribers, or to the backlog while
// a bootstrap is outstanding.
func (m *Messenger) Deliver(ctx context.Context, cm ClientMessage) error {
	if cm.Message == nil {
		return ErrNilMessage
	}

	if cm.Message.Name() == message.NameBootstrapResult {
		return m.resolveBootstrap(ctx, cm)
	}

	m.recvMu.Lock()
	defer m.recvMu.Unlock()

	if m.buffering {
		m.backlog = append(m.backlog, cm)
		return nil
	}
	m.publishLocked(ctx, cm)
	return nil
}

func (m *Messenger) resolveBootstrap(ctx context.Context, cm ClientMessage) error {
	result, err := message.As[message.BootstrapResult](cm.Message)
	if err != nil {
		return err
	}

	m.recvMu.Lock()
	waiter, ok := m.pending[result.Nonce]
	if !ok {
		m.recvMu.Unlock()
		m.forwardToAPIs(ctx, cm)
		return nil
	}

	delete(m.pending, result.Nonce)
	m.resolved[result.Nonce] = result
	m.SetID(result.ClientID)
	m.clients.Merge(result.ClientMap)

	m.publishLocked(ctx, cm)
	backlog := len(m.backlog)
	if len(m.pending) == 0 {
		m.flushLocked(ctx)
	}
	m.recvMu.Unlock()

	select {
	case waiter <- result:
	default:
	}

	observability.Emit(ctx, m.observer, EventBootstrapResolved, observability.LevelInfo, result.ClientID, map[string]any{
		"nonce":   result.Nonce,
		"backlog": backlog,
		"clients": len(result.ClientMap),
	})
	return nil
}

// forwardToAPIs passes a bootstrap result this messenger does not own to
// its hosted endpoints; nested clients bootstrap through their host.
func (m *Messenger) forwardToAPIs(ctx context.Context, cm ClientMessage) {
	endpoints := m.apis.endpointsSnapshot()
	if len(endpoints) == 0 {
		m.drop(ctx, cm.Message.Name(), "no pending bootstrap for nonce")
		return
	}
	for _, ep := range endpoints {
		if err := ep.Deliver(ctx, cm); err != nil {
			m.logger.DebugContext(ctx, "bootstrap result not forwarded",
				slog.String("client_id", m.ID()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (m *Messenger) flushLocked(ctx context.Context) {
	backlog := m.backlog
	m.backlog = nil
	m.buffering = false

	for _, cm := range backlog {
		m.publishLocked(ctx, cm)
	}

	if len(backlog) > 0 {
		observability.Emit(ctx, m.observer, EventBacklogFlushed, observability.LevelVerbose, m.ID(), map[string]any{
			"count": len(backlog),
		})
	}
}

func (m *Messenger) publishLocked(ctx context.Context, cm ClientMessage) {
	observability.Emit(ctx, m.observer, EventReceive, observability.LevelVerbose, m.ID(), map[string]any{
		"message": cm.Message.Name(),
		"path":    cm.Path,
	})

	for id, ch := range m.subs {
		select {
		case ch <- cm:
		default:
			m.logger.WarnContext(ctx, "inbound message dropped for slow subscriber",
				slog.String("client_id", m.ID()),
				slog.Int("subscriber", id),
				slog.String("message", cm.Message.Name()),
			)
			m.drop(ctx, cm.Message.Name(), "subscriber full")
		}
	}
}

func (m *Messenger) drop(ctx context.Context, name, reason string) {
	m.logger.DebugContext(ctx, "inbound message dropped",
		slog.String("client_id", m.ID()),
		slog.String("message", name),
		slog.String("reason", reason),
	)
	observability.Emit(ctx, m.observer, EventDrop, observability.LevelVerbose, m.ID(), map[string]any{
		"message": name,
		"reason":  reason,
	})
}

// Close detaches from the proxy and closes every subscription.
func (m *Messenger) Close() {
	if m.detach != nil {
		m.detach()
	}

	m.recvMu.Lock()
	defer m.recvMu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}
