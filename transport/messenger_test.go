package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/switchboard/config"
	"github.com/tailored-agentic-units/switchboard/message"
	"github.com/tailored-agentic-units/switchboard/route"
	"github.com/tailored-agentic-units/switchboard/transport"
)

type ping struct {
	Seq int `json:"seq"`
}

func (ping) MessageName() string { return "ping" }

func newMessenger(t *testing.T, loc route.Location, id string, proxy transport.RuntimeProxy) *transport.Messenger {
	t.Helper()
	cfg := config.ClientConfig{Location: string(loc), ID: id}
	m, err := transport.NewMessenger(cfg, proxy, nil)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func packetFor(t *testing.T, path, clientID string, msg message.Message) transport.Packet {
	t.Helper()
	p, err := transport.ClientMessage{Path: path, ClientID: clientID, Message: msg}.Packet()
	require.NoError(t, err)
	return p
}

func receive(t *testing.T, ch <-chan transport.ClientMessage) transport.ClientMessage {
	t.Helper()
	select {
	case cm := <-ch:
		return cm
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return transport.ClientMessage{}
	}
}

func assertEmpty(t *testing.T, ch <-chan transport.ClientMessage) {
	t.Helper()
	select {
	case cm := <-ch:
		t.Fatalf("unexpected message %s", cm.Message.Name())
	default:
	}
}

func TestNewMessenger_InvalidLocation(t *testing.T) {
	_, err := transport.NewMessenger(config.ClientConfig{Location: "sidebar"}, nil, nil)
	assert.ErrorIs(t, err, route.ErrInvalidLocation)
}

func TestNewMessenger_BackgroundID(t *testing.T) {
	m := newMessenger(t, route.Background, "", nil)
	assert.Equal(t, transport.BackgroundID, m.ID())
}

func TestMessenger_SendToBackgroundUsesRuntime(t *testing.T) {
	proxy := &MockProxy{}
	proxy.On("SendMessageToRuntime", mock.Anything, mock.MatchedBy(func(p transport.Packet) bool {
		return p.Path == "#heartbeat" && p.ClientID == transport.BackgroundID && p.Message.Name == "ping"
	})).Return(nil).Once()

	m := newMessenger(t, route.Popup, "popup-1", proxy)
	err := m.SendMessage(context.Background(), "#heartbeat", transport.BackgroundID, message.MustOf(route.Popup, ping{}))
	require.NoError(t, err)
	proxy.AssertExpectations(t)
}

func TestMessenger_SendToContentUsesTab(t *testing.T) {
	proxy := &MockProxy{}
	proxy.On("SendMessageToTab", mock.Anything, 42, mock.AnythingOfType("transport.Packet")).Return(nil).Once()

	m := newMessenger(t, route.Background, "", proxy)
	m.Clients().Set("42", route.Content)

	err := m.SendMessage(context.Background(), "#wave", "42", message.MustOf(route.Background, ping{}))
	require.NoError(t, err)
	proxy.AssertExpectations(t)
}

func TestMessenger_SendErrors(t *testing.T) {
	ctx := context.Background()
	msg := message.MustOf(route.Background, ping{})

	tests := []struct {
		name     string
		loc      route.Location
		clientID string
		setup    func(m *transport.Messenger)
		wantErr  error
	}{
		{
			name:     "non-numeric tab id",
			loc:      route.Background,
			clientID: "not-a-tab",
			wantErr:  transport.ErrInvalidTabID,
		},
		{
			name:     "zero tab id",
			loc:      route.Background,
			clientID: "0",
			wantErr:  transport.ErrInvalidTabID,
		},
		{
			name:     "self loop",
			loc:      route.Popup,
			clientID: "popup-2",
			setup:    func(m *transport.Messenger) { m.Clients().Set("popup-2", route.Popup) },
			wantErr:  transport.ErrSelfLoop,
		},
		{
			name:     "unknown api",
			loc:      route.Popup,
			clientID: "ghost",
			setup:    func(m *transport.Messenger) { m.Clients().Set("ghost", route.API) },
			wantErr:  transport.ErrUnknownClient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMessenger(t, tt.loc, "", &MockProxy{})
			if tt.setup != nil {
				tt.setup(m)
			}
			err := m.SendMessage(ctx, "#x", tt.clientID, msg)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	m := newMessenger(t, route.Popup, "", &MockProxy{})
	assert.ErrorIs(t, m.SendMessage(ctx, "#x", "background", nil), transport.ErrNilMessage)
}

func TestMessenger_ProxyErrorReturned(t *testing.T) {
	proxy := &MockProxy{}
	proxy.On("SendMessageToTab", mock.Anything, 7, mock.Anything).Return(transport.ErrNoActiveTab)

	m := newMessenger(t, route.Background, "", proxy)
	err := m.SendMessage(context.Background(), "#x", "7", message.MustOf(route.Background, ping{}))
	assert.ErrorIs(t, err, transport.ErrNoActiveTab)
}

func TestMessenger_NoProxy(t *testing.T) {
	m := newMessenger(t, route.Popup, "", nil)
	err := m.SendMessage(context.Background(), "#x", "background", message.MustOf(route.Popup, ping{}))
	assert.ErrorIs(t, err, transport.ErrNoProxy)
}

func TestMessenger_FiltersByTarget(t *testing.T) {
	proxy := &MockProxy{}
	m := newMessenger(t, route.Popup, "popup-1", proxy)
	sub, cancel := m.OnReceive()
	defer cancel()

	ctx := context.Background()
	msg := message.MustOf(route.Content, ping{})
	sender := transport.Sender{Location: route.Content, TabID: 3}

	proxy.Inject(ctx, packetFor(t, "#x", transport.BackgroundID, msg), sender)
	assertEmpty(t, sub)

	proxy.Inject(ctx, packetFor(t, "#x", "popup-1", msg), sender)
	got := receive(t, sub)
	require.NotNil(t, got.Sender)
	assert.Equal(t, 3, got.Sender.TabID)

	proxy.Inject(ctx, packetFor(t, "#x", "", msg), sender)
	receive(t, sub)
}

func TestMessenger_BootstrapOrdering(t *testing.T) {
	proxy := &MockProxy{}
	m := newMessenger(t, route.Content, "", proxy)
	sub, cancel := m.OnReceive()
	defer cancel()

	ctx := context.Background()
	background := transport.Sender{ClientID: transport.BackgroundID, Location: route.Background}

	proxy.On("SendMessageToRuntime", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			packet := args.Get(1).(transport.Packet)
			require.Equal(t, "#bootstrap", packet.Path)
			nonce := packet.Message.Attributes["nonce"].(string)

			// Two ordinary messages race ahead of the handshake reply.
			proxy.Inject(ctx, packetFor(t, "#x", "", message.MustOf(route.Background, ping{Seq: 1})), background)
			proxy.Inject(ctx, packetFor(t, "#x", "", message.MustOf(route.Background, ping{Seq: 2})), background)

			result := message.MustOf(route.Background, message.BootstrapResult{
				Nonce:     nonce,
				ClientID:  "12",
				ClientMap: map[string]route.Location{"12": route.Content, "background": route.Background},
			})
			proxy.Inject(ctx, packetFor(t, "", "12", result), background)
		}).
		Return(nil).Once()

	result, err := m.Bootstrap(ctx, message.Bootstrap{})
	require.NoError(t, err)
	assert.Equal(t, "12", result.ClientID)
	assert.Equal(t, "12", m.ID())
	assert.False(t, m.Pending())

	loc, ok := m.Clients().Get("background")
	require.True(t, ok)
	assert.Equal(t, route.Background, loc)

	first := receive(t, sub)
	assert.Equal(t, message.NameBootstrapResult, first.Message.Name())

	for _, want := range []int{1, 2} {
		cm := receive(t, sub)
		got, err := message.As[ping](cm.Message)
		require.NoError(t, err)
		assert.Equal(t, want, got.Seq)
	}
}

func TestMessenger_BootstrapTimeoutAndCancel(t *testing.T) {
	proxy := &MockProxy{}
	proxy.On("SendMessageToRuntime", mock.Anything, mock.Anything).Return(nil)

	m := newMessenger(t, route.Popup, "", proxy)
	sub, cancel := m.OnReceive()
	defer cancel()

	ctx, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()

	_, err := m.Bootstrap(ctx, message.Bootstrap{Nonce: "n-1"})
	require.ErrorIs(t, err, transport.ErrBootstrapTimeout)
	assert.True(t, m.Pending())

	proxy.Inject(context.Background(), packetFor(t, "#x", "", message.MustOf(route.Background, ping{Seq: 9})), transport.Sender{})
	assertEmpty(t, sub)

	m.CancelBootstrap(context.Background(), "n-1")
	assert.False(t, m.Pending())
	cm := receive(t, sub)
	assert.Equal(t, "ping", cm.Message.Name())
}

func TestMessenger_LateBootstrapResultStillResolves(t *testing.T) {
	proxy := &MockProxy{}
	proxy.On("SendMessageToRuntime", mock.Anything, mock.Anything).Return(nil)

	m := newMessenger(t, route.Popup, "", proxy)

	ctx, stop := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer stop()
	_, err := m.Bootstrap(ctx, message.Bootstrap{Nonce: "late"})
	require.ErrorIs(t, err, transport.ErrBootstrapTimeout)

	result := message.MustOf(route.Background, message.BootstrapResult{Nonce: "late", ClientID: "popup-7"})
	proxy.Inject(context.Background(), packetFor(t, "", "popup-7", result), transport.Sender{Location: route.Background})

	assert.Equal(t, "popup-7", m.ID())
	assert.False(t, m.Pending())
}

func TestMessenger_APIThroughPipe(t *testing.T) {
	hostProxy := &MockProxy{}
	host := newMessenger(t, route.Popup, "popup-1", hostProxy)

	pipe := transport.NewPipe(hostProxy)
	child := newMessenger(t, route.API, "api-1", pipe)
	host.APIs().Set("editor", pipe)

	sub, cancel := child.OnReceive()
	defer cancel()

	err := host.SendMessage(context.Background(), "#selector", "editor", message.MustOf(route.Popup, ping{Seq: 4}))
	require.NoError(t, err)

	cm := receive(t, sub)
	assert.Equal(t, "#selector", cm.Path)
	require.NotNil(t, cm.Sender)
	assert.Equal(t, route.Popup, cm.Sender.Location)
	assert.Equal(t, "popup-1", cm.Sender.ClientID)
}

func TestMessenger_NestedBootstrapThroughHost(t *testing.T) {
	hostProxy := &MockProxy{}
	host := newMessenger(t, route.Popup, "popup-1", hostProxy)

	pipe := transport.NewPipe(hostProxy)
	child := newMessenger(t, route.API, "", pipe)
	host.APIs().Set("editor", pipe)

	hostProxy.On("SendMessageToRuntime", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			packet := args.Get(1).(transport.Packet)
			nonce := packet.Message.Attributes["nonce"].(string)
			assert.Equal(t, string(route.API), packet.Message.Attributes["location"])

			result := message.MustOf(route.Background, message.BootstrapResult{Nonce: nonce, ClientID: "api-9"})
			hostProxy.Inject(context.Background(), packetFor(t, "", "api-9", result), transport.Sender{Location: route.Background})
		}).
		Return(nil).Once()

	ctx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()

	result, err := child.Bootstrap(ctx, message.Bootstrap{})
	require.NoError(t, err)
	assert.Equal(t, "api-9", result.ClientID)
	assert.Equal(t, "api-9", child.ID())
	assert.Equal(t, "popup-1", host.ID())
}

func TestMessenger_Reply(t *testing.T) {
	proxy := &MockProxy{}
	proxy.On("SendMessageToTab", mock.Anything, 5, mock.Anything).Return(nil).Once()
	proxy.On("SendMessageToRuntime", mock.Anything, mock.Anything).Return(nil).Once()

	m := newMessenger(t, route.Background, "", proxy)
	ctx := context.Background()
	msg := message.MustOf(route.Background, ping{})

	require.NoError(t, m.Reply(ctx, transport.Sender{Location: route.Content, TabID: 5}, "", "5", msg))
	require.NoError(t, m.Reply(ctx, transport.Sender{Location: route.Popup}, "", "popup-1", msg))
	proxy.AssertExpectations(t)
}

func TestMessenger_CloseEndsSubscriptions(t *testing.T) {
	m := newMessenger(t, route.Popup, "", nil)
	sub, cancel := m.OnReceive()
	m.Close()
	cancel()

	_, open := <-sub
	assert.False(t, open)

	late, _ := m.OnReceive()
	_, open = <-late
	assert.False(t, open)
}

func TestClientMap(t *testing.T) {
	cm := transport.NewClientMap()
	cm.Set("1", route.Content)
	cm.Merge(map[string]route.Location{"popup-1": route.Popup, "1": route.Content})
	assert.Equal(t, 2, cm.Len())

	snap := cm.Snapshot()
	snap["x"] = route.API
	assert.Equal(t, 2, cm.Len())

	cm.Delete("1")
	_, ok := cm.Get("1")
	assert.False(t, ok)
}

func TestAPIMap(t *testing.T) {
	am := transport.NewAPIMap()
	am.Set("b", transport.NewPipe(nil))
	am.Set("a", transport.NewPipe(nil))
	assert.Equal(t, []string{"a", "b"}, am.Names())
	assert.True(t, am.Has("a"))

	am.Delete("a")
	assert.False(t, am.Has("a"))
}

func TestPipe_NoReceiver(t *testing.T) {
	pipe := transport.NewPipe(nil)
	err := pipe.Deliver(context.Background(), transport.ClientMessage{Message: message.MustOf(route.Popup, ping{})})
	assert.ErrorIs(t, err, transport.ErrNoReceiver)

	assert.ErrorIs(t, pipe.SendMessageToRuntime(context.Background(), transport.Packet{}), transport.ErrNoProxy)
}

func TestMessenger_RetryAfterLateResultDoesNotResend(t *testing.T) {
	proxy := &MockProxy{}
	proxy.On("SendMessageToRuntime", mock.Anything, mock.Anything).Return(nil).Once()

	m := newMessenger(t, route.Popup, "", proxy)

	ctx, stop := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer stop()
	_, err := m.Bootstrap(ctx, message.Bootstrap{Nonce: "between"})
	require.ErrorIs(t, err, transport.ErrBootstrapTimeout)

	result := message.MustOf(route.Background, message.BootstrapResult{Nonce: "between", ClientID: "popup-3"})
	proxy.Inject(context.Background(), packetFor(t, "", "popup-3", result), transport.Sender{Location: route.Background})

	got, err := m.Bootstrap(context.Background(), message.Bootstrap{Nonce: "between"})
	require.NoError(t, err)
	assert.Equal(t, "popup-3", got.ClientID)
	assert.False(t, m.Pending())
	proxy.AssertNumberOfCalls(t, "SendMessageToRuntime", 1)
}

func TestMessenger_CancelReportsResultThatArrived(t *testing.T) {
	proxy := &MockProxy{}
	proxy.On("SendMessageToRuntime", mock.Anything, mock.Anything).Return(nil)

	m := newMessenger(t, route.Popup, "", proxy)

	ctx, stop := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer stop()
	_, err := m.Bootstrap(ctx, message.Bootstrap{Nonce: "last"})
	require.ErrorIs(t, err, transport.ErrBootstrapTimeout)

	_, ok := m.CancelBootstrap(context.Background(), "other")
	assert.False(t, ok)

	result := message.MustOf(route.Background, message.BootstrapResult{Nonce: "last", ClientID: "popup-4"})
	proxy.Inject(context.Background(), packetFor(t, "", "popup-4", result), transport.Sender{Location: route.Background})

	got, ok := m.CancelBootstrap(context.Background(), "last")
	require.True(t, ok)
	assert.Equal(t, "popup-4", got.ClientID)

	_, ok = m.CancelBootstrap(context.Background(), "last")
	assert.False(t, ok)
}

func TestMessenger_StalledSubscriberDoesNotBlock(t *testing.T) {
	proxy := &MockProxy{}
	proxy.On("SendMessageToRuntime", mock.Anything, mock.Anything).Return(nil)

	cfg := config.ClientConfig{Location: string(route.Popup), ID: "popup-1", ReceiveBuffer: 1}
	m, err := transport.NewMessenger(cfg, proxy, nil)
	require.NoError(t, err)

	stalled, cancelStalled := m.OnReceive()
	live, cancelLive := m.OnReceive()
	defer cancelLive()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for seq := 1; seq <= 3; seq++ {
			cm := transport.ClientMessage{Path: "#x", Message: message.MustOf(route.Background, ping{Seq: seq})}
			assert.NoError(t, m.Deliver(context.Background(), cm))
			<-live
		}
		cancelStalled()
		m.Close()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("delivery blocked on a stalled subscriber")
	}

	cm, open := <-stalled
	require.True(t, open)
	got, err := message.As[ping](cm.Message)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Seq)

	_, open = <-stalled
	assert.False(t, open)

	ctx, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()
	_, err = m.Bootstrap(ctx, message.Bootstrap{Nonce: "after-stall"})
	assert.ErrorIs(t, err, transport.ErrBootstrapTimeout)
}
