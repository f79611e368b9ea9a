package bus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/switchboard/config"
	"github.com/tailored-agentic-units/switchboard/message"
	"github.com/tailored-agentic-units/switchboard/route"
	"github.com/tailored-agentic-units/switchboard/transport"
	"github.com/tailored-agentic-units/switchboard/transport/bus"
)

type inbox struct {
	mu      sync.Mutex
	packets []transport.Packet
	senders []transport.Sender
	signal  chan struct{}
}

func listen(ep *bus.Endpoint) *inbox {
	in := &inbox{signal: make(chan struct{}, 100)}
	ep.OnMessage(func(ctx context.Context, p transport.Packet, s transport.Sender) {
		in.mu.Lock()
		in.packets = append(in.packets, p)
		in.senders = append(in.senders, s)
		in.mu.Unlock()
		in.signal <- struct{}{}
	})
	return in
}

func (in *inbox) wait(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-in.signal:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %d packets", n)
		}
	}
}

func (in *inbox) count() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.packets)
}

func createTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	cfg := config.DefaultBusConfig()
	cfg.Name = "test-bus"
	b := bus.New(context.Background(), cfg)
	t.Cleanup(func() { _ = b.Shutdown(5 * time.Second) })
	return b
}

func testPacket(t *testing.T, seq int) transport.Packet {
	t.Helper()
	env, err := message.New("ping", route.Popup).Attributes(map[string]any{"seq": seq}).Build()
	require.NoError(t, err)
	return transport.Packet{Path: "#x", Message: env.Record()}
}

func TestBus_Connect(t *testing.T) {
	b := createTestBus(t)

	_, err := b.Connect(route.Background, 0)
	require.NoError(t, err)
	_, err = b.Connect(route.Content, 42)
	require.NoError(t, err)

	_, err = b.Connect(route.Content, 42)
	assert.ErrorIs(t, err, bus.ErrTabInUse)

	_, err = b.Connect(route.Content, 0)
	assert.ErrorIs(t, err, transport.ErrInvalidTabID)

	_, err = b.Connect(route.API, 0)
	assert.ErrorIs(t, err, bus.ErrUnsupportedLocation)

	assert.Equal(t, []int{42}, b.Tabs())
	assert.Equal(t, int64(2), b.Metrics().Endpoints)
}

func TestBus_RuntimeReachesOtherRuntimeEndpoints(t *testing.T) {
	b := createTestBus(t)

	popup, err := b.Connect(route.Popup, 0)
	require.NoError(t, err)
	background, err := b.Connect(route.Background, 0)
	require.NoError(t, err)
	tab, err := b.Connect(route.Content, 7)
	require.NoError(t, err)

	popupIn := listen(popup)
	backgroundIn := listen(background)
	tabIn := listen(tab)

	require.NoError(t, tab.SendMessageToRuntime(context.Background(), testPacket(t, 1)))

	popupIn.wait(t, 1)
	backgroundIn.wait(t, 1)
	assert.Equal(t, 0, tabIn.count())

	backgroundIn.mu.Lock()
	sender := backgroundIn.senders[0]
	backgroundIn.mu.Unlock()
	assert.Equal(t, route.Content, sender.Location)
	assert.Equal(t, 7, sender.TabID)
	assert.Equal(t, "7", sender.ClientID)

	// The sender never hears its own runtime broadcast.
	require.NoError(t, popup.SendMessageToRuntime(context.Background(), testPacket(t, 2)))
	backgroundIn.wait(t, 1)
	assert.Equal(t, 1, popupIn.count())
}

func TestBus_TabDelivery(t *testing.T) {
	b := createTestBus(t)

	background, err := b.Connect(route.Background, 0)
	require.NoError(t, err)
	tab, err := b.Connect(route.Content, 3)
	require.NoError(t, err)
	tabIn := listen(tab)

	require.NoError(t, background.SendMessageToTab(context.Background(), 3, testPacket(t, 1)))
	tabIn.wait(t, 1)

	tabIn.mu.Lock()
	assert.Equal(t, transport.BackgroundID, tabIn.senders[0].ClientID)
	tabIn.mu.Unlock()

	err = background.SendMessageToTab(context.Background(), 99, testPacket(t, 1))
	assert.ErrorIs(t, err, transport.ErrNoActiveTab)
}

func TestBus_NoRuntimeReceiver(t *testing.T) {
	b := createTestBus(t)

	popup, err := b.Connect(route.Popup, 0)
	require.NoError(t, err)

	err = popup.SendMessageToRuntime(context.Background(), testPacket(t, 1))
	assert.ErrorIs(t, err, transport.ErrNoReceiver)
	assert.Equal(t, int64(1), b.Metrics().Dropped)
}

func TestBus_PreservesOrder(t *testing.T) {
	b := createTestBus(t)

	background, err := b.Connect(route.Background, 0)
	require.NoError(t, err)
	tab, err := b.Connect(route.Content, 1)
	require.NoError(t, err)
	tabIn := listen(tab)

	const n = 50
	for i := range n {
		require.NoError(t, background.SendMessageToTab(context.Background(), 1, testPacket(t, i)))
	}
	tabIn.wait(t, n)

	tabIn.mu.Lock()
	defer tabIn.mu.Unlock()
	for i, p := range tabIn.packets {
		assert.Equal(t, float64(i), p.Message.Attributes["seq"])
	}
}

func TestBus_CloseEndpoint(t *testing.T) {
	b := createTestBus(t)

	background, err := b.Connect(route.Background, 0)
	require.NoError(t, err)
	tab, err := b.Connect(route.Content, 5)
	require.NoError(t, err)

	tab.Close()
	assert.Empty(t, b.Tabs())
	assert.ErrorIs(t, tab.SendMessageToRuntime(context.Background(), testPacket(t, 1)), bus.ErrClosed)

	err = background.SendMessageToTab(context.Background(), 5, testPacket(t, 1))
	assert.ErrorIs(t, err, transport.ErrNoActiveTab)

	// The tab id is free again.
	_, err = b.Connect(route.Content, 5)
	assert.NoError(t, err)
}

func TestBus_Install(t *testing.T) {
	b := createTestBus(t)

	background, err := b.Connect(route.Background, 0)
	require.NoError(t, err)

	installed := 0
	background.OnInstalled(func(ctx context.Context) { installed++ })
	b.Install(context.Background())
	assert.Equal(t, 1, installed)
}

func TestBus_Shutdown(t *testing.T) {
	b := bus.New(context.Background(), config.DefaultBusConfig())
	_, err := b.Connect(route.Popup, 0)
	require.NoError(t, err)

	require.NoError(t, b.Shutdown(time.Second))

	_, err = b.Connect(route.Popup, 0)
	assert.ErrorIs(t, err, bus.ErrClosed)
}

func TestBus_WithMessengers(t *testing.T) {
	b := createTestBus(t)
	ctx := context.Background()

	bgEP, err := b.Connect(route.Background, 0)
	require.NoError(t, err)
	tabEP, err := b.Connect(route.Content, 12)
	require.NoError(t, err)

	background, err := transport.NewMessenger(config.ClientConfig{Location: "background"}, bgEP, nil)
	require.NoError(t, err)
	defer background.Close()

	content, err := transport.NewMessenger(config.ClientConfig{Location: "content", TabID: 12, ID: "12"}, tabEP, nil)
	require.NoError(t, err)
	defer content.Close()

	sub, cancel := content.OnReceive()
	defer cancel()

	env := message.MustOf(route.Background, message.Heartbeat{ClientID: "12"})
	require.NoError(t, background.SendMessage(ctx, "#wave", "12", env))

	select {
	case cm := <-sub:
		assert.Equal(t, "#wave", cm.Path)
		assert.Equal(t, env.Hash(), cm.Message.Hash())
		require.NotNil(t, cm.Sender)
		assert.Equal(t, route.Background, cm.Sender.Location)
	case <-time.After(time.Second):
		t.Fatal("content did not receive the message")
	}
}

func TestQueue(t *testing.T) {
	q := bus.NewQueue[int](context.Background(), 2)
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, 1))
	require.NoError(t, q.Send(ctx, 2))
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 2, q.BufferSize())

	timeout, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Send(timeout, 3), context.DeadlineExceeded)

	v, ok := q.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	q.Close()
	q.Close()
	assert.True(t, q.IsClosed())
	assert.ErrorIs(t, q.Send(ctx, 4), bus.ErrClosed)

	v, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, bus.ErrClosed)
}
