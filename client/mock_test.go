package client_test

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/tailored-agentic-units/switchboard/message"
	"github.com/tailored-agentic-units/switchboard/route"
	"github.com/tailored-agentic-units/switchboard/transport"
)

// MockMessenger is a testify double for client.Messenger. Identity and the
// routing maps are real; sends and bootstrap are mocked.
type MockMessenger struct {
	mock.Mock

	mu       sync.Mutex
	id       string
	location route.Location
	clients  *transport.ClientMap
	apis     *transport.APIMap
	inbound  chan transport.ClientMessage
}

func NewMockMessenger(id string, loc route.Location) *MockMessenger {
	return &MockMessenger{
		id:       id,
		location: loc,
		clients:  transport.NewClientMap(),
		apis:     transport.NewAPIMap(),
		inbound:  make(chan transport.ClientMessage, 16),
	}
}

func (m *MockMessenger) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

func (m *MockMessenger) SetID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = id
}

func (m *MockMessenger) Location() route.Location      { return m.location }
func (m *MockMessenger) Clients() *transport.ClientMap { return m.clients }
func (m *MockMessenger) APIs() *transport.APIMap       { return m.apis }

func (m *MockMessenger) SendMessage(ctx context.Context, path, clientID string, msg message.Message) error {
	args := m.Called(ctx, path, clientID, msg)
	return args.Error(0)
}

func (m *MockMessenger) Reply(ctx context.Context, to transport.Sender, path, clientID string, msg message.Message) error {
	args := m.Called(ctx, to, path, clientID, msg)
	return args.Error(0)
}

func (m *MockMessenger) OnReceive() (<-chan transport.ClientMessage, func()) {
	return m.inbound, func() {}
}

func (m *MockMessenger) Bootstrap(ctx context.Context, payload message.Bootstrap) (message.BootstrapResult, error) {
	args := m.Called(ctx, payload)
	return args.Get(0).(message.BootstrapResult), args.Error(1)
}

func (m *MockMessenger) CancelBootstrap(ctx context.Context, nonce string) (message.BootstrapResult, bool) {
	args := m.Called(ctx, nonce)
	if len(args) == 0 {
		return message.BootstrapResult{}, false
	}
	return args.Get(0).(message.BootstrapResult), args.Bool(1)
}

// Push queues an inbound message for Client.Run.
func (m *MockMessenger) Push(cm transport.ClientMessage) {
	m.inbound <- cm
}
