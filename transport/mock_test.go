package transport_test

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/tailored-agentic-units/switchboard/transport"
)

// MockProxy is a testify double for transport.RuntimeProxy. Registered
// handlers are kept so tests can inject inbound packets.
type MockProxy struct {
	mock.Mock

	mu       sync.Mutex
	handlers []transport.Handler
}

func (m *MockProxy) SendMessageToTab(ctx context.Context, tabID int, packet transport.Packet) error {
	args := m.Called(ctx, tabID, packet)
	return args.Error(0)
}

func (m *MockProxy) SendMessageToRuntime(ctx context.Context, packet transport.Packet) error {
	args := m.Called(ctx, packet)
	return args.Error(0)
}

func (m *MockProxy) OnInstalled(handler func(ctx context.Context)) {}

func (m *MockProxy) OnMessage(handler transport.Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
	return func() {}
}

func (m *MockProxy) Inject(ctx context.Context, packet transport.Packet, sender transport.Sender) {
	m.mu.Lock()
	handlers := append([]transport.Handler(nil), m.handlers...)
	m.mu.Unlock()

	for _, h := range handlers {
		h(ctx, packet, sender)
	}
}
