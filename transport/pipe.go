package transport

import (
	"context"
	"sync"

	"github.com/tailored-agentic-units/switchboard/route"
)

// Pipe is the RuntimeProxy of a nested API messenger. Outbound packets
// leave through the host's proxy; inbound messages arrive through Deliver
// when the host registers the pipe in its APIMap.
type Pipe struct {
	host RuntimeProxy

	mu       sync.RWMutex
	handlers map[int]Handler
	next     int
}

func NewPipe(host RuntimeProxy) *Pipe {
	return &Pipe{
		host:     host,
		handlers: make(map[int]Handler),
	}
}

func (p *Pipe) SendMessageToTab(ctx context.Context, tabID int, packet Packet) error {
	if p.host == nil {
		return ErrNoProxy
	}
	return p.host.SendMessageToTab(ctx, tabID, packet)
}

func (p *Pipe) SendMessageToRuntime(ctx context.Context, packet Packet) error {
	if p.host == nil {
		return ErrNoProxy
	}
	return p.host.SendMessageToRuntime(ctx, packet)
}

func (p *Pipe) OnInstalled(handler func(ctx context.Context)) {
	if p.host != nil {
		p.host.OnInstalled(handler)
	}
}

func (p *Pipe) OnMessage(handler Handler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.next
	p.next++
	p.handlers[id] = handler

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers, id)
	}
}

// Deliver serializes cm and hands it to the nested messenger. A pipe
// reaches exactly one messenger, so the packet travels unaddressed.
func (p *Pipe) Deliver(ctx context.Context, cm ClientMessage) error {
	packet, err := cm.Packet()
	if err != nil {
		return err
	}
	packet.ClientID = ""

	sender := Sender{Location: route.API}
	if cm.Sender != nil {
		sender = *cm.Sender
	}

	p.mu.RLock()
	handlers := make([]Handler, 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.mu.RUnlock()

	if len(handlers) == 0 {
		return ErrNoReceiver
	}
	for _, h := range handlers {
		h(ctx, packet, sender)
	}
	return nil
}
