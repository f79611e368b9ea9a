package transport

import "context"

// Handler receives packets from a RuntimeProxy together with the sender
// identity the transport observed.
type Handler func(ctx context.Context, packet Packet, sender Sender)

// RuntimeProxy is the seam to the host's messaging primitives. The runtime
// channel reaches the popup and background contexts; tab channels reach one
// content context each.
type RuntimeProxy interface {
	SendMessageToTab(ctx context.Context, tabID int, packet Packet) error
	SendMessageToRuntime(ctx context.Context, packet Packet) error

	// OnInstalled registers a callback for the host's install event.
	OnInstalled(handler func(ctx context.Context))

	// OnMessage registers an inbound handler and returns its unregister func.
	OnMessage(handler Handler) (cancel func())
}

// Endpoint accepts a ClientMessage in-process, bypassing serialization.
// Nested API clients are reached through endpoints.
type Endpoint interface {
	Deliver(ctx context.Context, cm ClientMessage) error
}
