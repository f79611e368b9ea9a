package client

import (
	"context"

	"github.com/tailored-agentic-units/switchboard/transport"
)

type inboundKey struct{}

// WithInbound attaches the ClientMessage being dispatched to ctx so state
// effects can reach its sender.
func WithInbound(ctx context.Context, cm transport.ClientMessage) context.Context {
	return context.WithValue(ctx, inboundKey{}, cm)
}

// Inbound returns the ClientMessage a state effect is running for.
func Inbound(ctx context.Context) (transport.ClientMessage, bool) {
	cm, ok := ctx.Value(inboundKey{}).(transport.ClientMessage)
	return cm, ok
}
