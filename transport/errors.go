package transport

import "errors"

var (
	// Routing configuration errors. Returned immediately to the sender.
	ErrSelfLoop      = errors.New("discovery routes a client to its own location")
	ErrInvalidTabID  = errors.New("content client id is not a tab id")
	ErrUnknownClient = errors.New("unknown client")

	// Delivery errors reported by a RuntimeProxy.
	ErrNoActiveTab = errors.New("no active tab with that id")
	ErrNoReceiver  = errors.New("no receiver listening on the runtime channel")

	ErrBootstrapTimeout = errors.New("bootstrap timed out")
	ErrNoProxy          = errors.New("messenger has no runtime proxy")
	ErrNilMessage       = errors.New("message cannot be nil")
)
