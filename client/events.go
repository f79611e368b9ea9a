package client

import "github.com/tailored-agentic-units/switchboard/observability"

const (
	EventBootstrap      observability.EventType = "client.bootstrap"
	EventBootstrapRetry observability.EventType = "client.bootstrap_retry"
	EventBootstrapFail  observability.EventType = "client.bootstrap_failed"
	EventDispatch       observability.EventType = "client.dispatch"
	EventForward        observability.EventType = "client.forward"
	EventRouteFailed    observability.EventType = "client.route_failed"
	EventFailure        observability.EventType = "client.failure"
	EventClientMap      observability.EventType = "client.client_map"
)
