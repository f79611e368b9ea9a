package state

import "github.com/tailored-agentic-units/switchboard/observability"

const (
	EventInitialize    observability.EventType = "state.initialize"
	EventReinitialize  observability.EventType = "state.reinitialize"
	EventTransition    observability.EventType = "state.transition"
	EventSubstitute    observability.EventType = "state.substitute"
	EventEffectFailed  observability.EventType = "state.effect_failed"
	EventSubscriberLag observability.EventType = "state.subscriber_lag"
)
