package router

import "github.com/tailored-agentic-units/switchboard/observability"

const (
	EventRegistered observability.EventType = "router.registered"
	EventHeartbeat  observability.EventType = "router.heartbeat"
	EventEvicted    observability.EventType = "router.evicted"
)
