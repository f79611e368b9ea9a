package transport

import "github.com/tailored-agentic-units/switchboard/observability"

const (
	EventSend              observability.EventType = "transport.send"
	EventReceive           observability.EventType = "transport.receive"
	EventDrop              observability.EventType = "transport.drop"
	EventBootstrapSent     observability.EventType = "transport.bootstrap_sent"
	EventBootstrapResolved observability.EventType = "transport.bootstrap_resolved"
	EventBacklogFlushed    observability.EventType = "transport.backlog_flushed"
)
