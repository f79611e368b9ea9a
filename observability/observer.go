// Package observability moves structured events from machines, clients and
// the bus to whichever sinks are configured by name: log records, span
// events or an in-memory recorder for tests.
package observability

import (
	"context"
	"log/slog"
	"time"
)

// Level orders events by severity. The numeric values sit inside the
// OpenTelemetry SeverityNumber bands, so a Level can be handed to a
// collector unchanged.
type Level int

const (
	LevelVerbose Level = 5
	LevelInfo    Level = 9
	LevelWarning Level = 13
	LevelError   Level = 17
)

// severity bands, each ending at its upper bound.
var bands = []struct {
	upper Level
	text  string
	slog  slog.Level
}{
	{4, "TRACE", slog.LevelDebug},
	{8, "DEBUG", slog.LevelDebug},
	{12, "INFO", slog.LevelInfo},
	{16, "WARN", slog.LevelWarn},
	{20, "ERROR", slog.LevelError},
}

func (l Level) String() string {
	for _, b := range bands {
		if l <= b.upper {
			return b.text
		}
	}
	return "FATAL"
}

// SlogLevel is the log level a record for l is written at.
func (l Level) SlogLevel() slog.Level {
	for _, b := range bands {
		if l <= b.upper {
			return b.slog
		}
	}
	return slog.LevelError
}

// EventType names what happened, scoped by package: "state.transition",
// "client.bootstrap", "bus.delivered".
type EventType string

// Event is one structured occurrence. Source names whatever emitted it,
// usually a machine name or client id.
type Event struct {
	Type      EventType
	Level     Level
	Timestamp time.Time
	Source    string
	Data      map[string]any
}

type Observer interface {
	OnEvent(ctx context.Context, event Event)
}

// Emit builds an Event stamped with the current time and hands it to obs.
// Callers holding an optional observer may pass nil.
func Emit(ctx context.Context, obs Observer, eventType EventType, level Level, source string, data map[string]any) {
	if obs == nil {
		return
	}
	event := Event{Type: eventType, Level: level, Timestamp: time.Now(), Source: source, Data: data}
	obs.OnEvent(ctx, event)
}

// NoOpObserver is the observer of components configured with "noop".
type NoOpObserver struct{}

func (NoOpObserver) OnEvent(context.Context, Event) {}

// MultiObserver delivers each event to its members in registration order.
type MultiObserver struct {
	members []Observer
}

// NewMultiObserver drops nil members.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	m := &MultiObserver{}
	for _, obs := range observers {
		if obs == nil {
			continue
		}
		m.members = append(m.members, obs)
	}
	return m
}

func (m *MultiObserver) OnEvent(ctx context.Context, event Event) {
	for _, member := range m.members {
		member.OnEvent(ctx, event)
	}
}

// LevelFilter passes events at Min or above to Next.
type LevelFilter struct {
	Min  Level
	Next Observer
}

func (f LevelFilter) OnEvent(ctx context.Context, event Event) {
	if f.Next != nil && event.Level >= f.Min {
		f.Next.OnEvent(ctx, event)
	}
}
