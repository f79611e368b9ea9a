package state

import (
	"context"
	"log/slog"
	"slices"
)

// Name identifies a state. Message names double as state names: a message
// named "start" asks the machine to enter the "start" state.
type Name string

// Reserved states every table must define.
const (
	BaseName  Name = "base"
	ErrorName Name = "error"
)

// Named is anything carrying a transition key. message.Message satisfies it.
type Named interface {
	Name() string
}

// Key wraps a bare name as a Named value.
type Key string

func (k Key) Name() string { return string(k) }

// Effect runs when a state is entered. current is the state being entered,
// previous the state the machine was in. The returned name becomes the new
// current state; an empty name means BaseName.
type Effect func(ctx context.Context, msg Named, current, previous State) (Name, error)

// State is one node of a transition graph. States are built once into a
// Table and never mutated.
type State struct {
	Name Name

	// Venture lists the states this state's effect may move into.
	Venture []Name

	// BaseLevel states are reachable from any state.
	BaseLevel bool

	// Returns optionally declares every name Effect can return so NewTable
	// can check the venture rule before the machine runs.
	Returns []Name

	Effect Effect
}

// Allows reports whether next is one of this state's venture states.
func (s State) Allows(next Name) bool {
	return slices.Contains(s.Venture, next)
}

func (s State) String() string {
	return string(s.Name)
}

// Stay returns an effect that always moves to next.
func Stay(next Name) Effect {
	return func(ctx context.Context, msg Named, current, previous State) (Name, error) {
		return next, nil
	}
}

// Base builds the conventional "base" state. A nil effect keeps the machine
// in base.
func Base(effect Effect, venture ...Name) State {
	return State{
		Name:      BaseName,
		Venture:   venture,
		BaseLevel: true,
		Effect:    effect,
	}
}

// Error builds the conventional "error" state: it logs the offending
// message and routes back to base.
func Error(logger *slog.Logger) State {
	if logger == nil {
		logger = slog.Default()
	}
	return State{
		Name:      ErrorName,
		BaseLevel: true,
		Returns:   []Name{BaseName},
		Effect: func(ctx context.Context, msg Named, current, previous State) (Name, error) {
			logger.WarnContext(ctx, "unresolvable transition, returning to base",
				slog.String("message", msg.Name()),
				slog.String("previous", string(previous.Name)),
			)
			return BaseName, nil
		},
	}
}
