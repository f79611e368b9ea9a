package client

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownMachine   = errors.New("no state machine registered under that name")
	ErrDuplicateMachine = errors.New("state machine already registered")
)

// RouteError is returned by SendMessage when a path cannot be resolved or
// the next hop rejects it.
type RouteError struct {
	Path string
	Hop  string
	Err  error
}

func (e *RouteError) Error() string {
	if e.Hop == "" {
		return fmt.Sprintf("route %q: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("route %q at hop %s: %v", e.Path, e.Hop, e.Err)
}

func (e *RouteError) Unwrap() error {
	return e.Err
}
