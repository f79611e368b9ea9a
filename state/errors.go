package state

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTable   = errors.New("invalid state table")
	ErrUnknownState   = errors.New("unknown state")
	ErrNotInitialized = errors.New("state machine not initialized")
	ErrNilMessage     = errors.New("message cannot be nil")
)

// EffectError records an effect that failed or returned an unusable state.
// It never escapes HandleState; it is logged and attached to events.
type EffectError struct {
	Machine string
	State   Name
	Message string
	Err     error
}

func (e *EffectError) Error() string {
	return fmt.Sprintf("machine %s: effect of state %s (message %s): %v", e.Machine, e.State, e.Message, e.Err)
}

func (e *EffectError) Unwrap() error {
	return e.Err
}

var (
	errEffectUnknownResult = errors.New("effect returned an unknown state")
	errEffectForbidden     = errors.New("effect returned a state outside its venture states")
)
