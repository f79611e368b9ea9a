package message

import "errors"

var (
	ErrEmptyName     = errors.New("message name cannot be empty")
	ErrInvalidOrigin = errors.New("invalid message origin")
	ErrAttributes    = errors.New("invalid message attributes")
	ErrWrongPayload  = errors.New("message does not carry the requested payload")
)
