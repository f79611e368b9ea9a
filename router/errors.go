package router

import "errors"

var (
	ErrNotBackground       = errors.New("router requires a background client")
	ErrBackgroundBootstrap = errors.New("background client does not bootstrap")
	ErrNoSender            = errors.New("message has no sender to reply to")
)
