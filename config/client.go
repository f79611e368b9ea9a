package config

import (
	"log/slog"
	"time"
)

// ClientConfig configures one addressable participant.
//
// ID is only honored for the background client and for tests; every other
// client receives its id from the bootstrap handshake.
type ClientConfig struct {
	ID       string `json:"id" yaml:"id"`
	Location string `json:"location" yaml:"location"`
	TabID    int    `json:"tab_id" yaml:"tab_id"`

	DefaultMachine string `json:"default_machine" yaml:"default_machine"`

	BootstrapTimeout    Duration `json:"bootstrap_timeout" yaml:"bootstrap_timeout"`
	// BootstrapRetries is the number of attempts after the first. Zero keeps
	// the default; a negative value disables retries.
	BootstrapRetries    int      `json:"bootstrap_retries" yaml:"bootstrap_retries"`
	BootstrapBackoff    Duration `json:"bootstrap_backoff" yaml:"bootstrap_backoff"`
	BootstrapMaxBackoff Duration `json:"bootstrap_max_backoff" yaml:"bootstrap_max_backoff"`

	ReceiveBuffer int `json:"receive_buffer" yaml:"receive_buffer"`

	Observer string `json:"observer" yaml:"observer"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DefaultMachine:      "default",
		BootstrapTimeout:    Duration(2 * time.Second),
		BootstrapRetries:    3,
		BootstrapBackoff:    Duration(250 * time.Millisecond),
		BootstrapMaxBackoff: Duration(4 * time.Second),
		ReceiveBuffer:       64,
		Observer:            "slog",
		Logger:              slog.Default(),
	}
}

func (c *ClientConfig) Merge(source *ClientConfig) {
	if source.ID != "" {
		c.ID = source.ID
	}

	if source.Location != "" {
		c.Location = source.Location
	}

	if source.TabID > 0 {
		c.TabID = source.TabID
	}

	if source.DefaultMachine != "" {
		c.DefaultMachine = source.DefaultMachine
	}

	if source.BootstrapTimeout > 0 {
		c.BootstrapTimeout = source.BootstrapTimeout
	}

	if source.BootstrapRetries != 0 {
		c.BootstrapRetries = source.BootstrapRetries
	}

	if source.BootstrapBackoff > 0 {
		c.BootstrapBackoff = source.BootstrapBackoff
	}

	if source.BootstrapMaxBackoff > 0 {
		c.BootstrapMaxBackoff = source.BootstrapMaxBackoff
	}

	if source.ReceiveBuffer > 0 {
		c.ReceiveBuffer = source.ReceiveBuffer
	}

	if source.Observer != "" {
		c.Observer = source.Observer
	}

	if source.Logger != nil {
		c.Logger = source.Logger
	}
}
