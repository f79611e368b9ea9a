package config

import "log/slog"

// MachineConfig configures a state.Machine.
type MachineConfig struct {
	Name string `json:"name" yaml:"name"`

	Observer string `json:"observer" yaml:"observer"`

	// SubscriberBuffer sizes each transition subscription channel.
	SubscriberBuffer int `json:"subscriber_buffer" yaml:"subscriber_buffer"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func DefaultMachineConfig(name string) MachineConfig {
	return MachineConfig{
		Name:             name,
		Observer:         "slog",
		SubscriberBuffer: 32,
		Logger:           slog.Default(),
	}
}

func (c *MachineConfig) Merge(source *MachineConfig) {
	if source.Name != "" {
		c.Name = source.Name
	}

	if source.Observer != "" {
		c.Observer = source.Observer
	}

	if source.SubscriberBuffer > 0 {
		c.SubscriberBuffer = source.SubscriberBuffer
	}

	if source.Logger != nil {
		c.Logger = source.Logger
	}
}
