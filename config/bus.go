package config

import (
	"log/slog"
	"time"
)

// BusConfig configures the in-process browser host simulation.
type BusConfig struct {
	Name string `json:"name" yaml:"name"`

	ChannelBufferSize int      `json:"channel_buffer_size" yaml:"channel_buffer_size"`
	DeliveryTimeout   Duration `json:"delivery_timeout" yaml:"delivery_timeout"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func DefaultBusConfig() BusConfig {
	return BusConfig{
		Name:              "default",
		ChannelBufferSize: 100,
		DeliveryTimeout:   Duration(30 * time.Second),
		Logger:            slog.Default(),
	}
}

func (c *BusConfig) Merge(source *BusConfig) {
	if source.Name != "" {
		c.Name = source.Name
	}

	if source.ChannelBufferSize > 0 {
		c.ChannelBufferSize = source.ChannelBufferSize
	}

	if source.DeliveryTimeout > 0 {
		c.DeliveryTimeout = source.DeliveryTimeout
	}

	if source.Logger != nil {
		c.Logger = source.Logger
	}
}

// RouterConfig configures the background router.
type RouterConfig struct {
	HeartbeatInterval Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`

	// APIMap is handed to every client in its bootstrap result.
	APIMap map[string]string `json:"api_map" yaml:"api_map"`
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		HeartbeatInterval: Duration(5 * time.Second),
	}
}

func (c *RouterConfig) Merge(source *RouterConfig) {
	if source.HeartbeatInterval > 0 {
		c.HeartbeatInterval = source.HeartbeatInterval
	}

	if len(source.APIMap) > 0 {
		c.APIMap = source.APIMap
	}
}

// RPCConfig configures the Connect bridge.
type RPCConfig struct {
	Addr    string   `json:"addr" yaml:"addr"`
	BaseURL string   `json:"base_url" yaml:"base_url"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Addr:    "127.0.0.1:7717",
		BaseURL: "http://127.0.0.1:7717",
		Timeout: Duration(10 * time.Second),
	}
}

func (c *RPCConfig) Merge(source *RPCConfig) {
	if source.Addr != "" {
		c.Addr = source.Addr
	}

	if source.BaseURL != "" {
		c.BaseURL = source.BaseURL
	}

	if source.Timeout > 0 {
		c.Timeout = source.Timeout
	}
}
