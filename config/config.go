// Package config holds the configuration structs for every switchboard
// component. Each struct has a Default constructor and a Merge method that
// applies the non-zero fields of a loaded file over those defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the file-level configuration for the switchboard binary.
type Config struct {
	Client   ClientConfig   `json:"client" yaml:"client"`
	Tracking TrackingConfig `json:"tracking" yaml:"tracking"`
	Bus      BusConfig      `json:"bus" yaml:"bus"`
	Router   RouterConfig   `json:"router" yaml:"router"`
	RPC      RPCConfig      `json:"rpc" yaml:"rpc"`
	Observer string         `json:"observer" yaml:"observer"`
}

func DefaultConfig() Config {
	return Config{
		Client:   DefaultClientConfig(),
		Tracking: DefaultTrackingConfig(),
		Bus:      DefaultBusConfig(),
		Router:   DefaultRouterConfig(),
		RPC:      DefaultRPCConfig(),
		Observer: "slog",
	}
}

func (c *Config) Merge(source *Config) {
	c.Client.Merge(&source.Client)
	c.Tracking.Merge(&source.Tracking)
	c.Bus.Merge(&source.Bus)
	c.Router.Merge(&source.Router)
	c.RPC.Merge(&source.RPC)

	if source.Observer != "" {
		c.Observer = source.Observer
	}
}

// Load reads a JSON or YAML file (chosen by extension), merges it over
// DefaultConfig, and returns the result.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case ".json", "":
		if err := json.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	cfg := DefaultConfig()
	cfg.Merge(&loaded)
	return &cfg, nil
}
