package config

import "time"

// Loop detection keys.
const (
	// LoopKeyContent counts repeats of the same name, origin, and attributes
	// regardless of timestamp.
	LoopKeyContent = "content"
	// LoopKeyHash counts repeats of the exact content hash, which includes
	// the millisecond timestamp.
	LoopKeyHash = "hash"
)

// History fields that TrackingConfig.Fields may select.
const (
	FieldName       = "name"
	FieldFrom       = "from"
	FieldClientID   = "client_id"
	FieldAttributes = "attributes"
)

// TrackingConfig governs message diagnostics: history, collision, and loop
// tracking. Disabled turns all tracking into a no-op.
type TrackingConfig struct {
	Disabled bool `json:"disabled" yaml:"disabled"`

	MaxHistory    int `json:"max_history" yaml:"max_history"`
	MaxCollisions int `json:"max_collisions" yaml:"max_collisions"`
	MaxLoopDepth  int `json:"max_loop_depth" yaml:"max_loop_depth"`

	LoopKey    string   `json:"loop_key" yaml:"loop_key"`
	LoopWindow Duration `json:"loop_window" yaml:"loop_window"`

	Fields []string `json:"fields" yaml:"fields"`
}

func DefaultTrackingConfig() TrackingConfig {
	return TrackingConfig{
		MaxHistory:    100,
		MaxCollisions: 50,
		MaxLoopDepth:  10,
		LoopKey:       LoopKeyContent,
		LoopWindow:    Duration(2 * time.Second),
		Fields:        []string{FieldName, FieldFrom, FieldClientID, FieldAttributes},
	}
}

func (c *TrackingConfig) Merge(source *TrackingConfig) {
	if source.Disabled {
		c.Disabled = source.Disabled
	}

	if source.MaxHistory > 0 {
		c.MaxHistory = source.MaxHistory
	}

	if source.MaxCollisions > 0 {
		c.MaxCollisions = source.MaxCollisions
	}

	if source.MaxLoopDepth > 0 {
		c.MaxLoopDepth = source.MaxLoopDepth
	}

	if source.LoopKey != "" {
		c.LoopKey = source.LoopKey
	}

	if source.LoopWindow > 0 {
		c.LoopWindow = source.LoopWindow
	}

	if len(source.Fields) > 0 {
		c.Fields = source.Fields
	}
}

// Tracks reports whether field is recorded in history entries.
func (c *TrackingConfig) Tracks(field string) bool {
	for _, f := range c.Fields {
		if f == field {
			return true
		}
	}
	return false
}
