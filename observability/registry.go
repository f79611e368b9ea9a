package observability

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// Registry maps config names to observers.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Observer
}

// NewRegistry starts with "noop", "slog" and "otel" registered.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]Observer{
		"noop": NoOpObserver{},
		"slog": NewSlogObserver(slog.Default()),
		"otel": NewTraceObserver(),
	}}
}

func (r *Registry) Get(name string) (Observer, error) {
	r.mu.RLock()
	obs, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown observer: %s", name)
	}
	return obs, nil
}

// Register binds name to obs, replacing any earlier binding.
func (r *Registry) Register(name string, obs Observer) {
	r.mu.Lock()
	r.byName[name] = obs
	r.mu.Unlock()
}

// Resolve combines the named observers. No names yields NoOpObserver and a
// single name yields that observer unwrapped.
func (r *Registry) Resolve(names ...string) (Observer, error) {
	switch len(names) {
	case 0:
		return NoOpObserver{}, nil
	case 1:
		return r.Get(names[0])
	}

	members := make([]Observer, len(names))
	for i, name := range names {
		obs, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		members[i] = obs
	}
	return NewMultiObserver(members...), nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.byName))
}

var registry = NewRegistry()

// GetObserver looks name up in the process registry.
func GetObserver(name string) (Observer, error) { return registry.Get(name) }

// RegisterObserver binds name in the process registry. The CLI uses it to
// point "slog" at its configured logger.
func RegisterObserver(name string, obs Observer) { registry.Register(name, obs) }

func Resolve(names ...string) (Observer, error) { return registry.Resolve(names...) }

func Names() []string { return registry.Names() }
