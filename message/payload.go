package message

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/tailored-agentic-units/switchboard/route"
)

// Payload is implemented by every concrete message subtype. MessageName is
// the transition key and must be a constant for the type.
type Payload interface {
	MessageName() string
}

// Of builds an envelope from a typed payload.
func Of(from route.Location, payload Payload) (*Envelope, error) {
	return New(payload.MessageName(), from).Attributes(payload).Build()
}

// MustOf is like Of but panics on error. Use only with payloads known to
// serialize.
func MustOf(from route.Location, payload Payload) *Envelope {
	env, err := Of(from, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// As decodes the attributes of m into the payload type T. The message name
// must match T's MessageName.
func As[T Payload](m Message) (T, error) {
	var out T
	if m == nil {
		return out, fmt.Errorf("%w: nil message", ErrWrongPayload)
	}
	if m.Name() != out.MessageName() {
		return out, fmt.Errorf("%w: got %q, want %q", ErrWrongPayload, m.Name(), out.MessageName())
	}

	data, err := json.Marshal(m.Attributes())
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrAttributes, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrAttributes, err)
	}
	return out, nil
}

var (
	registry = map[string]Payload{}
	mutex    sync.RWMutex
)

// Register records payload types so tooling can check that state tables
// only use known message names. Registering a name twice keeps the latest.
func Register(payloads ...Payload) {
	mutex.Lock()
	defer mutex.Unlock()

	for _, p := range payloads {
		registry[p.MessageName()] = p
	}
}

// Registered reports whether a payload type with the given name exists.
func Registered(name string) bool {
	mutex.RLock()
	defer mutex.RUnlock()

	_, ok := registry[name]
	return ok
}

// Names lists registered message names in sorted order.
func Names() []string {
	mutex.RLock()
	defer mutex.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
