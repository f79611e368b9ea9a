package message

import (
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/tailored-agentic-units/switchboard/route"
)

// Message is the typed envelope carried between contexts. The name doubles
// as the state-machine transition key on the receiving side.
type Message interface {
	Name() string
	From() route.Location
	ClientID() string
	Timestamp() time.Time
	Attributes() map[string]any
	Hash() string
	Record() Record
}

// Record is the wire form of a Message. Timestamp is Unix milliseconds.
type Record struct {
	Name       string         `json:"name"`
	From       route.Location `json:"from"`
	ClientID   string         `json:"client_id,omitempty"`
	Timestamp  int64          `json:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Envelope is the concrete Message. It is immutable after Build; the hash is
// computed at most once.
type Envelope struct {
	name       string
	from       route.Location
	clientID   string
	timestamp  time.Time
	attributes map[string]any

	hashOnce sync.Once
	hash     string
}

func (e *Envelope) Name() string         { return e.name }
func (e *Envelope) From() route.Location { return e.from }
func (e *Envelope) ClientID() string     { return e.clientID }
func (e *Envelope) Timestamp() time.Time { return e.timestamp }

// Attributes returns a shallow copy.
func (e *Envelope) Attributes() map[string]any {
	return maps.Clone(e.attributes)
}

// Attribute returns a single attribute value.
func (e *Envelope) Attribute(key string) (any, bool) {
	v, ok := e.attributes[key]
	return v, ok
}

func (e *Envelope) Record() Record {
	return Record{
		Name:       e.name,
		From:       e.from,
		ClientID:   e.clientID,
		Timestamp:  e.timestamp.UnixMilli(),
		Attributes: maps.Clone(e.attributes),
	}
}

func (e *Envelope) String() string {
	return fmt.Sprintf(
		"Message{Name: %s, From: %s, ClientID: %s, Timestamp: %d}",
		e.name,
		e.from,
		e.clientID,
		e.timestamp.UnixMilli(),
	)
}

// Builder assembles an Envelope.
type Builder struct {
	name       string
	from       route.Location
	clientID   string
	timestamp  time.Time
	attributes any
}

// New starts a message with the given transition name and origin.
func New(name string, from route.Location) *Builder {
	return &Builder{
		name:      name,
		from:      from,
		timestamp: time.Now(),
	}
}

func (b *Builder) ClientID(id string) *Builder {
	b.clientID = id
	return b
}

func (b *Builder) Timestamp(ts time.Time) *Builder {
	b.timestamp = ts
	return b
}

// Attributes accepts a map or any JSON-serializable struct.
func (b *Builder) Attributes(attrs any) *Builder {
	b.attributes = attrs
	return b
}

// Build normalizes attributes through JSON so that an envelope built locally
// hashes identically to the same envelope decoded from the wire.
func (b *Builder) Build() (*Envelope, error) {
	if b.name == "" {
		return nil, ErrEmptyName
	}
	if !b.from.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOrigin, b.from)
	}

	attrs, err := normalize(b.attributes)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", b.name, err)
	}

	return &Envelope{
		name:       b.name,
		from:       b.from,
		clientID:   b.clientID,
		timestamp:  time.UnixMilli(b.timestamp.UnixMilli()),
		attributes: attrs,
	}, nil
}

// FromRecord reconstructs an envelope received from a transport.
func FromRecord(r Record) (*Envelope, error) {
	return New(r.Name, r.From).
		ClientID(r.ClientID).
		Timestamp(time.UnixMilli(r.Timestamp)).
		Attributes(r.Attributes).
		Build()
}

// WithClientID returns a copy of m stamped with a client id. The copy has a
// new hash.
func WithClientID(m Message, clientID string) (*Envelope, error) {
	r := m.Record()
	r.ClientID = clientID
	return FromRecord(r)
}

func normalize(attrs any) (map[string]any, error) {
	if attrs == nil {
		return map[string]any{}, nil
	}

	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttributes, err)
	}

	out := map[string]any{}
	if string(data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: attributes must encode as a JSON object: %v", ErrAttributes, err)
	}
	return out, nil
}
