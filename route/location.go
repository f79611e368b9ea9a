package route

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidLocation = errors.New("unknown location")

// Location identifies the kind of execution context a client lives in.
type Location string

const (
	Popup      Location = "popup"
	Background Location = "background"
	Content    Location = "content"
	API        Location = "api"
)

var locations = []Location{Popup, Background, Content, API}

// Locations returns every known location in declaration order.
func Locations() []Location {
	out := make([]Location, len(locations))
	copy(out, locations)
	return out
}

func (l Location) String() string {
	return string(l)
}

func (l Location) Valid() bool {
	for _, known := range locations {
		if l == known {
			return true
		}
	}
	return false
}

// Runtime reports whether the location is reached over the extension-wide
// runtime channel rather than a per-tab channel.
func (l Location) Runtime() bool {
	return l == Popup || l == Background
}

// ParseLocation is case-insensitive.
func ParseLocation(s string) (Location, error) {
	l := Location(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocation, s)
	}
	return l, nil
}

// Discovery is the single outbound hop a messenger is allowed to perform
// directly.
type Discovery struct {
	From Location `json:"from" yaml:"from"`
	To   Location `json:"to" yaml:"to"`
}

func (d Discovery) SelfLoop() bool {
	return d.From == d.To
}

func (d Discovery) String() string {
	return fmt.Sprintf("%s->%s", d.From, d.To)
}
