package route

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	hopSeparator     = "/"
	machineSeparator = "#"
)

// ErrInvalidPath is returned when a path string cannot be parsed.
var ErrInvalidPath = errors.New("invalid path")

// Address is a parsed routing path: a chain of client hops followed by an
// optional local state machine name.
//
//	"background/42#selector-ux" -> Hops: [background 42], Machine: selector-ux
type Address struct {
	Hops    []string
	Machine string
}

// Parse splits a path once. Empty hop segments are rejected; a path with no
// hops at all addresses the receiving client itself.
func Parse(path string) (Address, error) {
	hopPart, machine, found := strings.Cut(path, machineSeparator)
	if found && strings.Contains(machine, machineSeparator) {
		return Address{}, fmt.Errorf("%w: %q has more than one %q", ErrInvalidPath, path, machineSeparator)
	}
	if found && machine == "" {
		return Address{}, fmt.Errorf("%w: %q has an empty machine name", ErrInvalidPath, path)
	}

	var hops []string
	if hopPart != "" {
		hops = strings.Split(hopPart, hopSeparator)
		for i, hop := range hops {
			if strings.TrimSpace(hop) == "" {
				return Address{}, fmt.Errorf("%w: %q has an empty hop at position %d", ErrInvalidPath, path, i)
			}
		}
	}

	return Address{Hops: hops, Machine: machine}, nil
}

// MustParse is like Parse but panics on error. Use only with literal paths.
func MustParse(path string) Address {
	addr, err := Parse(path)
	if err != nil {
		panic(err)
	}
	return addr
}

// First returns the next hop, if any.
func (a Address) First() (string, bool) {
	if len(a.Hops) == 0 {
		return "", false
	}
	return a.Hops[0], true
}

// Rest returns the address with the first hop consumed.
func (a Address) Rest() Address {
	if len(a.Hops) <= 1 {
		return Address{Machine: a.Machine}
	}
	return Address{Hops: slices.Clone(a.Hops[1:]), Machine: a.Machine}
}

// Terminal reports whether no hops remain.
func (a Address) Terminal() bool {
	return len(a.Hops) == 0
}

func (a Address) String() string {
	path := strings.Join(a.Hops, hopSeparator)
	if a.Machine != "" {
		path += machineSeparator + a.Machine
	}
	return path
}

// Builder assembles an Address hop by hop.
type Builder struct {
	addr Address
}

func NewAddress() *Builder {
	return &Builder{}
}

func (b *Builder) Hop(clientID string) *Builder {
	b.addr.Hops = append(b.addr.Hops, clientID)
	return b
}

func (b *Builder) Machine(name string) *Builder {
	b.addr.Machine = name
	return b
}

func (b *Builder) Build() Address {
	return Address{Hops: slices.Clone(b.addr.Hops), Machine: b.addr.Machine}
}

// Path is shorthand for Build().String().
func (b *Builder) Path() string {
	return b.Build().String()
}
