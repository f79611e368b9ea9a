package state

import (
	"errors"
	"fmt"
	"sort"
)

// Table is an immutable name -> State map for one logical machine.
type Table struct {
	states map[Name]State
}

// NewTable builds a table and validates its graph:
//   - names are non-empty and unique
//   - base and error states exist and are base-level
//   - every venture state exists
//   - every declared effect result is base-level or a venture state
//
// All problems are reported together.
func NewTable(states ...State) (*Table, error) {
	var problems []error
	table := &Table{states: make(map[Name]State, len(states))}

	for _, s := range states {
		if s.Name == "" {
			problems = append(problems, fmt.Errorf("%w: state with empty name", ErrInvalidTable))
			continue
		}
		if _, exists := table.states[s.Name]; exists {
			problems = append(problems, fmt.Errorf("%w: duplicate state %s", ErrInvalidTable, s.Name))
			continue
		}
		table.states[s.Name] = s
	}

	if err := table.Validate(); err != nil {
		problems = append(problems, err)
	}

	if len(problems) > 0 {
		return nil, errors.Join(problems...)
	}
	return table, nil
}

// MustTable is like NewTable but panics on error. Use for package-level
// tables whose validity is covered by tests.
func MustTable(states ...State) *Table {
	t, err := NewTable(states...)
	if err != nil {
		panic(err)
	}
	return t
}

// Validate checks the graph rules listed on NewTable.
func (t *Table) Validate() error {
	var problems []error

	if len(t.states) == 0 {
		return fmt.Errorf("%w: no states", ErrInvalidTable)
	}

	for _, reserved := range []Name{BaseName, ErrorName} {
		s, ok := t.states[reserved]
		if !ok {
			problems = append(problems, fmt.Errorf("%w: missing %s state", ErrInvalidTable, reserved))
			continue
		}
		if !s.BaseLevel {
			problems = append(problems, fmt.Errorf("%w: %s state must be base-level", ErrInvalidTable, reserved))
		}
	}

	for _, name := range t.Names() {
		s := t.states[name]
		for _, v := range s.Venture {
			if _, ok := t.states[v]; !ok {
				problems = append(problems, fmt.Errorf("%w: state %s ventures into unknown state %s", ErrInvalidTable, name, v))
			}
		}
		for _, r := range s.Returns {
			target, ok := t.states[r]
			if !ok {
				problems = append(problems, fmt.Errorf("%w: state %s returns unknown state %s", ErrInvalidTable, name, r))
				continue
			}
			if !target.BaseLevel && !s.Allows(r) {
				problems = append(problems, fmt.Errorf("%w: state %s returns %s which is neither base-level nor a venture state", ErrInvalidTable, name, r))
			}
		}
	}

	return errors.Join(problems...)
}

func (t *Table) Get(name Name) (State, bool) {
	s, ok := t.states[name]
	return s, ok
}

func (t *Table) Base() State {
	return t.states[BaseName]
}

func (t *Table) Error() State {
	return t.states[ErrorName]
}

// Names returns state names in sorted order.
func (t *Table) Names() []Name {
	names := make([]Name, 0, len(t.states))
	for name := range t.states {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func (t *Table) Len() int {
	return len(t.states)
}
