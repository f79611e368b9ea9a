package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tailored-agentic-units/switchboard/config"
	"github.com/tailored-agentic-units/switchboard/observability"
)

// Phase marks where in HandleState a transition was published.
type Phase string

const (
	// PhaseEnter is published with the resolved state before its effect runs.
	PhaseEnter Phase = "enter"
	// PhaseSettle is published with the state the effect moved into.
	PhaseSettle Phase = "settle"
)

// Transition is one entry on a machine's subscription stream.
type Transition struct {
	Machine     string
	Phase       Phase
	State       State
	Message     string
	Substituted bool
}

// Machine holds one state table and the current state. HandleState calls
// are serialized: a message is fully processed before the next one is
// looked up.
type Machine struct {
	name     string
	buffer   int
	logger   *slog.Logger
	observer observability.Observer

	handle sync.Mutex

	mu          sync.RWMutex
	table       *Table
	current     State
	initialized bool

	subMu  sync.Mutex
	subs   map[int]chan Transition
	nextID int
}

// NewMachine resolves the configured observer and returns an uninitialized
// machine.
func NewMachine(cfg config.MachineConfig) (*Machine, error) {
	defaults := config.DefaultMachineConfig(cfg.Name)
	defaults.Merge(&cfg)

	observer, err := observability.GetObserver(defaults.Observer)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve observer: %w", err)
	}
	return NewMachineWithDeps(defaults, observer), nil
}

func NewMachineWithDeps(cfg config.MachineConfig, observer observability.Observer) *Machine {
	defaults := config.DefaultMachineConfig(cfg.Name)
	defaults.Merge(&cfg)

	if observer == nil {
		observer = observability.NoOpObserver{}
	}

	return &Machine{
		name:     defaults.Name,
		buffer:   defaults.SubscriberBuffer,
		logger:   defaults.Logger,
		observer: observer,
		subs:     make(map[int]chan Transition),
	}
}

func (m *Machine) Name() string {
	return m.name
}

// Initialize installs a table and sets the current state to origin.
// Initializing twice replaces the table and logs a warning.
func (m *Machine) Initialize(ctx context.Context, table *Table, origin Name) error {
	if table == nil {
		return fmt.Errorf("machine %s: %w", m.name, ErrInvalidTable)
	}
	start, ok := table.Get(origin)
	if !ok {
		return fmt.Errorf("machine %s: origin %s: %w", m.name, origin, ErrUnknownState)
	}

	m.handle.Lock()
	defer m.handle.Unlock()

	m.mu.Lock()
	reinit := m.initialized
	m.table = table
	m.current = start
	m.initialized = true
	m.mu.Unlock()

	eventType := EventInitialize
	level := observability.LevelInfo
	if reinit {
		eventType = EventReinitialize
		level = observability.LevelWarning
		m.logger.WarnContext(ctx, "state machine re-initialized",
			slog.String("machine", m.name),
			slog.String("origin", string(origin)),
		)
	}

	observability.Emit(ctx, m.observer, eventType, level, m.name, map[string]any{
		"origin": string(origin),
		"states": table.Len(),
	})
	return nil
}

// Current returns the current state. The zero State is returned before
// Initialize.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Machine) Table() *Table {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.table
}

// HandleState drives one transition for msg:
//   - resolve msg.Name() in the table; an unknown name or a non-base-level
//     state outside the current state's venture states resolves to error
//   - publish the resolved state (PhaseEnter)
//   - run its effect; a failing effect or an unusable result recovers
//     through the error state
//   - publish and return the new current state (PhaseSettle)
//
// Transition failures never surface as errors. The error return covers a
// nil message, an uninitialized machine, and a cancelled context.
func (m *Machine) HandleState(ctx context.Context, msg Named) (State, error) {
	if msg == nil {
		return State{}, ErrNilMessage
	}

	m.handle.Lock()
	defer m.handle.Unlock()

	m.mu.RLock()
	table, previous, ok := m.table, m.current, m.initialized
	m.mu.RUnlock()

	if !ok {
		return State{}, fmt.Errorf("machine %s: %w", m.name, ErrNotInitialized)
	}
	if err := ctx.Err(); err != nil {
		return previous, err
	}

	target, substituted := m.resolve(ctx, table, previous, msg)
	m.publish(ctx, Transition{
		Machine:     m.name,
		Phase:       PhaseEnter,
		State:       target,
		Message:     msg.Name(),
		Substituted: substituted,
	})

	next := m.runEffect(ctx, table, msg, target, previous)

	m.mu.Lock()
	m.current = next
	m.mu.Unlock()

	m.publish(ctx, Transition{
		Machine: m.name,
		Phase:   PhaseSettle,
		State:   next,
		Message: msg.Name(),
	})

	observability.Emit(ctx, m.observer, EventTransition, observability.LevelVerbose, m.name, map[string]any{
		"message":  msg.Name(),
		"previous": string(previous.Name),
		"entered":  string(target.Name),
		"current":  string(next.Name),
	})

	return next, nil
}

func (m *Machine) resolve(ctx context.Context, table *Table, previous State, msg Named) (State, bool) {
	name := Name(msg.Name())
	target, ok := table.Get(name)

	var reason string
	switch {
	case !ok:
		reason = "unknown state"
	case !target.BaseLevel && !previous.Allows(name):
		reason = "not reachable from current state"
	default:
		return target, false
	}

	m.logger.DebugContext(ctx, "transition substituted with error state",
		slog.String("machine", m.name),
		slog.String("message", msg.Name()),
		slog.String("current", string(previous.Name)),
		slog.String("reason", reason),
	)
	observability.Emit(ctx, m.observer, EventSubstitute, observability.LevelWarning, m.name, map[string]any{
		"message": msg.Name(),
		"current": string(previous.Name),
		"reason":  reason,
	})
	return table.Error(), true
}

func (m *Machine) runEffect(ctx context.Context, table *Table, msg Named, target, previous State) State {
	if target.Effect == nil {
		return table.Base()
	}

	nextName, err := target.Effect(ctx, msg, target, previous)
	if err != nil {
		return m.fallback(ctx, table, msg, target, err)
	}
	if nextName == "" {
		return table.Base()
	}

	next, ok := table.Get(nextName)
	if !ok {
		return m.fallback(ctx, table, msg, target, fmt.Errorf("%w: %s", errEffectUnknownResult, nextName))
	}
	if !next.BaseLevel && !target.Allows(nextName) {
		m.effectFailed(ctx, msg, target, fmt.Errorf("%w: %s", errEffectForbidden, nextName))
		return table.Error()
	}
	return next
}

// fallback runs the error state's effect after target's effect failed.
// Anything the error effect cannot resolve to a base-level state ends in base.
func (m *Machine) fallback(ctx context.Context, table *Table, msg Named, target State, cause error) State {
	m.effectFailed(ctx, msg, target, cause)

	errState := table.Error()
	if errState.Effect == nil || target.Name == ErrorName {
		return table.Base()
	}

	nextName, err := errState.Effect(ctx, msg, errState, target)
	if err != nil {
		m.effectFailed(ctx, msg, errState, err)
		return table.Base()
	}

	next, ok := table.Get(nextName)
	if !ok || !next.BaseLevel {
		return table.Base()
	}
	return next
}

func (m *Machine) effectFailed(ctx context.Context, msg Named, st State, cause error) {
	err := &EffectError{
		Machine: m.name,
		State:   st.Name,
		Message: msg.Name(),
		Err:     cause,
	}
	m.logger.WarnContext(ctx, "state effect failed",
		slog.String("machine", m.name),
		slog.String("state", string(st.Name)),
		slog.String("error", err.Error()),
	)
	observability.Emit(ctx, m.observer, EventEffectFailed, observability.LevelError, m.name, map[string]any{
		"state":   string(st.Name),
		"message": msg.Name(),
		"error":   err.Error(),
	})
}

// Subscribe returns a stream of transitions and a cancel func that closes
// it. A subscriber that falls behind misses transitions rather than
// blocking the machine.
func (m *Machine) Subscribe() (<-chan Transition, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan Transition, m.buffer)
	m.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (m *Machine) publish(ctx context.Context, t Transition) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for id, ch := range m.subs {
		select {
		case ch <- t:
		default:
			m.logger.WarnContext(ctx, "transition dropped for slow subscriber",
				slog.String("machine", m.name),
				slog.Int("subscriber", id),
				slog.String("state", string(t.State.Name)),
			)
			observability.Emit(ctx, m.observer, EventSubscriberLag, observability.LevelWarning, m.name, map[string]any{
				"subscriber": id,
				"state":      string(t.State.Name),
			})
		}
	}
}
