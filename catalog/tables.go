package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tailored-agentic-units/switchboard/config"
	"github.com/tailored-agentic-units/switchboard/message"
	"github.com/tailored-agentic-units/switchboard/state"
)

// Machine names the catalog tables are registered under.
const (
	MachineWaveToggle   = "wave-toggle"
	MachineContentWave  = "content-wave"
	MachineSelectorUX   = "selector-ux"
	MachineSettingsSync = "settings-sync"
	MachineLiveness     = "liveness"
)

// Resting states. They are entered through effect results, never by a
// message of the same name.
const (
	StateWaving   state.Name = "waving"
	StateChoosing state.Name = "choosing"
	StateSelected state.Name = "selected"
	StateLoading  state.Name = "loading"
	StateSynced   state.Name = "synced"
)

// Hook performs a feature side effect for one message. An error sends the
// machine through its error state. Messages that are not envelopes arrive
// as nil.
type Hook func(ctx context.Context, msg message.Message) error

// then runs h and moves to next.
func then(h Hook, next state.Name) state.Effect {
	return func(ctx context.Context, msg state.Named, current, previous state.State) (state.Name, error) {
		if h != nil {
			env, _ := msg.(message.Message)
			if err := h(ctx, env); err != nil {
				return "", err
			}
		}
		return next, nil
	}
}

type WaveHooks struct {
	Start   Hook
	Update  Hook
	Stop    Hook
	Started Hook
	Stopped Hook
}

// waveStates is the start/update/stop core shared by both wave tables.
// extra adds venture states to waving.
func waveStates(h WaveHooks, extra ...state.Name) []state.State {
	return []state.State{
		{Name: NameStart, Venture: []state.Name{StateWaving}, Returns: []state.Name{StateWaving}, Effect: then(h.Start, StateWaving)},
		{Name: StateWaving, Venture: append([]state.Name{NameUpdateWave}, extra...)},
		{Name: NameUpdateWave, Venture: []state.Name{StateWaving}, Returns: []state.Name{StateWaving}, Effect: then(h.Update, StateWaving)},
		{Name: NameStop, BaseLevel: true, Returns: []state.Name{state.BaseName}, Effect: then(h.Stop, state.BaseName)},
	}
}

// ContentWave is the content script side of the wave: start, update while
// waving, stop.
func ContentWave(h WaveHooks, logger *slog.Logger) (*state.Table, error) {
	states := append([]state.State{
		state.Base(nil, NameStart),
		state.Error(logger),
	}, waveStates(h)...)
	return state.NewTable(states...)
}

// WaveToggle is the popup side of the wave. On top of ContentWave it
// accepts toggle and the content script's started/stopped acknowledgements.
func WaveToggle(h WaveHooks, logger *slog.Logger) (*state.Table, error) {
	states := append([]state.State{
		state.Base(nil, NameStart),
		state.Error(logger),
	}, waveStates(h, NameWaveStarted)...)

	states = append(states,
		state.State{Name: NameWaveStarted, Venture: []state.Name{StateWaving}, Returns: []state.Name{StateWaving}, Effect: then(h.Started, StateWaving)},
		state.State{Name: NameWaveStopped, BaseLevel: true, Returns: []state.Name{state.BaseName}, Effect: then(h.Stopped, state.BaseName)},
		state.State{
			Name:      NameToggle,
			BaseLevel: true,
			Venture:   []state.Name{StateWaving},
			Returns:   []state.Name{StateWaving, state.BaseName},
			Effect: func(ctx context.Context, msg state.Named, current, previous state.State) (state.Name, error) {
				if previous.Name == state.BaseName {
					return then(h.Start, StateWaving)(ctx, msg, current, previous)
				}
				return then(h.Stop, state.BaseName)(ctx, msg, current, previous)
			},
		},
	)
	return state.NewTable(states...)
}

type SelectorHooks struct {
	Choose   Hook
	Update   Hook
	Updated  Hook
	Selected Hook
	Cancel   Hook
}

// SelectorUX drives element picking: choose, refine while choosing, then
// either a selection or a cancel.
func SelectorUX(h SelectorHooks, logger *slog.Logger) (*state.Table, error) {
	return state.NewTable(
		state.Base(nil, NameStartSelectorChoose),
		state.Error(logger),
		state.State{Name: NameStartSelectorChoose, Venture: []state.Name{StateChoosing}, Returns: []state.Name{StateChoosing}, Effect: then(h.Choose, StateChoosing)},
		state.State{Name: StateChoosing, Venture: []state.Name{NameUpdateSelector, NameSelectorUpdated, NameSelectionMade}},
		state.State{Name: NameUpdateSelector, Venture: []state.Name{StateChoosing}, Returns: []state.Name{StateChoosing}, Effect: then(h.Update, StateChoosing)},
		state.State{Name: NameSelectorUpdated, Venture: []state.Name{StateChoosing}, Returns: []state.Name{StateChoosing}, Effect: then(h.Updated, StateChoosing)},
		state.State{Name: NameSelectionMade, Venture: []state.Name{StateSelected}, Returns: []state.Name{StateSelected}, Effect: then(h.Selected, StateSelected)},
		state.State{Name: StateSelected, Venture: []state.Name{NameStartSelectorChoose}},
		state.State{Name: NameCancelSelection, BaseLevel: true, Returns: []state.Name{state.BaseName}, Effect: then(h.Cancel, state.BaseName)},
	)
}

type SettingsHooks struct {
	Load   Hook
	Loaded Hook
	Update Hook
	Reset  Hook
}

// SettingsSync tracks whether local settings mirror storage.
func SettingsSync(h SettingsHooks, logger *slog.Logger) (*state.Table, error) {
	return state.NewTable(
		state.Base(nil, NameLoadSettings, NameUpdateSettings),
		state.Error(logger),
		state.State{Name: NameLoadSettings, Venture: []state.Name{StateLoading}, Returns: []state.Name{StateLoading}, Effect: then(h.Load, StateLoading)},
		state.State{Name: StateLoading, Venture: []state.Name{NameSettingsLoaded}},
		state.State{Name: NameSettingsLoaded, Venture: []state.Name{StateSynced}, Returns: []state.Name{StateSynced}, Effect: then(h.Loaded, StateSynced)},
		state.State{Name: StateSynced, Venture: []state.Name{NameUpdateSettings, NameLoadSettings}},
		state.State{Name: NameUpdateSettings, Venture: []state.Name{StateSynced}, Returns: []state.Name{StateSynced}, Effect: then(h.Update, StateSynced)},
		state.State{Name: NameReset, BaseLevel: true, Returns: []state.Name{state.BaseName}, Effect: then(h.Reset, state.BaseName)},
	)
}

type LivenessHooks struct {
	Ping   Hook
	Pong   Hook
	Report Hook
}

// Liveness answers pings and collects error reports from any state.
func Liveness(h LivenessHooks, logger *slog.Logger) (*state.Table, error) {
	return state.NewTable(
		state.Base(nil),
		state.Error(logger),
		state.State{Name: NamePing, BaseLevel: true, Returns: []state.Name{state.BaseName}, Effect: then(h.Ping, state.BaseName)},
		state.State{Name: NamePong, BaseLevel: true, Returns: []state.Name{state.BaseName}, Effect: then(h.Pong, state.BaseName)},
		state.State{Name: NameErrorReport, BaseLevel: true, Returns: []state.Name{state.BaseName}, Effect: then(h.Report, state.BaseName)},
	)
}

// Hooks bundles the hooks of every catalog table.
type Hooks struct {
	WaveToggle  WaveHooks
	ContentWave WaveHooks
	Selector    SelectorHooks
	Settings    SettingsHooks
	Liveness    LivenessHooks
}

// Tables builds every catalog table keyed by machine name.
func Tables(h Hooks, logger *slog.Logger) (map[string]*state.Table, error) {
	builders := map[string]func() (*state.Table, error){
		MachineWaveToggle:   func() (*state.Table, error) { return WaveToggle(h.WaveToggle, logger) },
		MachineContentWave:  func() (*state.Table, error) { return ContentWave(h.ContentWave, logger) },
		MachineSelectorUX:   func() (*state.Table, error) { return SelectorUX(h.Selector, logger) },
		MachineSettingsSync: func() (*state.Table, error) { return SettingsSync(h.Settings, logger) },
		MachineLiveness:     func() (*state.Table, error) { return Liveness(h.Liveness, logger) },
	}

	tables := make(map[string]*state.Table, len(builders))
	for name, build := range builders {
		table, err := build()
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", name, err)
		}
		tables[name] = table
	}
	return tables, nil
}

// NewMachine creates a machine named by cfg over table, initialized in base.
func NewMachine(ctx context.Context, cfg config.MachineConfig, table *state.Table) (*state.Machine, error) {
	m, err := state.NewMachine(cfg)
	if err != nil {
		return nil, err
	}
	if err := m.Initialize(ctx, table, state.BaseName); err != nil {
		return nil, err
	}
	return m, nil
}
