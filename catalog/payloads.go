// Package catalog holds the feature messages and state tables built on the
// routing core: the wave toggle, selector picking, settings sync, and a
// liveness ping. Features plug in by declaring a payload and a matching
// state; the core never imports this package.
package catalog

import "github.com/tailored-agentic-units/switchboard/message"

// Message names. Each is also the name of the state it drives.
const (
	NameStart               = "start"
	NameStop                = "stop"
	NameToggle              = "toggle"
	NameUpdateWave          = "update-wave"
	NameWaveStarted         = "wave-started"
	NameWaveStopped         = "wave-stopped"
	NameStartSelectorChoose = "start-selector-choose"
	NameSelectionMade       = "selection-made"
	NameCancelSelection     = "cancel-selection"
	NameUpdateSelector      = "update-selector"
	NameSelectorUpdated     = "selector-updated"
	NameLoadSettings        = "load-settings"
	NameSettingsLoaded      = "settings-loaded"
	NameUpdateSettings      = "update-settings"
	NameReset               = "reset"
	NamePing                = "ping"
	NamePong                = "pong"
	NameErrorReport         = "error-report"
)

type Start struct{}

func (Start) MessageName() string { return NameStart }

type Stop struct{}

func (Stop) MessageName() string { return NameStop }

// Toggle starts the wave when idle and stops it when running.
type Toggle struct{}

func (Toggle) MessageName() string { return NameToggle }

type UpdateWave struct {
	Speed int    `json:"speed,omitempty"`
	Color string `json:"color,omitempty"`
}

func (UpdateWave) MessageName() string { return NameUpdateWave }

type WaveStarted struct {
	TabID int `json:"tab_id"`
}

func (WaveStarted) MessageName() string { return NameWaveStarted }

type WaveStopped struct {
	TabID int `json:"tab_id"`
}

func (WaveStopped) MessageName() string { return NameWaveStopped }

// StartSelectorChoose puts the tab into element picking mode.
type StartSelectorChoose struct {
	TabID int `json:"tab_id,omitempty"`
}

func (StartSelectorChoose) MessageName() string { return NameStartSelectorChoose }

type SelectionMade struct {
	Selector string `json:"selector"`
	Text     string `json:"text,omitempty"`
}

func (SelectionMade) MessageName() string { return NameSelectionMade }

type CancelSelection struct{}

func (CancelSelection) MessageName() string { return NameCancelSelection }

type UpdateSelector struct {
	Selector string `json:"selector"`
}

func (UpdateSelector) MessageName() string { return NameUpdateSelector }

type SelectorUpdated struct {
	Selector string `json:"selector"`
	Matches  int    `json:"matches"`
}

func (SelectorUpdated) MessageName() string { return NameSelectorUpdated }

type LoadSettings struct {
	Keys []string `json:"keys,omitempty"`
}

func (LoadSettings) MessageName() string { return NameLoadSettings }

type SettingsLoaded struct {
	Settings map[string]any `json:"settings"`
}

func (SettingsLoaded) MessageName() string { return NameSettingsLoaded }

type UpdateSettings struct {
	Settings map[string]any `json:"settings"`
}

func (UpdateSettings) MessageName() string { return NameUpdateSettings }

// Reset drops local settings state.
type Reset struct{}

func (Reset) MessageName() string { return NameReset }

type Ping struct {
	Seq int `json:"seq"`
}

func (Ping) MessageName() string { return NamePing }

type Pong struct {
	Seq int `json:"seq"`
}

func (Pong) MessageName() string { return NamePong }

// ErrorReport carries a feature-level failure to whoever displays errors.
type ErrorReport struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

func (ErrorReport) MessageName() string { return NameErrorReport }

// Payloads returns one zero value of every catalog payload.
func Payloads() []message.Payload {
	return []message.Payload{
		Start{}, Stop{}, Toggle{}, UpdateWave{}, WaveStarted{}, WaveStopped{},
		StartSelectorChoose{}, SelectionMade{}, CancelSelection{}, UpdateSelector{}, SelectorUpdated{},
		LoadSettings{}, SettingsLoaded{}, UpdateSettings{}, Reset{},
		Ping{}, Pong{}, ErrorReport{},
	}
}

func init() {
	message.Register(Payloads()...)
}
