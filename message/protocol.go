package message

import "github.com/tailored-agentic-units/switchboard/route"

// Protocol message names. These are reserved by the routing core.
const (
	NameBootstrap       = "bootstrap"
	NameBootstrapResult = "bootstrap-result"
	NameHeartbeat       = "heartbeat"
	NameHeartbeatResult = "heartbeat-result"
	NameFailure         = "failure"
)

// Bootstrap is sent upward by a client that has no routable id yet.
// Nonce pairs the request with its BootstrapResult.
type Bootstrap struct {
	Nonce    string         `json:"nonce"`
	Location route.Location `json:"location"`
	TabID    int            `json:"tab_id,omitempty"`
}

func (Bootstrap) MessageName() string { return NameBootstrap }

// BootstrapResult assigns the client its id and seeds its routing tables.
type BootstrapResult struct {
	Nonce     string                    `json:"nonce"`
	ClientID  string                    `json:"client_id"`
	APIMap    map[string]string         `json:"api_map,omitempty"`
	ClientMap map[string]route.Location `json:"client_map,omitempty"`
}

func (BootstrapResult) MessageName() string { return NameBootstrapResult }

// Heartbeat asks the router for a fresh client map.
type Heartbeat struct {
	ClientID string `json:"client_id"`
}

func (Heartbeat) MessageName() string { return NameHeartbeat }

// HeartbeatResult carries the router's current view of live clients.
type HeartbeatResult struct {
	ClientMap map[string]route.Location `json:"client_map"`
}

func (HeartbeatResult) MessageName() string { return NameHeartbeatResult }

// Failure reports a routing or transport error back to a sender.
type Failure struct {
	Path   string `json:"path,omitempty"`
	Reason string `json:"reason"`
}

func (Failure) MessageName() string { return NameFailure }

func init() {
	Register(Bootstrap{}, BootstrapResult{}, Heartbeat{}, HeartbeatResult{}, Failure{})
}
