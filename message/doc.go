// Package message defines the envelope exchanged between switchboard
// clients.
//
// A concrete message subtype is a plain struct implementing Payload; its
// MessageName is the transition key a receiving state machine looks up:
//
//	type UpdateWave struct {
//	    Speed int `json:"speed"`
//	}
//
//	func (UpdateWave) MessageName() string { return "update-wave" }
//
//	env, err := message.Of(route.Popup, UpdateWave{Speed: 3})
//	wave, err := message.As[UpdateWave](env)
//
// Every Envelope has a content hash (SHA-256 over name, origin, client id,
// millisecond timestamp, and attributes) computed once on first use.
// Attributes are normalized through JSON at build time, so an envelope and
// its wire round trip hash identically.
//
// Diagnostics is the injectable registry for message history, hash
// collisions, and reprocessing loops. Each process (or test) owns its own
// instance.
package message
