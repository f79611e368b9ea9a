package transport

import (
	"encoding/json"
	"fmt"

	"github.com/tailored-agentic-units/switchboard/message"
	"github.com/tailored-agentic-units/switchboard/route"
)

// Sender describes where an inbound packet came from. It is filled in by
// the receiving transport, never by the sending client.
type Sender struct {
	ClientID string         `json:"client_id,omitempty"`
	Location route.Location `json:"location"`
	TabID    int            `json:"tab_id,omitempty"`
}

// ClientMessage is a routing envelope: the remaining path, the id of the
// client it is addressed to, and the payload message.
type ClientMessage struct {
	Path     string
	ClientID string
	Message  message.Message
	Sender   *Sender
}

// Packet is the serialized form of a ClientMessage as it crosses a
// transport.
type Packet struct {
	Path     string         `json:"path"`
	ClientID string         `json:"client_id,omitempty"`
	Message  message.Record `json:"message"`
}

func (cm ClientMessage) Packet() (Packet, error) {
	if cm.Message == nil {
		return Packet{}, ErrNilMessage
	}
	return Packet{
		Path:     cm.Path,
		ClientID: cm.ClientID,
		Message:  cm.Message.Record(),
	}, nil
}

// Decode rebuilds the ClientMessage carried by p, attaching sender.
func (p Packet) Decode(sender *Sender) (ClientMessage, error) {
	msg, err := message.FromRecord(p.Message)
	if err != nil {
		return ClientMessage{}, fmt.Errorf("failed to decode packet message: %w", err)
	}
	return ClientMessage{
		Path:     p.Path,
		ClientID: p.ClientID,
		Message:  msg,
		Sender:   sender,
	}, nil
}

func (p Packet) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func UnmarshalPacket(data []byte) (Packet, error) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return Packet{}, fmt.Errorf("failed to unmarshal packet: %w", err)
	}
	return p, nil
}
