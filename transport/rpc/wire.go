package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tailored-agentic-units/switchboard/route"
	"github.com/tailored-agentic-units/switchboard/transport"
)

// Procedure paths served by Server.
const (
	ServiceName        = "switchboard.v1.RuntimeService"
	DeliverProcedure   = "/" + ServiceName + "/Deliver"
	SubscribeProcedure = "/" + ServiceName + "/Subscribe"
)

var ErrUnknownSession = errors.New("unknown rpc session")

type subscribeRequest struct {
	Location route.Location `json:"location"`
	TabID    int            `json:"tab_id,omitempty"`
}

type deliverRequest struct {
	Session string           `json:"session"`
	TabID   int              `json:"tab_id,omitempty"`
	Packet  transport.Packet `json:"packet"`
}

// frame is one server-stream message: the first carries the session id,
// every later one a packet and its sender.
type frame struct {
	Session string            `json:"session,omitempty"`
	Packet  *transport.Packet `json:"packet,omitempty"`
	Sender  *transport.Sender `json:"sender,omitempty"`
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rpc payload: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to encode rpc payload: %w", err)
	}
	return structpb.NewStruct(fields)
}

func fromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return errors.New("empty rpc payload")
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("failed to decode rpc payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode rpc payload: %w", err)
	}
	return nil
}

// toConnectError maps transport sentinels onto Connect codes; fromConnectError
// reverses it on the client so errors.Is keeps working across the bridge.
func toConnectError(err error) error {
	switch {
	case errors.Is(err, transport.ErrNoActiveTab):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, transport.ErrNoReceiver):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, ErrUnknownSession):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, transport.ErrInvalidTabID), errors.Is(err, route.ErrInvalidLocation):
		return connect.NewError(connect.CodeInvalidArgument, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

func fromConnectError(err error) error {
	switch connect.CodeOf(err) {
	case connect.CodeNotFound:
		return fmt.Errorf("%w: %v", transport.ErrNoActiveTab, err)
	case connect.CodeUnavailable:
		return fmt.Errorf("%w: %v", transport.ErrNoReceiver, err)
	case connect.CodeFailedPrecondition:
		return fmt.Errorf("%w: %v", ErrUnknownSession, err)
	case connect.CodeInvalidArgument:
		return fmt.Errorf("%w: %v", transport.ErrInvalidTabID, err)
	default:
		return err
	}
}
