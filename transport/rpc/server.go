package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tailored-agentic-units/switchboard/route"
	"github.com/tailored-agentic-units/switchboard/transport"
	"github.com/tailored-agentic-units/switchboard/transport/bus"
)

// Server exposes a bus to other processes. A remote context opens a
// Subscribe stream, which attaches a bus endpoint for it, then sends with
// Deliver using the session id from the stream's first frame.
type Server struct {
	bus    *bus.Bus
	logger *slog.Logger
	buffer int

	mu       sync.RWMutex
	sessions map[string]*bus.Endpoint
}

func NewServer(b *bus.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		bus:      b,
		logger:   logger,
		buffer:   64,
		sessions: make(map[string]*bus.Endpoint),
	}
}

// Mount registers both procedures on r.
func (s *Server) Mount(r chi.Router, opts ...connect.HandlerOption) {
	r.Handle(DeliverProcedure, connect.NewUnaryHandler(DeliverProcedure, s.deliver, opts...))
	r.Handle(SubscribeProcedure, connect.NewServerStreamHandler(SubscribeProcedure, s.subscribe, opts...))
}

// Sessions reports the number of attached remote contexts.
func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Server) deliver(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	var in deliverRequest
	if err := fromStruct(req.Msg, &in); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	s.mu.RLock()
	ep, ok := s.sessions[in.Session]
	s.mu.RUnlock()
	if !ok {
		return nil, toConnectError(fmt.Errorf("%w: %s", ErrUnknownSession, in.Session))
	}

	var err error
	if in.TabID > 0 {
		err = ep.SendMessageToTab(ctx, in.TabID, in.Packet)
	} else {
		err = ep.SendMessageToRuntime(ctx, in.Packet)
	}
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&structpb.Struct{}), nil
}

func (s *Server) subscribe(ctx context.Context, req *connect.Request[structpb.Struct], stream *connect.ServerStream[structpb.Struct]) error {
	var in subscribeRequest
	if err := fromStruct(req.Msg, &in); err != nil {
		return connect.NewError(connect.CodeInvalidArgument, err)
	}

	loc, err := route.ParseLocation(string(in.Location))
	if err != nil {
		return toConnectError(err)
	}

	ep, err := s.bus.Connect(loc, in.TabID)
	if err != nil {
		return connect.NewError(connect.CodeFailedPrecondition, err)
	}
	defer ep.Close()

	session := uuid.Must(uuid.NewV7()).String()
	s.mu.Lock()
	s.sessions[session] = ep
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, session)
		s.mu.Unlock()
	}()

	frames := make(chan frame, s.buffer)
	unregister := ep.OnMessage(func(_ context.Context, packet transport.Packet, sender transport.Sender) {
		select {
		case frames <- frame{Packet: &packet, Sender: &sender}:
		case <-ctx.Done():
		}
	})
	defer unregister()

	if err := s.send(stream, frame{Session: session}); err != nil {
		return err
	}

	s.logger.DebugContext(ctx, "rpc session attached",
		slog.String("session", session),
		slog.String("location", string(loc)),
		slog.Int("tab_id", in.TabID),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.DebugContext(ctx, "rpc session detached", slog.String("session", session))
			return nil
		case f := <-frames:
			if err := s.send(stream, f); err != nil {
				return err
			}
		}
	}
}

func (s *Server) send(stream *connect.ServerStream[structpb.Struct], f frame) error {
	msg, err := toStruct(f)
	if err != nil {
		return connect.NewError(connect.CodeInternal, err)
	}
	return stream.Send(msg)
}

// Handler returns a chi router serving only the bridge procedures.
func (s *Server) Handler(opts ...connect.HandlerOption) http.Handler {
	r := chi.NewRouter()
	s.Mount(r, opts...)
	return r
}
