package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tailored-agentic-units/switchboard/config"
	"github.com/tailored-agentic-units/switchboard/route"
	"github.com/tailored-agentic-units/switchboard/transport"
)

// Proxy is a transport.RuntimeProxy backed by a remote Server.
type Proxy struct {
	deliver *connect.Client[structpb.Struct, structpb.Struct]
	stream  *connect.ServerStreamForClient[structpb.Struct]
	session string
	cfg     config.RPCConfig
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	handlers map[int]transport.Handler
	nextID   int

	start sync.Once
	done  chan struct{}
}

// Dial attaches a remote context of the given location to the server at
// cfg.BaseURL. The subscription lives until Close or until ctx ends. A nil
// httpClient uses http.DefaultClient.
func Dial(ctx context.Context, cfg config.RPCConfig, loc route.Location, tabID int, httpClient connect.HTTPClient, logger *slog.Logger) (*Proxy, error) {
	defaults := config.DefaultRPCConfig()
	defaults.Merge(&cfg)

	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}

	base := strings.TrimRight(defaults.BaseURL, "/")
	subscribe := connect.NewClient[structpb.Struct, structpb.Struct](httpClient, base+SubscribeProcedure)

	req, err := toStruct(subscribeRequest{Location: loc, TabID: tabID})
	if err != nil {
		return nil, err
	}

	proxyCtx, cancel := context.WithCancel(ctx)
	stream, err := subscribe.CallServerStream(proxyCtx, connect.NewRequest(req))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	if !stream.Receive() {
		err := stream.Err()
		stream.Close()
		cancel()
		if err == nil {
			err = errors.New("stream closed before session frame")
		}
		return nil, fmt.Errorf("failed to attach session: %w", err)
	}

	var first frame
	if err := fromStruct(stream.Msg(), &first); err != nil || first.Session == "" {
		stream.Close()
		cancel()
		return nil, fmt.Errorf("failed to attach session: invalid session frame")
	}

	return &Proxy{
		deliver:  connect.NewClient[structpb.Struct, structpb.Struct](httpClient, base+DeliverProcedure),
		stream:   stream,
		session:  first.Session,
		cfg:      defaults,
		logger:   logger,
		ctx:      proxyCtx,
		cancel:   cancel,
		handlers: make(map[int]transport.Handler),
		done:     make(chan struct{}),
	}, nil
}

func (p *Proxy) Session() string {
	return p.session
}

func (p *Proxy) SendMessageToTab(ctx context.Context, tabID int, packet transport.Packet) error {
	if tabID <= 0 {
		return fmt.Errorf("%w: %d", transport.ErrInvalidTabID, tabID)
	}
	return p.call(ctx, deliverRequest{Session: p.session, TabID: tabID, Packet: packet})
}

func (p *Proxy) SendMessageToRuntime(ctx context.Context, packet transport.Packet) error {
	return p.call(ctx, deliverRequest{Session: p.session, Packet: packet})
}

func (p *Proxy) call(ctx context.Context, in deliverRequest) error {
	req, err := toStruct(in)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout.Std())
	defer cancel()

	if _, err := p.deliver.CallUnary(callCtx, connect.NewRequest(req)); err != nil {
		return fromConnectError(err)
	}
	return nil
}

// OnInstalled runs handler immediately: the remote session is attached by
// the time a proxy exists.
func (p *Proxy) OnInstalled(handler func(ctx context.Context)) {
	handler(p.ctx)
}

// OnMessage registers handler. The first registration starts reading the
// subscription stream.
func (p *Proxy) OnMessage(handler transport.Handler) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = handler
	p.mu.Unlock()

	p.start.Do(func() { go p.pump() })

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers, id)
	}
}

func (p *Proxy) pump() {
	defer close(p.done)

	for p.stream.Receive() {
		var f frame
		if err := fromStruct(p.stream.Msg(), &f); err != nil || f.Packet == nil {
			p.logger.WarnContext(p.ctx, "malformed rpc frame", slog.String("session", p.session))
			continue
		}

		sender := transport.Sender{}
		if f.Sender != nil {
			sender = *f.Sender
		}

		p.mu.RLock()
		handlers := make([]transport.Handler, 0, len(p.handlers))
		for _, h := range p.handlers {
			handlers = append(handlers, h)
		}
		p.mu.RUnlock()

		for _, h := range handlers {
			h(p.ctx, *f.Packet, sender)
		}
	}

	if err := p.stream.Err(); err != nil && p.ctx.Err() == nil {
		p.logger.WarnContext(p.ctx, "rpc subscription ended",
			slog.String("session", p.session),
			slog.String("error", err.Error()),
		)
	}
}

// Close ends the subscription, which detaches the remote endpoint. The
// request context is cancelled first so closing never waits on the stream.
func (p *Proxy) Close() error {
	p.cancel()
	if err := p.stream.Close(); err != nil {
		p.logger.DebugContext(context.Background(), "rpc stream close",
			slog.String("session", p.session),
			slog.String("error", err.Error()),
		)
	}

	started := true
	p.start.Do(func() { started = false })
	if started {
		<-p.done
	}
	return nil
}
