// Package connector is the embedding side of a relay channel. It dials the
// relay, forwards request envelopes and hands responses back to the callers
// that are waiting for them.
package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/1ureka/accesspoint/internal/protocol"
	"github.com/1ureka/accesspoint/internal/signaling"
	"github.com/1ureka/accesspoint/internal/transport"
	"github.com/1ureka/accesspoint/internal/util"
)

var (
	// ErrClosed is returned by Do once the channel is gone.
	ErrClosed = errors.New("connector: channel closed")
	// ErrDuplicateID is returned when a request reuses an outstanding id.
	ErrDuplicateID = errors.New("connector: request id already outstanding")
)

// Options configures a Connector.
type Options struct {
	Relay        string // ws(s)://host/connect
	Origin       string // origin declared in the handshake
	PublicOrigin string // origin local HTTP requests are mapped onto
	Transport    string // protocol.TransportWebSocket (default) or TransportWebRTC
	ICEServers   []string

	// OnState is called on every state change.
	OnState func(State)
	// Fallback receives responses whose id matches no outstanding request.
	Fallback func(*protocol.Response)
}

// Connector owns one channel to the relay.
type Connector struct {
	opts  Options
	ep    transport.Endpoint
	ids   *idGen
	state atomic.Int32

	mu      sync.Mutex
	pending map[string]chan *protocol.Response

	controlled     chan struct{}
	controlledOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// Dial opens a channel to the relay and registers with a handshake. It
// returns in AwaitingControl; the first relay heartbeat moves the
// Connector to Controlled.
func Dial(ctx context.Context, opts Options) (*Connector, error) {
	c := newConnector(opts)
	ep, err := c.establish(ctx)
	if err != nil {
		c.cancel()
		c.setState(StateUnreachable)
		return nil, err
	}
	c.bind(ep)
	return c, nil
}

func newConnector(opts Options) *Connector {
	if opts.Transport == "" {
		opts.Transport = protocol.TransportWebSocket
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Connector{
		opts:       opts,
		ids:        newIDGen(),
		pending:    make(map[string]chan *protocol.Response),
		controlled: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// bind starts reading from an established, registered endpoint.
func (c *Connector) bind(ep transport.Endpoint) {
	c.ep = ep
	c.setState(StateAwaitingControl)
	ep.OnMessage(c.receive)
	ep.Start()

	go func() {
		select {
		case <-ep.Done():
			util.LogWarning("relay channel closed")
		case <-c.ctx.Done():
		}
		c.Close()
	}()
}

func (c *Connector) establish(ctx context.Context) (transport.Endpoint, error) {
	header := http.Header{}
	header.Set("Origin", c.opts.Origin)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.Relay, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	c.setState(StateRegistering)
	hs, err := protocol.EncodeHandshake(protocol.Handshake{Origin: c.opts.Origin, Transport: c.opts.Transport})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, hs); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}

	if c.opts.Transport != protocol.TransportWebRTC {
		return transport.NewWebSocket(c.ctx, conn), nil
	}

	dc, err := transport.NewDataChannel(c.ctx, c.opts.ICEServers)
	if err != nil {
		conn.Close()
		return nil, err
	}
	err = signaling.Answer(ctx, conn, dc)
	conn.Close()
	if err != nil {
		dc.Close()
		return nil, err
	}
	return dc, nil
}

// State returns the current lifecycle stage.
func (c *Connector) State() State { return State(c.state.Load()) }

func (c *Connector) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	c.notify(s)
}

// advance moves from one stage to the next only if nothing else moved first.
func (c *Connector) advance(from, to State) bool {
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	c.notify(to)
	return true
}

func (c *Connector) notify(s State) {
	util.LogDebug("connector %s", s)
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

// Controlled is closed when the first relay heartbeat has arrived.
func (c *Connector) Controlled() <-chan struct{} { return c.controlled }

// Done is closed when the channel is gone.
func (c *Connector) Done() <-chan struct{} { return c.ctx.Done() }

// Activate waits for Controlled, then moves to Active and returns the local
// HTTP surface.
func (c *Connector) Activate(ctx context.Context) (http.Handler, error) {
	select {
	case <-c.controlled:
	case <-c.ctx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if !c.advance(StateControlled, StateActive) && c.State() != StateActive {
		return nil, ErrClosed
	}
	return c.Handler(), nil
}

// Close tears the channel down and fails every outstanding request.
func (c *Connector) Close() error {
	c.cancel()
	c.setState(StateUnreachable)
	if c.ep == nil {
		return nil
	}
	return c.ep.Close()
}

func (c *Connector) receive(data []byte) {
	kind, err := protocol.Kind(data)
	if err != nil {
		util.LogWarning("dropping frame from relay: %v", err)
		return
	}

	switch kind {
	case protocol.TypeAlive:
		if c.ctx.Err() != nil {
			return
		}
		c.controlledOnce.Do(func() {
			c.advance(StateAwaitingControl, StateControlled)
			close(c.controlled)
		})

	case protocol.TypeResponse:
		resp, err := protocol.DecodeResponse(data)
		if err != nil {
			util.LogWarning("dropping frame from relay: %v", err)
			return
		}
		go c.deliver(resp)

	default:
		util.LogDebug("ignoring %q frame from relay", kind)
	}
}

// deliver hands resp to its waiting caller once the relay is in control.
func (c *Connector) deliver(resp *protocol.Response) {
	select {
	case <-c.controlled:
	case <-c.ctx.Done():
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	delete(c.pending, resp.ID)
	c.mu.Unlock()

	if !ok {
		util.LogWarning("response %s matches no outstanding request", resp.ID)
		if c.opts.Fallback != nil {
			c.opts.Fallback(resp)
		}
		return
	}
	ch <- resp
}

// Do sends req and waits for its response. An empty req.ID is filled in.
// The request goes out immediately whatever the state; nothing is buffered.
func (c *Connector) Do(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if req.ID == "" {
		req.ID = c.ids.Next()
	}
	ch := make(chan *protocol.Response, 1)

	c.mu.Lock()
	if _, dup := c.pending[req.ID]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, req.ID)
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	data, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	if err := c.ep.Send(data); err != nil {
		return nil, ErrClosed
	}
	util.Stats.AddRequest()

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.ctx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Handler returns an http.Handler that forwards local requests through the
// channel, mapped onto the public origin.
func (c *Connector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := c.Do(r.Context(), &protocol.Request{
			URL:     strings.TrimSuffix(c.opts.PublicOrigin, "/") + r.URL.RequestURI(),
			Method:  r.Method,
			Headers: protocol.HeadersFromHTTP(r.Header),
			Body:    body,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		protocol.WriteHTTP(w, resp)
	})
}

// KeepAlive requests /keep-alive/ping over and over until ctx is done or
// the channel closes. The relay holds each ping before answering, so the
// channel never goes idle.
func (c *Connector) KeepAlive(ctx context.Context) {
	target := strings.TrimSuffix(c.opts.PublicOrigin, "/") + "/keep-alive/ping"
	for {
		_, err := c.Do(ctx, &protocol.Request{URL: target, Method: http.MethodGet})
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
				util.LogWarning("keep-alive stopped: %v", err)
			}
			return
		}
	}
}
