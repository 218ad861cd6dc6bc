package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/1ureka/accesspoint/internal/protocol"
	"github.com/1ureka/accesspoint/internal/transport"
	"github.com/1ureka/accesspoint/internal/util"
)

// State is the lifecycle stage of a Connection.
type State int32

const (
	StateCreated State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	default:
		return "closed"
	}
}

// Responder produces the response for one request. ok is false when no
// response should be sent, for example because ctx ended first.
type Responder interface {
	Serve(ctx context.Context, req *protocol.Request) (resp *protocol.Response, ok bool)
}

// Connection binds one accepted channel to the relay's request pipeline.
// Requests are served concurrently and answered as they complete, in any
// order.
type Connection struct {
	tag       util.Tag
	origin    string
	ep        transport.Endpoint
	responder Responder
	heartbeat time.Duration
	inFlight  *semaphore.Weighted // nil when unbounded
	onClose   func(*Connection)

	state        atomic.Int32
	lastActivity atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// ConnectionOptions configures a Connection.
type ConnectionOptions struct {
	Tag       util.Tag
	Origin    string
	Endpoint  transport.Endpoint
	Responder Responder
	Heartbeat time.Duration
	// MaxInFlight caps concurrently served requests; 0 means unbounded.
	MaxInFlight int64
	// OnClose runs once after the Connection has shut down.
	OnClose func(*Connection)
}

// NewConnection creates a Connection in the Created state. Nothing runs
// until Start.
func NewConnection(ctx context.Context, opts ConnectionOptions) *Connection {
	cCtx, cCancel := context.WithCancel(ctx)
	c := &Connection{
		tag:       opts.Tag,
		origin:    opts.Origin,
		ep:        opts.Endpoint,
		responder: opts.Responder,
		heartbeat: opts.Heartbeat,
		onClose:   opts.OnClose,
		ctx:       cCtx,
		cancel:    cCancel,
	}
	if opts.MaxInFlight > 0 {
		c.inFlight = semaphore.NewWeighted(opts.MaxInFlight)
	}
	c.lastActivity.Store(time.Now().UnixMilli())
	return c
}

func (c *Connection) Tag() util.Tag  { return c.tag }
func (c *Connection) Origin() string { return c.origin }
func (c *Connection) State() State   { return State(c.state.Load()) }

// Done is closed once the Connection has been closed.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// LastActivity returns when the last inbound frame arrived.
func (c *Connection) LastActivity() time.Time {
	return time.UnixMilli(c.lastActivity.Load())
}

// Start binds the endpoint, starts the heartbeat and watches for the
// channel to close. It moves the Connection to Active.
func (c *Connection) Start() {
	if !c.state.CompareAndSwap(int32(StateCreated), int32(StateActive)) {
		return
	}
	util.Stats.AddConn()

	c.ep.OnMessage(c.receive)
	c.ep.Start()

	go c.heartbeatLoop()
	go func() {
		select {
		case <-c.ep.Done():
			c.tag.Info("channel from %s closed", c.origin)
			c.Close()
		case <-c.ctx.Done():
		}
	}()

	c.tag.Info("connection from %s active", c.origin)
}

// Close cancels the heartbeat and all in-flight work, closes the channel and
// runs the OnClose hook. It is safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		wasActive := State(c.state.Swap(int32(StateClosed))) == StateActive
		c.cancel()
		err = c.ep.Close()
		if wasActive {
			util.Stats.RemoveConn()
		}
		if c.onClose != nil {
			c.onClose(c)
		}
		c.tag.Debug("connection closed")
	})
	return err
}

// Wait blocks until every dispatched request has finished.
func (c *Connection) Wait() { c.wg.Wait() }

func (c *Connection) heartbeatLoop() {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			frame, err := protocol.EncodeHeartbeat(protocol.Heartbeat{Time: now.UnixMilli()})
			if err != nil {
				c.tag.Error("encoding heartbeat: %v", err)
				continue
			}
			if err := c.ep.Send(frame); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// receive runs on the endpoint's reader goroutine. It only decodes; the
// work happens in dispatch.
func (c *Connection) receive(data []byte) {
	c.lastActivity.Store(time.Now().UnixMilli())

	kind, err := protocol.Kind(data)
	if err == nil && kind != "" && kind != protocol.TypeRequest {
		c.tag.Debug("ignoring %q frame", kind)
		return
	}
	req, err := protocol.DecodeRequest(data)
	if err != nil {
		c.tag.Warning("dropping frame: %v", err)
		return
	}

	if c.State() != StateActive {
		return
	}
	c.wg.Add(1)
	go c.dispatch(req)
}

func (c *Connection) dispatch(req *protocol.Request) {
	defer c.wg.Done()

	if c.inFlight != nil {
		if err := c.inFlight.Acquire(c.ctx, 1); err != nil {
			return
		}
		defer c.inFlight.Release(1)
	}

	util.Stats.AddRequest()
	c.tag.Debug("%s %s (id=%s)", req.Method, req.URL, req.ID)

	resp, ok := c.responder.Serve(c.ctx, req)
	if !ok {
		return
	}
	frame, err := protocol.EncodeResponse(resp)
	if err != nil {
		c.tag.Error("encoding response %s: %v", req.ID, err)
		return
	}
	if err := c.ep.Send(frame); err != nil && !errors.Is(err, transport.ErrClosed) {
		c.tag.Warning("sending response %s: %v", req.ID, err)
	}
}
