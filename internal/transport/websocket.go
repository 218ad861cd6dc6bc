package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/accesspoint/internal/util"
)

const closeGracePeriod = time.Second

// WebSocket is an Endpoint backed by a gorilla/websocket connection. All
// writes go through a single writer goroutine; messages are text frames.
type WebSocket struct {
	conn    *websocket.Conn
	inbox   chan []byte
	handler func([]byte)

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocket wraps conn. The endpoint is done when ctx is cancelled, the
// peer goes away, or Close is called.
func NewWebSocket(ctx context.Context, conn *websocket.Conn) *WebSocket {
	wCtx, wCancel := context.WithCancel(ctx)
	ws := &WebSocket{
		conn:    conn,
		inbox:   make(chan []byte, sendBufferSize),
		handler: func([]byte) {},
		ctx:     wCtx,
		cancel:  wCancel,
	}

	go func() {
		<-wCtx.Done()
		ws.Close()
	}()

	return ws
}

func (ws *WebSocket) OnMessage(fn func([]byte)) { ws.handler = fn }

// Start launches the reader and writer goroutines.
func (ws *WebSocket) Start() {
	ws.startOnce.Do(func() {
		go ws.readLoop()
		go ws.writeLoop()
	})
}

func (ws *WebSocket) readLoop() {
	defer ws.cancel()
	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.LogDebug("websocket read failed: %v", err)
			}
			return
		}
		util.Stats.AddRecv(len(data))
		ws.handler(data)
	}
}

func (ws *WebSocket) writeLoop() {
	for {
		select {
		case data := <-ws.inbox:
			if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				util.LogDebug("websocket write failed: %v", err)
				ws.cancel()
				return
			}
			util.Stats.AddSent(len(data))
		case <-ws.ctx.Done():
			return
		}
	}
}

func (ws *WebSocket) Send(data []byte) error {
	if ws.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case ws.inbox <- data:
		return nil
	case <-ws.ctx.Done():
		return ErrClosed
	}
}

func (ws *WebSocket) Done() <-chan struct{} { return ws.ctx.Done() }

// Close sends a normal close frame and closes the underlying connection.
func (ws *WebSocket) Close() error {
	return ws.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith closes the connection with the given close code and reason.
func (ws *WebSocket) CloseWith(code int, reason string) error {
	ws.closeOnce.Do(func() {
		ws.cancel()
		// WriteControl is safe to call concurrently with the writer goroutine.
		_ = ws.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(closeGracePeriod))
		ws.closeErr = ws.conn.Close()
	})
	return ws.closeErr
}
