// Package transport provides the bidirectional message endpoints a relay
// channel can run over: a WebSocket, a WebRTC DataChannel, or an in-process
// pipe.
package transport

import "errors"

// ErrClosed is returned by Send once the endpoint has shut down.
var ErrClosed = errors.New("transport: endpoint closed")

const sendBufferSize = 64 // outgoing message channel capacity

// Endpoint is one end of a message channel. Messages are delivered whole.
//
// OnMessage must be called before Start. The callback runs on the endpoint's
// reader goroutine, so it should hand long work off to another goroutine.
type Endpoint interface {
	// Send enqueues a message for transmission. It blocks while the send
	// buffer is full and returns ErrClosed after the endpoint is done.
	Send(data []byte) error
	// OnMessage registers the inbound message callback.
	OnMessage(fn func(data []byte))
	// Start begins delivering inbound messages.
	Start()
	// Done is closed when the endpoint shuts down for any reason.
	Done() <-chan struct{}
	// Close shuts the endpoint down. It is safe to call more than once.
	Close() error
}
