package transport

import (
	"sync"
)

// pipeEnd is one side of an in-process Endpoint pair.
type pipeEnd struct {
	in      chan []byte
	peer    *pipeEnd
	handler func([]byte)

	done      chan struct{}
	closeOnce *sync.Once
	startOnce sync.Once
}

// Pipe returns two linked in-process endpoints. A message sent on one is
// delivered to the other as a copy. Closing either end closes both.
func Pipe() (Endpoint, Endpoint) {
	done := make(chan struct{})
	once := &sync.Once{}
	a := &pipeEnd{in: make(chan []byte, sendBufferSize), done: done, closeOnce: once, handler: func([]byte) {}}
	b := &pipeEnd{in: make(chan []byte, sendBufferSize), done: done, closeOnce: once, handler: func([]byte) {}}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeEnd) Send(data []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}

	msg := make([]byte, len(data))
	copy(msg, data)

	select {
	case p.peer.in <- msg:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

func (p *pipeEnd) OnMessage(fn func([]byte)) { p.handler = fn }

func (p *pipeEnd) Start() {
	p.startOnce.Do(func() {
		go func() {
			for {
				select {
				case msg := <-p.in:
					p.handler(msg)
				case <-p.done:
					return
				}
			}
		}()
	})
}

func (p *pipeEnd) Done() <-chan struct{} { return p.done }

func (p *pipeEnd) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
