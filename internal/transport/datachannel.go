package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/accesspoint/internal/util"
)

const (
	highWaterMark = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // resume sending when bufferedAmount drops below this
)

// DataChannel is an Endpoint backed by a single PeerConnection and a
// pre-negotiated DataChannel. Signaling is driven from outside through the
// offer/answer/candidate methods; see package signaling.
//
// Its lifecycle is governed by the DataChannel state and the context passed
// at construction time. The PeerConnection state is recorded but does not
// drive open/close decisions.
type DataChannel struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	outbox      chan []byte
	inbox       chan []byte
	drainSignal chan struct{}
	openSignal  chan struct{}
	handler     func([]byte)
	startOnce   sync.Once
	closeOnce   sync.Once
	closeErr    error

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

// NewDataChannel creates a PeerConnection using the given ICE server URLs
// (none means host candidates only) and a negotiated DataChannel with ID 0,
// so both sides create it independently without relying on OnDataChannel.
func NewDataChannel(ctx context.Context, iceServers []string) (*DataChannel, error) {
	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}

	negotiated := true
	id := uint16(0)
	dc, err := pc.CreateDataChannel("relay", &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		pc.Close()
		return nil, err
	}

	dCtx, dCancel := context.WithCancel(ctx)
	t := &DataChannel{
		pc:          pc,
		dc:          dc,
		outbox:      make(chan []byte, sendBufferSize),
		inbox:       make(chan []byte, sendBufferSize),
		drainSignal: make(chan struct{}, 1),
		openSignal:  make(chan struct{}),
		handler:     func([]byte) {},
		ctx:         dCtx,
		cancel:      dCancel,
		pcState:     webrtc.PeerConnectionStateNew,
	}

	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(t.openSignal) })
	})
	dc.OnClose(func() {
		util.LogDebug("DataChannel closed")
		dCancel()
	})

	// Messages that arrive before Start are held in the inbox.
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		util.Stats.AddRecv(len(msg.Data))
		select {
		case t.inbox <- msg.Data:
		case <-dCtx.Done():
		}
	})

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case t.drainSignal <- struct{}{}:
		default:
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		t.mu.Lock()
		t.pcState = state
		t.mu.Unlock()
		if state == webrtc.PeerConnectionStateFailed {
			dCancel()
		}
	})

	go t.sendLoop()
	go func() {
		<-dCtx.Done()
		t.Close()
	}()

	return t, nil
}

// sendLoop is the single-writer goroutine. It waits for the DataChannel to
// open, then drains the outbox with backpressure awareness.
func (t *DataChannel) sendLoop() {
	select {
	case <-t.openSignal:
	case <-t.ctx.Done():
		return
	}

	for {
		select {
		case data := <-t.outbox:
			if t.dc.BufferedAmount() > uint64(highWaterMark) {
				select {
				case <-t.drainSignal:
				case <-t.ctx.Done():
					return
				}
			}
			if err := t.dc.Send(data); err != nil {
				util.LogError("failed to send on DataChannel: %v", err)
				t.cancel()
				return
			}
			util.Stats.AddSent(len(data))
		case <-t.ctx.Done():
			return
		}
	}
}

// Ready returns a channel that is closed when the DataChannel is open.
func (t *DataChannel) Ready() <-chan struct{} { return t.openSignal }

func (t *DataChannel) Done() <-chan struct{} { return t.ctx.Done() }

// ConnectionState returns the last observed PeerConnection state.
func (t *DataChannel) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// Close shuts down the DataChannel and PeerConnection.
func (t *DataChannel) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		t.closeErr = errors.Join(t.dc.Close(), t.pc.Close())
	})
	return t.closeErr
}

func (t *DataChannel) OnMessage(fn func([]byte)) { t.handler = fn }

func (t *DataChannel) Start() {
	t.startOnce.Do(func() {
		go func() {
			for {
				select {
				case data := <-t.inbox:
					t.handler(data)
				case <-t.ctx.Done():
					return
				}
			}
		}()
	})
}

// Send enqueues data. Messages queued before the channel opens are sent once
// it does.
func (t *DataChannel) Send(data []byte) error {
	if t.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case t.outbox <- data:
		return nil
	case <-t.ctx.Done():
		return ErrClosed
	}
}

// CreateOffer generates an SDP offer.
func (t *DataChannel) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *DataChannel) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *DataChannel) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *DataChannel) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (t *DataChannel) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	t.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *DataChannel) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}
