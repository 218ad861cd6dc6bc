package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/accesspoint/internal/transport"
	"github.com/1ureka/accesspoint/internal/util"
)

// ErrUnexpectedMessage is returned when the peer sends a message this side
// of the exchange cannot accept: an unknown type, a description for the
// wrong role, or an unreadable candidate.
var ErrUnexpectedMessage = errors.New("unexpected signaling message")

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "candidate"
)

// Message is the JSON structure exchanged over the /connect socket once the
// handshake asked for a WebRTC channel.
type Message struct {
	Type      MessageType `json:"type"`
	SDP       string      `json:"sdp,omitempty"`
	Candidate string      `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}

type role int

const (
	offerer role = iota // relay
	answerer            // connector
)

func (r role) String() string {
	if r == offerer {
		return "offerer"
	}
	return "answerer"
}

// session is one side of the exchange. Local candidates gathered before our
// description went out are held back so the peer never sees a candidate
// ahead of the SDP it belongs to. Remote candidates arriving before the
// peer's description are queued until it is applied.
type session struct {
	role role
	dc   *transport.DataChannel
	conn *websocket.Conn

	mu        sync.Mutex // guards conn writes, described and held
	described bool
	held      []Message

	remoteSet bool // read loop only
	queued    []webrtc.ICECandidateInit
}

func newSession(r role, conn *websocket.Conn, dc *transport.DataChannel) *session {
	s := &session{role: r, dc: dc, conn: conn}
	dc.OnICECandidate(s.gathered)
	return s
}

// gathered forwards a local candidate. Send errors are ignored: once the
// DataChannel is open the socket may already be gone.
func (s *session) gathered(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	data, err := json.Marshal(c.ToJSON())
	if err != nil {
		return
	}
	msg := Message{Type: MsgTypeCandidate, Candidate: string(data)}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.described {
		s.held = append(s.held, msg)
		return
	}
	_ = s.conn.WriteJSON(msg)
}

// describe creates our description, sends it, then flushes held candidates.
func (s *session) describe() error {
	create := s.dc.CreateAnswer
	kind := MsgTypeAnswer
	if s.role == offerer {
		create, kind = s.dc.CreateOffer, MsgTypeOffer
	}

	sdp, err := create()
	if err != nil {
		return err
	}

	if err := s.dc.SetLocalDescription(sdp); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(Message{Type: kind, SDP: sdp.SDP}); err != nil {
		return err
	}
	s.described = true
	for _, msg := range s.held {
		_ = s.conn.WriteJSON(msg)
	}
	util.LogDebug("signaling %s sent %s with %d held candidates", s.role, kind, len(s.held))
	s.held = nil
	return nil
}

// run reads until the socket fails or a message cannot be applied.
func (s *session) run() error {
	for {
		var msg Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("reading signaling message: %w", err)
		}
		if err := s.apply(msg); err != nil {
			return err
		}
	}
}

func (s *session) apply(msg Message) error {
	switch msg.Type {
	case MsgTypeOffer:
		if s.role != answerer || s.remoteSet {
			return fmt.Errorf("%w: %s received an offer", ErrUnexpectedMessage, s.role)
		}
		if err := s.remote(webrtc.SDPTypeOffer, msg.SDP); err != nil {
			return err
		}
		return s.describe()

	case MsgTypeAnswer:
		s.mu.Lock()
		described := s.described
		s.mu.Unlock()
		if s.role != offerer || !described || s.remoteSet {
			return fmt.Errorf("%w: %s received an answer", ErrUnexpectedMessage, s.role)
		}
		return s.remote(webrtc.SDPTypeAnswer, msg.SDP)

	case MsgTypeCandidate:
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
			return fmt.Errorf("%w: unreadable candidate: %v", ErrUnexpectedMessage, err)
		}
		if !s.remoteSet {
			s.queued = append(s.queued, init)
			return nil
		}
		return s.dc.AddICECandidate(init)

	default:
		return fmt.Errorf("%w: type %q", ErrUnexpectedMessage, msg.Type)
	}
}

// remote applies the peer's description and any candidates queued before it.
func (s *session) remote(kind webrtc.SDPType, sdp string) error {
	if err := s.dc.SetRemoteDescription(webrtc.SessionDescription{Type: kind, SDP: sdp}); err != nil {
		return err
	}
	s.remoteSet = true
	for _, init := range s.queued {
		if err := s.dc.AddICECandidate(init); err != nil {
			return err
		}
	}
	s.queued = nil
	return nil
}
