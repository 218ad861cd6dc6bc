package signaling_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/accesspoint/internal/signaling"
	"github.com/1ureka/accesspoint/internal/transport"
)

// peerScript upgrades the connection and hands it to fn, which plays the
// remote side of the exchange by hand.
func peerScript(t *testing.T, fn func(conn *websocket.Conn)) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestOfferSendsSDPFirst(t *testing.T) {
	received := make(chan signaling.Message, 1)
	conn := peerScript(t, func(conn *websocket.Conn) {
		var msg signaling.Message
		if err := conn.ReadJSON(&msg); err == nil {
			received <- msg
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	dc, err := transport.NewDataChannel(ctx, nil)
	require.NoError(t, err)
	defer dc.Close()

	err = signaling.Offer(ctx, conn, dc)
	require.Error(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, signaling.MsgTypeOffer, msg.Type)
		assert.Contains(t, msg.SDP, "webrtc-datachannel")
	case <-time.After(time.Second):
		t.Fatal("no offer received")
	}
}

// answerAgainst runs Answer while the remote side plays msgs in order.
func answerAgainst(t *testing.T, msgs ...signaling.Message) error {
	t.Helper()
	conn := peerScript(t, func(conn *websocket.Conn) {
		for _, msg := range msgs {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
		time.Sleep(time.Second)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	dc, err := transport.NewDataChannel(ctx, nil)
	require.NoError(t, err)
	defer dc.Close()

	return signaling.Answer(ctx, conn, dc)
}

func TestAnswerRejectsUnexpectedMessages(t *testing.T) {
	testCases := []struct {
		name string
		msgs []signaling.Message
	}{
		{"unknown type", []signaling.Message{{Type: "bogus"}}},
		{"answer sent to the answering side", []signaling.Message{{Type: signaling.MsgTypeAnswer, SDP: "v=0"}}},
		{"unreadable candidate", []signaling.Message{{Type: signaling.MsgTypeCandidate, Candidate: "{"}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := answerAgainst(t, tc.msgs...)
			assert.ErrorIs(t, err, signaling.ErrUnexpectedMessage)
		})
	}
}

func TestCandidateBeforeOfferIsQueued(t *testing.T) {
	candidate := `{"candidate":"candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host","sdpMid":"0","sdpMLineIndex":0}`
	err := answerAgainst(t,
		signaling.Message{Type: signaling.MsgTypeCandidate, Candidate: candidate},
		signaling.Message{Type: "bogus"},
	)
	// Applying the candidate without a remote description would have failed
	// first with a different error.
	assert.ErrorIs(t, err, signaling.ErrUnexpectedMessage)
	assert.Contains(t, err.Error(), "bogus")
}

func TestOfferRejectsOffer(t *testing.T) {
	conn := peerScript(t, func(conn *websocket.Conn) {
		var msg signaling.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.WriteJSON(signaling.Message{Type: signaling.MsgTypeOffer, SDP: msg.SDP})
		time.Sleep(time.Second)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	dc, err := transport.NewDataChannel(ctx, nil)
	require.NoError(t, err)
	defer dc.Close()

	assert.ErrorIs(t, signaling.Offer(ctx, conn, dc), signaling.ErrUnexpectedMessage)
}
