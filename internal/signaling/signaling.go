// Package signaling runs the WebRTC offer/answer/candidate exchange over an
// already established WebSocket, upgrading a relay channel to a DataChannel.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/accesspoint/internal/transport"
	"github.com/1ureka/accesspoint/internal/util"
)

// openGracePeriod is how long a side keeps waiting for its DataChannel to
// open after the WebSocket went away. The peer closes its WebSocket as soon
// as its own DataChannel opens, which can be slightly earlier.
const openGracePeriod = 5 * time.Second

// Offer runs the offering side of the exchange (the relay): it sends the SDP
// offer, applies the answer and candidates, and returns once dc is open.
// The caller owns conn and should close it afterwards.
func Offer(ctx context.Context, conn *websocket.Conn, dc *transport.DataChannel) error {
	s := newSession(offerer, conn, dc)
	if err := s.describe(); err != nil {
		return fmt.Errorf("failed to send offer: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.run() }()
	return wait(ctx, dc, errCh)
}

// Answer runs the answering side of the exchange (the connector): it waits
// for the offer, replies with an answer, trades candidates, and returns once
// dc is open. The caller owns conn and should close it afterwards.
func Answer(ctx context.Context, conn *websocket.Conn, dc *transport.DataChannel) error {
	s := newSession(answerer, conn, dc)

	errCh := make(chan error, 1)
	go func() { errCh <- s.run() }()
	return wait(ctx, dc, errCh)
}

func wait(ctx context.Context, dc *transport.DataChannel, errCh <-chan error) error {
	select {
	case <-dc.Ready():
		util.LogDebug("WebRTC DataChannel established")
		return nil

	case err := <-errCh:
		if errors.Is(err, ErrUnexpectedMessage) {
			return fmt.Errorf("signaling failed: %w", err)
		}
		grace := time.NewTimer(openGracePeriod)
		defer grace.Stop()
		select {
		case <-dc.Ready():
			return nil
		case <-grace.C:
			return fmt.Errorf("signaling failed: %w", err)
		case <-ctx.Done():
			return ctx.Err()
		}

	case <-dc.Done():
		return fmt.Errorf("signaling failed: %w", transport.ErrClosed)

	case <-ctx.Done():
		return ctx.Err()
	}
}
