package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jpillora/sizestr"
	"github.com/pterm/pterm"
)

// Stats is the process-wide traffic counter.
var Stats = &stats{}

type stats struct {
	OpenedConns atomic.Int64 // channels accepted (or dialled) since process start
	ClosedConns atomic.Int64 // channels closed since process start
	Requests    atomic.Int64 // request envelopes dispatched or sent
	BytesSent   atomic.Int64 // bytes written to channels
	BytesRecv   atomic.Int64 // bytes read from channels
}

func (s *stats) AddConn()      { s.OpenedConns.Add(1) }
func (s *stats) RemoveConn()   { s.ClosedConns.Add(1) }
func (s *stats) AddRequest()   { s.Requests.Add(1) }
func (s *stats) AddSent(n int) { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int) { s.BytesRecv.Add(int64(n)) }

// Active returns the number of channels currently open.
func (s *stats) Active() int64 { return s.OpenedConns.Load() - s.ClosedConns.Load() }

// StartStatsReporter launches a goroutine that logs traffic statistics every
// interval whenever something changed. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur, prev, interval))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

type snapshot struct {
	opened, closed, requests, sent, recv int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		opened:   s.OpenedConns.Load(),
		closed:   s.ClosedConns.Load(),
		requests: s.Requests.Load(),
		sent:     s.BytesSent.Load(),
		recv:     s.BytesRecv.Load(),
	}
}

// formatStats renders the difference between two snapshots as one log line.
func formatStats(cur, prev snapshot, interval time.Duration) string {
	secs := int64(interval / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("In: %s/s | Out: %s/s | Req: %d | Conn: %d active (%d↑ %d↓)",
		sizestr.ToString((cur.recv-prev.recv)/secs),
		sizestr.ToString((cur.sent-prev.sent)/secs),
		cur.requests-prev.requests,
		cur.opened-cur.closed,
		cur.opened-prev.opened,
		cur.closed-prev.closed,
	)
}
