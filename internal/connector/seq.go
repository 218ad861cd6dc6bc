package connector

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// idGen produces correlation ids: a per-session uuid followed by a
// monotonically increasing sequence number. It is shared by every caller of
// Do, so all operations are atomic.
type idGen struct {
	session string
	val     atomic.Uint64
}

func newIDGen() *idGen {
	return &idGen{session: uuid.NewString()}
}

// Next returns the next id. The first call yields sequence number 1.
func (g *idGen) Next() string {
	return g.session + "-" + strconv.FormatUint(g.val.Add(1), 10)
}
