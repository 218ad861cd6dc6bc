// Package util provides logging, traffic statistics and small helpers shared
// by the relay and the connector.
package util

import (
	"hash/fnv"
)

// ConnectionTag computes a 4-byte tag from a connection's declared origin and
// remote address. The tag only identifies log lines and does not need to be
// reversible or unique.
func ConnectionTag(origin, remoteAddr string) Tag {
	h := fnv.New32a()
	h.Write([]byte(origin))
	h.Write([]byte(remoteAddr))
	return Tag(h.Sum32())
}
