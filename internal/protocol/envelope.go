// Package protocol defines the envelopes exchanged over a relay channel and
// their JSON wire encoding.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Frame type discriminators carried in the "type" field.
const (
	TypeConnect  = "connect"
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeAlive    = "alive"
)

// Channel transports a Connector may ask for in its Handshake.
const (
	TransportWebSocket = "websocket"
	TransportWebRTC    = "webrtc"
)

// Header is a single header line. Headers travel as an ordered list rather
// than a map because HTTP allows repeated names whose order matters.
type Header struct {
	Name  string
	Value string
}

// MarshalJSON encodes the header as a [name, value] pair.
func (h Header) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{h.Name, h.Value})
}

// UnmarshalJSON accepts exactly a two-element array of strings.
func (h *Header) UnmarshalJSON(data []byte) error {
	var pair []*string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("header must be a [name, value] pair, got %d elements", len(pair))
	}
	if pair[0] == nil || pair[1] == nil {
		return errors.New("header name and value must be strings, got null")
	}
	h.Name, h.Value = *pair[0], *pair[1]
	return nil
}

// Headers is an ordered header list.
type Headers []Header

// MarshalJSON always emits a list, never null.
func (hs Headers) MarshalJSON() ([]byte, error) {
	if hs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Header(hs))
}

// UnmarshalJSON decodes a list of pairs; an empty list decodes to nil.
func (hs *Headers) UnmarshalJSON(data []byte) error {
	var list []Header
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	if len(list) == 0 {
		*hs = nil
		return nil
	}
	*hs = list
	return nil
}

// Get returns the first value for name, matched case-insensitively.
func (hs Headers) Get(name string) string {
	for _, h := range hs {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Values returns every value for name in order.
func (hs Headers) Values(name string) []string {
	var out []string
	for _, h := range hs {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

// Without returns a copy of hs with every header whose name is in names
// (case-insensitive) removed. hs itself is not modified.
func (hs Headers) Without(names ...string) Headers {
	out := make(Headers, 0, len(hs))
next:
	for _, h := range hs {
		for _, n := range names {
			if strings.EqualFold(h.Name, n) {
				continue next
			}
		}
		out = append(out, h)
	}
	return out
}

// Set replaces every header called name with a single name: value entry,
// keeping the position of the first occurrence. It returns the new list.
func (hs Headers) Set(name, value string) Headers {
	out := make(Headers, 0, len(hs)+1)
	replaced := false
	for _, h := range hs {
		if strings.EqualFold(h.Name, name) {
			if !replaced {
				out = append(out, Header{Name: name, Value: value})
				replaced = true
			}
			continue
		}
		out = append(out, h)
	}
	if !replaced {
		out = append(out, Header{Name: name, Value: value})
	}
	return out
}

// Request is an HTTP-shaped request travelling from a Connector to the relay.
// Body is handed over by reference: callers must not mutate it after
// passing the Request on.
type Request struct {
	ID      string  `json:"id"`
	URL     string  `json:"url"`
	Method  string  `json:"method"`
	Headers Headers `json:"headers"`
	Body    []byte  `json:"body,omitempty"`
}

// Response answers the Request with the same ID.
type Response struct {
	ID         string  `json:"id"`
	URL        string  `json:"url"`
	Redirected bool    `json:"redirected"`
	Status     int     `json:"status"`
	StatusText string  `json:"statusText"`
	Headers    Headers `json:"headers"`
	Body       []byte  `json:"body"`
}

// Heartbeat is the relay's liveness signal. It expects no reply.
type Heartbeat struct {
	Time int64 `json:"time"` // unix milliseconds
}

// Handshake opens a channel. It is the first frame a Connector sends.
type Handshake struct {
	Origin    string `json:"origin"`
	Transport string `json:"transport,omitempty"`
}
