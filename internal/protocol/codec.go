package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEnvelope is returned when a frame cannot be decoded into the
// expected envelope: bad JSON, wrong field types or missing required fields.
var ErrMalformedEnvelope = errors.New("malformed envelope")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedEnvelope, fmt.Sprintf(format, args...))
}

// Kind peeks at the "type" discriminator of a frame. Frames without one
// report an empty kind.
func Kind(data []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", malformed("%v", err)
	}
	return head.Type, nil
}

// EncodeRequest serializes a Request into a text frame.
func EncodeRequest(r *Request) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		*Request
	}{TypeRequest, r})
}

// EncodeResponse serializes a Response into a text frame.
func EncodeResponse(r *Response) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		*Response
	}{TypeResponse, r})
}

// EncodeHeartbeat serializes a Heartbeat into a text frame.
func EncodeHeartbeat(h Heartbeat) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Heartbeat
	}{TypeAlive, h})
}

// EncodeHandshake serializes a Handshake into a text frame.
func EncodeHandshake(h Handshake) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Handshake
	}{TypeConnect, h})
}

// DecodeRequest deserializes a request frame. id, url and method are
// required; a missing "type" is tolerated.
func DecodeRequest(data []byte) (*Request, error) {
	kind, err := Kind(data)
	if err != nil {
		return nil, err
	}
	if kind != "" && kind != TypeRequest {
		return nil, malformed("unexpected frame type %q for request", kind)
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, malformed("%v", err)
	}
	switch {
	case req.ID == "":
		return nil, malformed("request is missing id")
	case req.URL == "":
		return nil, malformed("request %s is missing url", req.ID)
	case req.Method == "":
		return nil, malformed("request %s is missing method", req.ID)
	}
	return &req, nil
}

// DecodeResponse deserializes a response frame. id, url and status are
// required.
func DecodeResponse(data []byte) (*Response, error) {
	var raw struct {
		Type   string `json:"type"`
		Status *int   `json:"status"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, malformed("%v", err)
	}
	if raw.Type != TypeResponse {
		return nil, malformed("unexpected frame type %q for response", raw.Type)
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, malformed("%v", err)
	}
	switch {
	case resp.ID == "":
		return nil, malformed("response is missing id")
	case resp.URL == "":
		return nil, malformed("response %s is missing url", resp.ID)
	case raw.Status == nil:
		return nil, malformed("response %s is missing status", resp.ID)
	}
	return &resp, nil
}

// DecodeHeartbeat deserializes an "alive" frame.
func DecodeHeartbeat(data []byte) (Heartbeat, error) {
	var raw struct {
		Type string `json:"type"`
		Time *int64 `json:"time"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Heartbeat{}, malformed("%v", err)
	}
	if raw.Type != TypeAlive || raw.Time == nil {
		return Heartbeat{}, malformed("not a heartbeat frame")
	}
	return Heartbeat{Time: *raw.Time}, nil
}

// DecodeHandshake deserializes a "connect" frame. origin is required and
// transport defaults to websocket.
func DecodeHandshake(data []byte) (Handshake, error) {
	var raw struct {
		Type string `json:"type"`
		Handshake
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Handshake{}, malformed("%v", err)
	}
	if raw.Type != TypeConnect {
		return Handshake{}, malformed("unexpected frame type %q for handshake", raw.Type)
	}
	if raw.Origin == "" {
		return Handshake{}, malformed("handshake is missing origin")
	}
	switch raw.Transport {
	case "":
		raw.Transport = TransportWebSocket
	case TransportWebSocket, TransportWebRTC:
	default:
		return Handshake{}, malformed("unknown transport %q", raw.Transport)
	}
	return raw.Handshake, nil
}
