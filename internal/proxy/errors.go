package proxy

import (
	"errors"
	"fmt"
)

// ErrInvalidTarget is returned when a request URL is empty, unparseable or
// not absolute. No network traffic happens in that case.
var ErrInvalidTarget = errors.New("invalid target url")

// TransportError reports a failed backend exchange: the backend could not be
// reached or its response body could not be read.
type TransportError struct {
	Target string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backend request to %s failed: %v", e.Target, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
