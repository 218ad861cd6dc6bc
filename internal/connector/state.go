package connector

// State is the Connector's lifecycle stage.
type State int32

const (
	StateConnecting State = iota
	StateRegistering
	StateAwaitingControl
	StateControlled
	StateActive
	StateUnreachable
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRegistering:
		return "registering"
	case StateAwaitingControl:
		return "awaiting-control"
	case StateControlled:
		return "controlled"
	case StateActive:
		return "active"
	default:
		return "unreachable"
	}
}

// Status is the user-facing indicator for a state. Connecting and
// Controlled have none and return "".
func (s State) Status() string {
	switch s {
	case StateRegistering:
		return "setup"
	case StateAwaitingControl:
		return "activating"
	case StateActive:
		return "active"
	case StateUnreachable:
		return "unreachable"
	default:
		return ""
	}
}
