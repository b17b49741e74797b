package mission

import "fmt"

// State is a mission phase. The zero value is INIT.
type State int

const (
	StateInit State = iota
	StatePreflight
	StateReady
	StateCapturing
	StateDegraded
	StateFailsafe
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StatePreflight:
		return "PREFLIGHT"
	case StateReady:
		return "READY"
	case StateCapturing:
		return "CAPTURING"
	case StateDegraded:
		return "DEGRADED"
	case StateFailsafe:
		return "FAILSAFE"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
