package mission

import "github.com/skysurvey/companion/internal/health"

// Conditions is the single per-tick snapshot the transition table
// consumes. Building it once per tick means the transition decision and
// the logged issues always agree.
type Conditions struct {
	System          health.SystemState
	Armed           bool
	StartRequested  bool
	StopRequested   bool
	PreflightPassed bool
}

type transition struct {
	from State
	when func(c Conditions) bool
	to   State
}

// table is evaluated top to bottom, first match wins. Within a state the
// CRITICAL row comes first so a critical failure pre-empts milder
// conditions seen in the same tick.
var table = []transition{
	{StateInit, func(c Conditions) bool { return c.StartRequested && c.PreflightPassed }, StatePreflight},
	{StatePreflight, func(c Conditions) bool { return c.Armed && c.StartRequested }, StateReady},
	{StateReady, func(c Conditions) bool { return c.Armed && c.StartRequested }, StateCapturing},

	{StateCapturing, func(c Conditions) bool { return c.System == health.SystemCritical }, StateFailsafe},
	{StateCapturing, func(c Conditions) bool { return c.System == health.SystemDegraded }, StateDegraded},
	{StateCapturing, func(c Conditions) bool { return !c.Armed }, StateShutdown},
	{StateCapturing, func(c Conditions) bool { return c.StopRequested }, StateShutdown},

	{StateDegraded, func(c Conditions) bool { return c.System == health.SystemCritical }, StateFailsafe},
	{StateDegraded, func(c Conditions) bool { return c.System == health.SystemOK }, StateCapturing},
	{StateDegraded, func(c Conditions) bool { return !c.Armed }, StateShutdown},
	{StateDegraded, func(c Conditions) bool { return c.StopRequested }, StateShutdown},

	{StateFailsafe, func(c Conditions) bool { return true }, StateShutdown},
}

// Next returns the state the table moves to from the given state, or the
// same state when no row matches. SHUTDOWN has no rows and is terminal.
func Next(from State, c Conditions) State {
	for _, t := range table {
		if t.from == from && t.when(c) {
			return t.to
		}
	}
	return from
}

// Effect is the capture-side consequence of being in a state
type Effect int

const (
	EffectNone Effect = iota
	EffectCaptureFull
	EffectCaptureReduced
	EffectCaptureStop
)

// EffectFor maps a state to its capture effect. Pure: the controller
// applies the result, keeping I/O out of the transition engine. Effects
// are idempotent and re-applied every tick for the current state.
func EffectFor(s State) Effect {
	switch s {
	case StateCapturing:
		return EffectCaptureFull
	case StateDegraded:
		return EffectCaptureReduced
	case StateInit, StateFailsafe, StateShutdown:
		return EffectCaptureStop
	default:
		return EffectNone
	}
}
