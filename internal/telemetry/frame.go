package telemetry

// Frame types carried on the wire
const (
	FrameHeartbeat = "heartbeat"
	FrameBattery   = "battery"
	FramePosition  = "position"
	FrameLink      = "link"
)

// Frame is one NDJSON telemetry line. A single struct covers all frame
// types; pointer fields stay nil when a key is absent so downstream
// records can tell zero from not-reported.
type Frame struct {
	Type string `json:"type"`

	// heartbeat
	Armed *bool  `json:"armed,omitempty"`
	Mode  string `json:"mode,omitempty"`

	// battery
	Percent *float64 `json:"percent,omitempty"`
	Voltage *float64 `json:"voltage,omitempty"`

	// position
	Alt *float64 `json:"alt,omitempty"`
	Fix int      `json:"fix,omitempty"`

	// link
	Signal *float64 `json:"signal,omitempty"`
	Remote *float64 `json:"remote,omitempty"`
	Errors int      `json:"errors,omitempty"`
}
