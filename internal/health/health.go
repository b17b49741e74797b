package health

import (
	"fmt"
	"time"
)

// Severity ranks how serious a detected issue is
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityDegraded
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityDegraded:
		return "DEGRADED"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Source identifies the subsystem an issue was detected in
type Source string

const (
	SourceDrone Source = "DRONE"
	SourcePi    Source = "PI"
	SourceLink  Source = "LINK"
)

// Issue is a single detected health problem. Issues are produced by an
// evaluation pass and logged or published; they are never persisted.
type Issue struct {
	Source    Source    `json:"source"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// SystemState is the aggregate health of the whole system, the maximum
// severity across all current issues
type SystemState int

const (
	SystemOK SystemState = iota
	SystemDegraded
	SystemCritical
)

func (s SystemState) String() string {
	switch s {
	case SystemOK:
		return "OK"
	case SystemDegraded:
		return "DEGRADED"
	case SystemCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("SystemState(%d)", int(s))
	}
}

// Aggregate reduces a list of issues to the aggregate system state.
// An empty list is OK.
func Aggregate(issues []Issue) SystemState {
	state := SystemOK
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical:
			return SystemCritical
		case SeverityDegraded:
			state = SystemDegraded
		}
	}
	return state
}

// BatteryState classifies the battery reading against configured thresholds
type BatteryState int

const (
	BatteryUnknown BatteryState = iota
	BatteryOK
	BatteryLow
	BatteryCritical
)

func (s BatteryState) String() string {
	switch s {
	case BatteryOK:
		return "OK"
	case BatteryLow:
		return "LOW"
	case BatteryCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}
