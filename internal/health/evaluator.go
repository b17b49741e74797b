package health

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	// DefaultLinkStaleAfter is how long the link record may go without an
	// update before it is considered lost
	DefaultLinkStaleAfter = 2 * time.Second
)

// Thresholds holds the numeric limits readings are classified against.
// Populated from configuration once at startup and read-only afterwards.
type Thresholds struct {
	LowBattery      float64       // Battery percent at or below is LOW
	CriticalBattery float64       // Battery percent at or below is CRITICAL
	TempWarn        float64       // CPU degrees Celsius at or above is DEGRADED
	TempCritical    float64       // CPU degrees Celsius at or above is CRITICAL
	MinFreeBytes    uint64        // Free storage below this is DEGRADED
	RSSIDegraded    float64       // Signal at or above is DEGRADED (larger = weaker)
	RSSICritical    float64       // Signal at or above is CRITICAL
	LinkStaleAfter  time.Duration // Link silence before it is CRITICAL
}

// Evaluator classifies health snapshots into issues and an aggregate
// system state. It performs no I/O: callers refresh the records first and
// pass in snapshots, so one evaluation sees one consistent view.
type Evaluator struct {
	thresholds Thresholds
}

func NewEvaluator(thresholds Thresholds) *Evaluator {
	if thresholds.LinkStaleAfter <= 0 {
		thresholds.LinkStaleAfter = DefaultLinkStaleAfter
	}

	return &Evaluator{thresholds: thresholds}
}

// Evaluate runs all per-domain checks against the given snapshots and
// returns the aggregate state with the issues that produced it
func (e *Evaluator) Evaluate(drone DroneSnapshot, pi PiSnapshot, link LinkSnapshot, now time.Time) (SystemState, []Issue) {
	var issues []Issue
	issues = append(issues, e.evalDrone(drone, now)...)
	issues = append(issues, e.evalPi(pi, now)...)
	issues = append(issues, e.evalLink(link, now)...)

	return Aggregate(issues), issues
}

// BatteryState classifies the battery percent reading. An absent reading
// is UNKNOWN and produces no issue on its own.
func (e *Evaluator) BatteryState(s DroneSnapshot) BatteryState {
	if s.BatteryPercent == nil {
		return BatteryUnknown
	}

	switch percent := *s.BatteryPercent; {
	case percent <= e.thresholds.CriticalBattery:
		return BatteryCritical
	case percent <= e.thresholds.LowBattery:
		return BatteryLow
	default:
		return BatteryOK
	}
}

func (e *Evaluator) evalDrone(s DroneSnapshot, now time.Time) []Issue {
	switch e.BatteryState(s) {
	case BatteryCritical:
		return []Issue{{
			Source:    SourceDrone,
			Message:   fmt.Sprintf("battery critical: %.0f%%", *s.BatteryPercent),
			Severity:  SeverityCritical,
			Timestamp: now,
		}}
	case BatteryLow:
		return []Issue{{
			Source:    SourceDrone,
			Message:   fmt.Sprintf("battery low: %.0f%%", *s.BatteryPercent),
			Severity:  SeverityDegraded,
			Timestamp: now,
		}}
	default:
		return nil
	}
}

func (e *Evaluator) evalPi(s PiSnapshot, now time.Time) []Issue {
	var issues []Issue

	switch {
	case s.CPUTemp == nil:
		issues = append(issues, Issue{
			Source:    SourcePi,
			Message:   "core temperature unknown",
			Severity:  SeverityDegraded,
			Timestamp: now,
		})
	case *s.CPUTemp >= e.thresholds.TempCritical:
		issues = append(issues, Issue{
			Source:    SourcePi,
			Message:   fmt.Sprintf("core temperature critical: %.1fC", *s.CPUTemp),
			Severity:  SeverityCritical,
			Timestamp: now,
		})
	case *s.CPUTemp >= e.thresholds.TempWarn:
		issues = append(issues, Issue{
			Source:    SourcePi,
			Message:   fmt.Sprintf("core temperature high: %.1fC", *s.CPUTemp),
			Severity:  SeverityDegraded,
			Timestamp: now,
		})
	}

	switch {
	case s.FreeBytes == nil:
		issues = append(issues, Issue{
			Source:    SourcePi,
			Message:   "free storage unknown",
			Severity:  SeverityDegraded,
			Timestamp: now,
		})
	case *s.FreeBytes < e.thresholds.MinFreeBytes:
		issues = append(issues, Issue{
			Source:    SourcePi,
			Message:   fmt.Sprintf("low disk space: %s free", humanize.IBytes(*s.FreeBytes)),
			Severity:  SeverityDegraded,
			Timestamp: now,
		})
	}

	return issues
}

// evalLink treats staleness as worse than any reading: a silent link
// short-circuits to CRITICAL before signal strength is considered at all
func (e *Evaluator) evalLink(s LinkSnapshot, now time.Time) []Issue {
	if s.Stale(now, e.thresholds.LinkStaleAfter) {
		return []Issue{{
			Source:    SourceLink,
			Message:   "radio link stale (no updates)",
			Severity:  SeverityCritical,
			Timestamp: now,
		}}
	}

	if s.Signal == nil {
		return []Issue{{
			Source:    SourceLink,
			Message:   "radio signal unknown",
			Severity:  SeverityCritical,
			Timestamp: now,
		}}
	}

	switch signal := *s.Signal; {
	case signal >= e.thresholds.RSSICritical:
		return []Issue{{
			Source:    SourceLink,
			Message:   fmt.Sprintf("radio signal critical: %.0f", signal),
			Severity:  SeverityCritical,
			Timestamp: now,
		}}
	case signal >= e.thresholds.RSSIDegraded:
		return []Issue{{
			Source:    SourceLink,
			Message:   fmt.Sprintf("radio signal degraded: %.0f", signal),
			Severity:  SeverityDegraded,
			Timestamp: now,
		}}
	default:
		return nil
	}
}
