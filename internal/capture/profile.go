package capture

import "time"

// Profile names as they appear in image metadata and on the wire
const (
	FullProfileName    = "full"
	ReducedProfileName = "reduced"
)

// Profile describes how frames are produced: cadence and JPEG quality
type Profile struct {
	Name        string
	Interval    time.Duration
	JPEGQuality int
}

// FullProfile is the nominal capture profile
func FullProfile() Profile {
	return Profile{
		Name:        FullProfileName,
		Interval:    time.Second,
		JPEGQuality: 90,
	}
}

// ReducedProfile trades frame rate and quality for power and link budget
// while the system runs degraded
func ReducedProfile() Profile {
	return Profile{
		Name:        ReducedProfileName,
		Interval:    5 * time.Second,
		JPEGQuality: 50,
	}
}
