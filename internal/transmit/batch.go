package transmit

const (
	// DefaultBatchSize is the full batch when the link is healthy
	DefaultBatchSize = 10

	// Default signal ladder, RSSI-style: larger is weaker
	DefaultGood     = 50
	DefaultDegraded = 70
	DefaultCritical = 85
)

// Policy sizes a transmission batch from link quality. Batch size is a
// step function of the signal, not a continuous scale.
type Policy struct {
	BatchSize int     // Images per cycle on a healthy link
	Good      float64 // Signal below this takes the full batch
	Degraded  float64 // Signal below this takes half the batch
	Critical  float64 // Signal below this takes one; at or above, none
}

// DefaultPolicy returns the stock signal ladder
func DefaultPolicy() Policy {
	return Policy{
		BatchSize: DefaultBatchSize,
		Good:      DefaultGood,
		Degraded:  DefaultDegraded,
		Critical:  DefaultCritical,
	}
}

// Batch returns how many images to attempt this cycle. An unknown signal
// substitutes the good threshold itself, which lands in the half-batch
// band: not blind trust, not a stall.
func (p Policy) Batch(signal *float64) int {
	s := p.Good
	if signal != nil {
		s = *signal
	}

	switch {
	case s < p.Good:
		return p.BatchSize
	case s < p.Degraded:
		return max(1, p.BatchSize/2)
	case s < p.Critical:
		return 1
	default:
		return 0
	}
}
