package transmit

import "testing"

func TestPolicy_Batch(t *testing.T) {
	policy := Policy{
		BatchSize: 10,
		Good:      50,
		Degraded:  70,
		Critical:  85,
	}

	signal := func(v float64) *float64 { return &v }

	tests := []struct {
		name   string
		signal *float64
		want   int
	}{
		{"strong signal", signal(20), 10},
		{"just below good", signal(49.9), 10},
		{"good boundary", signal(50), 5},
		{"degrading", signal(69), 5},
		{"degraded boundary", signal(70), 1},
		{"weak", signal(84), 1},
		{"critical boundary", signal(85), 0},
		{"very weak", signal(110), 0},
		{"unknown signal", nil, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.Batch(tt.signal); got != tt.want {
				t.Errorf("Expected batch of %d, got %d", tt.want, got)
			}
		})
	}
}

func TestPolicy_BatchNeverZeroInHalfBand(t *testing.T) {
	policy := Policy{
		BatchSize: 1,
		Good:      50,
		Degraded:  70,
		Critical:  85,
	}

	signal := 60.0
	if got := policy.Batch(&signal); got != 1 {
		t.Errorf("Expected half batch to floor at 1, got %d", got)
	}
}

func TestDefaultPolicy(t *testing.T) {
	policy := DefaultPolicy()

	if policy.BatchSize != DefaultBatchSize {
		t.Errorf("Expected batch size %d, got %d", DefaultBatchSize, policy.BatchSize)
	}
	if policy.Good != DefaultGood || policy.Degraded != DefaultDegraded || policy.Critical != DefaultCritical {
		t.Errorf("Unexpected default thresholds: %+v", policy)
	}
}
