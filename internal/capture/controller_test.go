package capture

import (
	"errors"
	"testing"
	"time"
)

type fakeCamera struct {
	calls    int
	profiles []Profile
	altitude float64
	err      error
}

func (c *fakeCamera) Capture(profile Profile, altitude float64) ([]byte, error) {
	c.calls++
	c.profiles = append(c.profiles, profile)
	c.altitude = altitude
	if c.err != nil {
		return nil, c.err
	}
	return []byte{0xff, 0xd8, 0xff}, nil
}

func TestController_NotRunning(t *testing.T) {
	camera := &fakeCamera{}
	c := New(camera)

	if _, ok := c.TryCapture(time.Now()); ok {
		t.Error("Expected no frame before Start")
	}

	c.Start()
	c.Stop()

	if _, ok := c.TryCapture(time.Now()); ok {
		t.Error("Expected no frame after Stop")
	}
	if camera.calls != 0 {
		t.Errorf("Expected camera untouched, got %d calls", camera.calls)
	}
}

func TestController_IntervalGate(t *testing.T) {
	camera := &fakeCamera{}
	c := New(camera)
	c.Start()

	now := time.Now()

	if _, ok := c.TryCapture(now); !ok {
		t.Fatal("Expected first frame immediately")
	}
	if _, ok := c.TryCapture(now.Add(500 * time.Millisecond)); ok {
		t.Error("Expected gate to hold inside the interval")
	}
	if _, ok := c.TryCapture(now.Add(time.Second)); !ok {
		t.Error("Expected frame once the interval elapsed")
	}
	if camera.calls != 2 {
		t.Errorf("Expected 2 captures, got %d", camera.calls)
	}
}

func TestController_ApplyProfile(t *testing.T) {
	camera := &fakeCamera{}
	c := New(camera)
	c.Start()

	c.Apply(ReducedProfile())

	now := time.Now()
	if _, ok := c.TryCapture(now); !ok {
		t.Fatal("Expected a frame")
	}
	if got := camera.profiles[0].Name; got != ReducedProfileName {
		t.Errorf("Expected reduced profile, got %s", got)
	}

	// reduced interval is 5s, 1s is no longer enough
	if _, ok := c.TryCapture(now.Add(time.Second)); ok {
		t.Error("Expected reduced interval to hold at 1s")
	}
	if _, ok := c.TryCapture(now.Add(5 * time.Second)); !ok {
		t.Error("Expected frame after the reduced interval")
	}
}

func TestController_ApplySameProfileKeepsState(t *testing.T) {
	c := New(&fakeCamera{})

	c.Apply(ReducedProfile())
	before := c.Profile()
	c.Apply(ReducedProfile())

	if got := c.Profile(); got != before {
		t.Errorf("Expected profile unchanged, got %+v", got)
	}
}

func TestController_FailedShotConsumesSlot(t *testing.T) {
	camera := &fakeCamera{err: errors.New("sensor fault")}
	c := New(camera)
	c.Start()

	now := time.Now()
	if _, ok := c.TryCapture(now); ok {
		t.Fatal("Expected capture failure to yield no frame")
	}
	if _, ok := c.TryCapture(now.Add(100 * time.Millisecond)); ok {
		t.Error("Expected failed shot to consume the interval slot")
	}
	if camera.calls != 1 {
		t.Errorf("Expected a single camera call, got %d", camera.calls)
	}
}

func TestController_Altitude(t *testing.T) {
	camera := &fakeCamera{}
	c := New(camera)
	c.Start()
	c.SetAltitude(142.5)

	if got := c.Altitude(); got != 142.5 {
		t.Errorf("Expected altitude 142.5, got %f", got)
	}

	if _, ok := c.TryCapture(time.Now()); !ok {
		t.Fatal("Expected a frame")
	}
	if camera.altitude != 142.5 {
		t.Errorf("Expected altitude 142.5 passed to camera, got %f", camera.altitude)
	}
}
