package capture

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

// Camera produces a single encoded JPEG frame
type Camera interface {
	Capture(profile Profile, altitude float64) ([]byte, error)
}

// WithLogger sets the logger for the controller
func WithLogger(logger *slog.Logger) func(c *Controller) {
	return func(c *Controller) {
		c.logger = logger.With(slog.String("component", "capture"))
	}
}

// Controller gates frame production: which profile is active, whether
// capture runs at all, and when the next frame is due. The mission loop
// drives it once per tick.
type Controller struct {
	camera Camera

	mu       sync.Mutex
	profile  Profile
	running  bool
	altitude float64
	lastShot time.Time

	logger *slog.Logger
}

// New creates a capture controller starting on the full profile, stopped
func New(camera Camera, options ...func(c *Controller)) *Controller {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	c := Controller{
		camera:  camera,
		profile: FullProfile(),
		logger:  logger,
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// Apply switches the active capture profile. Reapplying the current
// profile is a no-op so state entry effects stay idempotent.
func (c *Controller) Apply(profile Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.profile.Name == profile.Name {
		return
	}

	c.profile = profile
	c.logger.Info("capture profile applied",
		slog.String("profile", profile.Name),
		slog.Duration("interval", profile.Interval),
		slog.Int("quality", profile.JPEGQuality))
}

// Start enables frame production. Idempotent.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}

	c.running = true
	c.logger.Info("capture started", slog.String("profile", c.profile.Name))
}

// Stop disables frame production. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}

	c.running = false
	c.logger.Info("capture stopped")
}

// Running reports whether frames are being produced
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Profile returns the active capture profile
func (c *Controller) Profile() Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

// SetAltitude records the altitude stamped onto subsequent frames
func (c *Controller) SetAltitude(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.altitude = v
}

// Altitude returns the last recorded altitude
func (c *Controller) Altitude() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.altitude
}

// TryCapture produces a frame when capture is running and the profile
// interval has elapsed since the last shot. A failed shot still consumes
// the slot so a broken camera cannot flood the log at tick rate.
func (c *Controller) TryCapture(now time.Time) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, false
	}

	if !c.lastShot.IsZero() && now.Sub(c.lastShot) < c.profile.Interval {
		return nil, false
	}

	c.lastShot = now

	data, err := c.camera.Capture(c.profile, c.altitude)
	if err != nil {
		c.logger.Warn("capture failed", slog.Any("error", err))
		return nil, false
	}

	return data, true
}
