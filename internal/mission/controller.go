package mission

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/skysurvey/companion/internal/capture"
	"github.com/skysurvey/companion/internal/events"
	"github.com/skysurvey/companion/internal/health"
	"github.com/skysurvey/companion/internal/storage"
)

const (
	// DefaultTick is the mission loop period (10 Hz)
	DefaultTick = 100 * time.Millisecond

	// DefaultDroneStaleAfter is how long the flight controller may go
	// silent before the loop warns
	DefaultDroneStaleAfter = 2 * time.Second
)

// Capture is the slice of the capture subsystem the mission loop drives
type Capture interface {
	Apply(profile capture.Profile)
	Start()
	Stop()
	SetAltitude(v float64)
	Altitude() float64
	Profile() capture.Profile
	TryCapture(now time.Time) ([]byte, bool)
}

// Store persists captured frames
type Store interface {
	Save(data []byte, profile string, altitude float64) (*storage.ImageMetadata, error)
}

// Bus publishes mission events; satisfied by the events bus
type Bus interface {
	Publish(topic string, msg any)
}

// Evaluation is the outcome of one health evaluation pass
type Evaluation struct {
	State  health.SystemState `json:"state"`
	Issues []health.Issue     `json:"issues"`
	At     time.Time          `json:"at"`
}

// WithLogger sets the logger for the controller
func WithLogger(logger *slog.Logger) func(c *Controller) {
	return func(c *Controller) {
		c.logger = logger.With(slog.String("component", "mission"))
	}
}

// WithBus attaches an event bus for state changes, issues and saved frames
func WithBus(bus Bus) func(c *Controller) {
	return func(c *Controller) {
		c.bus = bus
	}
}

// WithTickRate sets the loop rate in ticks per second
func WithTickRate(hz float64) func(c *Controller) {
	return func(c *Controller) {
		if hz > 0 {
			c.tick = time.Duration(float64(time.Second) / hz)
		}
	}
}

// WithDroneStaleAfter overrides the heartbeat silence warning threshold
func WithDroneStaleAfter(d time.Duration) func(c *Controller) {
	return func(c *Controller) {
		if d > 0 {
			c.droneStaleAfter = d
		}
	}
}

// Controller owns the mission state machine. Once per tick it refreshes
// the onboard probes, evaluates health exactly once, steps the transition
// table on that single snapshot and applies the current state's capture
// effect.
type Controller struct {
	records   *health.Records
	evaluator *health.Evaluator
	capture   Capture
	store     Store
	bus       Bus

	tick            time.Duration
	droneStaleAfter time.Duration

	mu              sync.Mutex
	state           State
	startRequested  bool
	stopRequested   bool
	preflightPassed bool
	lastEval        Evaluation
	droneWasStale   bool

	done     chan struct{}
	doneOnce sync.Once

	logger *slog.Logger
}

// New creates a mission controller in INIT
func New(records *health.Records, evaluator *health.Evaluator, capture Capture, store Store, options ...func(c *Controller)) *Controller {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	c := Controller{
		records:         records,
		evaluator:       evaluator,
		capture:         capture,
		store:           store,
		tick:            DefaultTick,
		droneStaleAfter: DefaultDroneStaleAfter,
		done:            make(chan struct{}),
		logger:          logger,
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// PreflightCheck runs one evaluation and refuses on CRITICAL. Passing
// arms the INIT to PREFLIGHT transition for the next Update once start
// is requested.
func (c *Controller) PreflightCheck() bool {
	c.records.Pi.Update()

	now := time.Now()
	state, _ := c.evaluateOnce(c.records.Drone.Snapshot(), c.records.Pi.Snapshot(), c.records.Link.Snapshot(), now)

	if state == health.SystemCritical {
		c.logger.Error("preflight check failed", slog.String("system", state.String()))
		return false
	}

	c.mu.Lock()
	c.preflightPassed = true
	c.mu.Unlock()

	c.logger.Info("preflight check passed", slog.String("system", state.String()))
	return true
}

// RequestStart arms the forward transitions out of INIT, PREFLIGHT and READY
func (c *Controller) RequestStart() {
	c.mu.Lock()
	c.startRequested = true
	c.stopRequested = false
	c.mu.Unlock()

	c.logger.Info("mission start requested")
}

// RequestStop winds the mission down at the next tick. It cancels any
// start intent so the machine cannot advance past READY afterwards.
func (c *Controller) RequestStop() {
	c.mu.Lock()
	c.startRequested = false
	c.stopRequested = true
	c.mu.Unlock()

	c.logger.Info("mission stop requested")
}

// Update is the single per-tick entry point. One set of snapshots drives
// the evaluation, the transition decision and the logged issues.
func (c *Controller) Update(now time.Time) {
	c.records.Pi.Update()

	drone := c.records.Drone.Snapshot()
	pi := c.records.Pi.Snapshot()
	link := c.records.Link.Snapshot()

	state, _ := c.evaluateOnce(drone, pi, link, now)

	c.watchHeartbeat(drone, now)

	if drone.Altitude != nil {
		c.capture.SetAltitude(*drone.Altitude)
	}

	c.mu.Lock()
	cond := Conditions{
		System:          state,
		Armed:           drone.IsArmed(),
		StartRequested:  c.startRequested,
		StopRequested:   c.stopRequested,
		PreflightPassed: c.preflightPassed,
	}
	c.mu.Unlock()

	c.step(cond, now)
	c.applyEffect()
	c.captureFrame(now)
}

// Run ticks the controller until ctx is canceled or the mission reaches
// SHUTDOWN. Each tick is guarded so one fault costs a tick, not the loop.
func (c *Controller) Run(ctx context.Context) {
	c.logger.Info("mission loop started", slog.Duration("tick", c.tick))

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("mission loop stopped")
			return
		case <-c.done:
			c.logger.Info("mission complete")
			return
		case now := <-ticker.C:
			c.tickOnce(now)
		}
	}
}

// Done is closed when the mission reaches SHUTDOWN
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// State returns the current mission state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastEvaluation returns the most recent health evaluation
func (c *Controller) LastEvaluation() Evaluation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEval
}

func (c *Controller) tickOnce(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("mission tick panicked", slog.Any("panic", r))
		}
	}()

	c.Update(now)
}

// evaluateOnce runs the evaluator on one consistent set of snapshots.
// Issues are logged and published when the set changes, not every tick.
func (c *Controller) evaluateOnce(drone health.DroneSnapshot, pi health.PiSnapshot, link health.LinkSnapshot, now time.Time) (health.SystemState, []health.Issue) {
	state, issues := c.evaluator.Evaluate(drone, pi, link, now)

	c.mu.Lock()
	changed := !sameIssues(c.lastEval.Issues, issues)
	c.lastEval = Evaluation{State: state, Issues: issues, At: now}
	c.mu.Unlock()

	if changed {
		for _, issue := range issues {
			if issue.Severity >= health.SeverityCritical {
				c.logger.Error("critical health issue",
					slog.String("source", string(issue.Source)),
					slog.String("message", issue.Message))
			}
			c.publish(events.TopicHealthIssue, issue)
		}
	}

	return state, issues
}

// watchHeartbeat warns when the flight controller goes silent. Heartbeat
// staleness is not an evaluator issue: the link checks cover the radio,
// this covers the autopilot connection itself.
func (c *Controller) watchHeartbeat(drone health.DroneSnapshot, now time.Time) {
	stale := drone.Stale(now, c.droneStaleAfter)

	c.mu.Lock()
	changed := stale != c.droneWasStale
	c.droneWasStale = stale
	c.mu.Unlock()

	if !changed {
		return
	}

	if stale {
		c.logger.Warn("no heartbeat from flight controller")
	} else {
		c.logger.Info("heartbeat restored")
	}
}

func (c *Controller) step(cond Conditions, now time.Time) {
	c.mu.Lock()
	from := c.state
	to := Next(from, cond)
	c.state = to
	c.mu.Unlock()

	if to == from {
		return
	}

	c.logger.Info("mission state changed",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("system", cond.System.String()))

	c.publish(events.TopicMissionState, events.StateChange{
		From: from.String(),
		To:   to.String(),
		At:   now,
	})

	if to == StateShutdown {
		c.doneOnce.Do(func() { close(c.done) })
	}
}

func (c *Controller) applyEffect() {
	switch EffectFor(c.State()) {
	case EffectCaptureFull:
		c.capture.Apply(capture.FullProfile())
		c.capture.Start()
	case EffectCaptureReduced:
		c.capture.Apply(capture.ReducedProfile())
		c.capture.Start()
	case EffectCaptureStop:
		c.capture.Stop()
	}
}

// captureFrame pulls a frame if one is due and hands it to storage. The
// capture controller's running flag and interval gate decide whether a
// frame is produced at all.
func (c *Controller) captureFrame(now time.Time) {
	frame, ok := c.capture.TryCapture(now)
	if !ok {
		return
	}

	meta, err := c.store.Save(frame, c.capture.Profile().Name, c.capture.Altitude())
	if err != nil {
		c.logger.Error("saving frame", slog.Any("error", err))
		return
	}

	c.publish(events.TopicImageSaved, events.ImageEvent{
		Filename:  meta.Filename,
		SizeBytes: meta.SizeBytes,
		Profile:   meta.Profile,
		Altitude:  meta.Altitude,
	})
}

func (c *Controller) publish(topic string, msg any) {
	if c.bus != nil {
		c.bus.Publish(topic, msg)
	}
}

func sameIssues(a, b []health.Issue) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Source != b[i].Source || a[i].Severity != b[i].Severity || a[i].Message != b[i].Message {
			return false
		}
	}
	return true
}
