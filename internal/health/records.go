package health

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

// DroneSnapshot is a copy of the vehicle-side readings taken under the
// record lock. Pointer fields are nil until telemetry supplies a value.
type DroneSnapshot struct {
	BatteryPercent *float64  // Remaining battery 0-100
	BatteryVoltage *float64  // Battery voltage in volts
	Armed          *bool     // Motors armed; nil until the first heartbeat
	Mode           string    // Flight mode reported by the heartbeat
	Altitude       *float64  // Relative altitude in meters
	FixQuality     int       // GPS fix type
	LastUpdate     time.Time // When any field was last written
}

// Stale reports whether no update arrived within timeout. A record that
// was never updated is stale.
func (s DroneSnapshot) Stale(now time.Time, timeout time.Duration) bool {
	return s.LastUpdate.IsZero() || now.Sub(s.LastUpdate) > timeout
}

// IsArmed treats an unknown armed flag as not armed
func (s DroneSnapshot) IsArmed() bool {
	return s.Armed != nil && *s.Armed
}

// DroneHealth holds vehicle-side readings pushed in by the telemetry feed.
// Setters replace pointer fields rather than writing through them, so a
// snapshot stays stable after it is taken.
type DroneHealth struct {
	mu   sync.Mutex
	snap DroneSnapshot
}

func (d *DroneHealth) SetHeartbeat(armed bool, mode string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap.Armed = &armed
	d.snap.Mode = mode
	d.snap.LastUpdate = time.Now()
}

func (d *DroneHealth) SetBattery(percent, voltage *float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap.BatteryPercent = percent
	d.snap.BatteryVoltage = voltage
	d.snap.LastUpdate = time.Now()
}

func (d *DroneHealth) SetPosition(altitude *float64, fixQuality int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap.Altitude = altitude
	d.snap.FixQuality = fixQuality
	d.snap.LastUpdate = time.Now()
}

// Snapshot returns a copy of the current readings
func (d *DroneHealth) Snapshot() DroneSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snap
}

// PiSnapshot is a copy of the onboard-computer readings
type PiSnapshot struct {
	CPUTemp    *float64 // Core temperature in degrees Celsius
	FreeBytes  *uint64  // Free bytes on the image storage volume
	LastUpdate time.Time
}

// WithLogger sets the logger for PiHealth probe warnings
func WithLogger(logger *slog.Logger) func(p *PiHealth) {
	return func(p *PiHealth) {
		p.logger = logger
	}
}

// WithThermalPath overrides the sysfs thermal zone file
func WithThermalPath(path string) func(p *PiHealth) {
	return func(p *PiHealth) {
		p.thermalPath = path
	}
}

// WithProbes substitutes the host probe functions
func WithProbes(readTemp func(path string) (float64, error), freeSpace func(path string) (uint64, error)) func(p *PiHealth) {
	return func(p *PiHealth) {
		p.readTemp = readTemp
		p.freeSpace = freeSpace
	}
}

// PiHealth samples the companion computer itself: SoC temperature and free
// space on the volume holding captured images. Unlike the other records it
// is refreshed by an explicit Update call, not by inbound telemetry.
type PiHealth struct {
	mu   sync.Mutex
	snap PiSnapshot

	statPath    string
	thermalPath string
	readTemp    func(path string) (float64, error)
	freeSpace   func(path string) (uint64, error)

	logger *slog.Logger
}

// NewPiHealth creates a PiHealth probing the filesystem containing statPath
func NewPiHealth(statPath string, options ...func(p *PiHealth)) *PiHealth {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	p := PiHealth{
		statPath:    statPath,
		thermalPath: ThermalZonePath,
		readTemp:    readCoreTemp,
		freeSpace:   freeSpace,
		logger:      logger,
	}

	for _, option := range options {
		option(&p)
	}

	return &p
}

// Update samples the host. A failed probe clears the corresponding reading
// and is logged, never returned: the evaluator treats missing readings as
// unhealthy on its own.
func (p *PiHealth) Update() {
	temp, tempErr := p.readTemp(p.thermalPath)
	free, freeErr := p.freeSpace(p.statPath)

	p.mu.Lock()
	defer p.mu.Unlock()

	if tempErr != nil {
		p.snap.CPUTemp = nil
		p.logger.Warn("core temperature probe failed", slog.Any("error", tempErr))
	} else {
		p.snap.CPUTemp = &temp
	}

	if freeErr != nil {
		p.snap.FreeBytes = nil
		p.logger.Warn("free space probe failed", slog.Any("error", freeErr))
	} else {
		p.snap.FreeBytes = &free
	}

	p.snap.LastUpdate = time.Now()
}

// Snapshot returns a copy of the current readings
func (p *PiHealth) Snapshot() PiSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// LinkSnapshot is a copy of the radio-link readings. Signal values follow
// the RSSI convention used across the agent: smaller means stronger.
type LinkSnapshot struct {
	Signal       *float64 // Local signal strength
	RemoteSignal *float64 // Signal strength reported by the remote end
	ErrorCount   int      // Receive error counter
	Connected    bool     // True once any quality report arrived
	LastUpdate   time.Time
}

// Stale reports whether no update arrived within timeout
func (s LinkSnapshot) Stale(now time.Time, timeout time.Duration) bool {
	return s.LastUpdate.IsZero() || now.Sub(s.LastUpdate) > timeout
}

// LinkHealth holds radio-link quality pushed in by the telemetry feed
type LinkHealth struct {
	mu   sync.Mutex
	snap LinkSnapshot
}

func (l *LinkHealth) SetQuality(signal, remoteSignal *float64, errorCount int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap.Signal = signal
	l.snap.RemoteSignal = remoteSignal
	l.snap.ErrorCount = errorCount
	l.snap.Connected = true
	l.snap.LastUpdate = time.Now()
}

// Snapshot returns a copy of the current readings
func (l *LinkHealth) Snapshot() LinkSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap
}

// Records bundles the three health domains and receives inbound telemetry
// updates on their behalf
type Records struct {
	Drone *DroneHealth
	Pi    *PiHealth
	Link  *LinkHealth
}

// NewRecords creates the record set around an already configured PiHealth
func NewRecords(pi *PiHealth) *Records {
	return &Records{
		Drone: &DroneHealth{},
		Pi:    pi,
		Link:  &LinkHealth{},
	}
}

func (r *Records) OnHeartbeat(armed bool, mode string) {
	r.Drone.SetHeartbeat(armed, mode)
}

func (r *Records) OnBattery(percent, voltage *float64) {
	r.Drone.SetBattery(percent, voltage)
}

func (r *Records) OnPosition(altitude *float64, fixQuality int) {
	r.Drone.SetPosition(altitude, fixQuality)
}

func (r *Records) OnLinkQuality(signal, remoteSignal *float64, errorCount int) {
	r.Link.SetQuality(signal, remoteSignal, errorCount)
}
