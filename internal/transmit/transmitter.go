package transmit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/skysurvey/companion/internal/events"
	"github.com/skysurvey/companion/internal/storage"
	"github.com/skysurvey/companion/internal/wire"
)

const (
	// DefaultPeriod is how often a transmission cycle runs. Much slower
	// than the mission tick so a degraded network cannot stall
	// mission-state evaluation.
	DefaultPeriod = 5 * time.Second
)

// Store is the slice of the storage manager the transmitter drives
type Store interface {
	GetPending(max int) []storage.ImageMetadata
	MarkSending(filename string) error
	MarkSent(filename string) error
	MarkFailed(filename string) error
}

// SignalFunc supplies the current link signal for a cycle, nil when the
// telemetry feed has not reported one yet
type SignalFunc func() *float64

// Bus publishes delivered-image events; satisfied by the events bus
type Bus interface {
	Publish(topic string, msg any)
}

// Stats accumulates transmission outcomes across cycles
type Stats struct {
	ImagesSent   uint64    `json:"images_sent"`
	BytesSent    uint64    `json:"bytes_sent"`
	SendFailures uint64    `json:"send_failures"`
	LastCycle    time.Time `json:"last_cycle"`
	LastSent     int       `json:"last_sent"`
	LastBytes    int64     `json:"last_bytes"`
	LastSignal   *float64  `json:"last_signal,omitempty"`
}

// WithLogger sets the logger for the transmitter
func WithLogger(logger *slog.Logger) func(t *Transmitter) {
	return func(t *Transmitter) {
		t.logger = logger.With(slog.String("component", "transmit"))
	}
}

// WithPeriod overrides the cycle period
func WithPeriod(period time.Duration) func(t *Transmitter) {
	return func(t *Transmitter) {
		if period > 0 {
			t.period = period
		}
	}
}

// WithBus attaches an event bus announcing each delivered image
func WithBus(bus Bus) func(t *Transmitter) {
	return func(t *Transmitter) {
		t.bus = bus
	}
}

// Transmitter drains pending images toward the ground station, sizing
// each batch by link quality. It runs on its own schedule, independent of
// the mission loop.
type Transmitter struct {
	store  Store
	sender Sender
	policy Policy
	signal SignalFunc
	bus    Bus
	period time.Duration

	mu    sync.Mutex
	stats Stats

	logger *slog.Logger
}

// New creates a transmitter. signal may be nil when no live link-quality
// source exists; every cycle then runs in the half-batch band.
func New(store Store, sender Sender, policy Policy, signal SignalFunc, options ...func(t *Transmitter)) *Transmitter {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	if policy.BatchSize <= 0 {
		policy.BatchSize = DefaultBatchSize
	}

	t := Transmitter{
		store:  store,
		sender: sender,
		policy: policy,
		signal: signal,
		period: DefaultPeriod,
		logger: logger,
	}

	for _, option := range options {
		option(&t)
	}

	return &t
}

// Transmit runs one batch cycle: size the batch from the signal, pull that
// many pending images oldest-first, and send them one by one. A single
// image failing is recorded and the batch continues; socket errors never
// propagate to the caller. Returns images and bytes delivered.
func (t *Transmitter) Transmit(ctx context.Context, signal *float64) (int, int64) {
	batch := t.policy.Batch(signal)
	if batch == 0 {
		t.logger.Debug("link too weak, skipping cycle", signalAttr(signal))
		t.recordCycle(0, 0, signal)
		return 0, 0
	}

	pending := t.store.GetPending(batch)
	if len(pending) == 0 {
		t.recordCycle(0, 0, signal)
		return 0, 0
	}

	t.logger.Info("transmitting batch",
		slog.Int("images", len(pending)),
		slog.Int("batch", batch),
		signalAttr(signal))

	var sent int
	var bytesSent int64
	for _, meta := range pending {
		if ctx.Err() != nil {
			break
		}

		if err := t.sendOne(ctx, meta); err != nil {
			t.logger.Warn("send failed",
				slog.String("filename", meta.Filename),
				slog.Any("error", err))
			if err := t.store.MarkFailed(meta.Filename); err != nil {
				t.logger.Warn("recording send failure", slog.Any("error", err))
			}
			t.addFailure()
			continue
		}

		if err := t.store.MarkSent(meta.Filename); err != nil {
			t.logger.Warn("recording sent image", slog.Any("error", err))
		}
		t.publish(events.TopicImageSent, events.ImageEvent{
			Filename:  meta.Filename,
			SizeBytes: meta.SizeBytes,
			Profile:   meta.Profile,
			Altitude:  meta.Altitude,
		})
		sent++
		bytesSent += meta.SizeBytes
	}

	t.logger.Info("batch done",
		slog.Int("sent", sent),
		slog.Int("attempted", len(pending)),
		slog.String("bytes", humanize.IBytes(uint64(bytesSent))))

	t.recordCycle(sent, bytesSent, signal)
	return sent, bytesSent
}

// Run transmits on a fixed period until ctx is canceled. Each cycle body
// is guarded so one unexpected fault costs a cycle, not the loop.
func (t *Transmitter) Run(ctx context.Context) {
	t.logger.Info("transmission loop started", slog.Duration("period", t.period))

	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("transmission loop stopped")
			return
		case <-ticker.C:
			t.cycle(ctx)
		}
	}
}

// Stats returns a copy of the accumulated transmission counters
func (t *Transmitter) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *Transmitter) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("transmission cycle panicked", slog.Any("panic", r))
		}
	}()

	var signal *float64
	if t.signal != nil {
		signal = t.signal()
	}
	t.Transmit(ctx, signal)
}

func (t *Transmitter) sendOne(ctx context.Context, meta storage.ImageMetadata) error {
	image, err := os.ReadFile(meta.Path)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	packet, err := wire.Encode(wire.Meta{
		Filename:  meta.Filename,
		Timestamp: float64(meta.Timestamp.UnixNano()) / float64(time.Second),
		SizeBytes: meta.SizeBytes,
		Profile:   meta.Profile,
		Altitude:  meta.Altitude,
	}, image, meta.MD5Hash)
	if err != nil {
		return fmt.Errorf("framing packet: %w", err)
	}

	if err := t.store.MarkSending(meta.Filename); err != nil {
		// Likely evicted since GetPending; nothing left to send
		return fmt.Errorf("marking in flight: %w", err)
	}

	return t.sender.Send(ctx, packet)
}

func (t *Transmitter) recordCycle(sent int, bytesSent int64, signal *float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.ImagesSent += uint64(sent)
	t.stats.BytesSent += uint64(bytesSent)
	t.stats.LastCycle = time.Now()
	t.stats.LastSent = sent
	t.stats.LastBytes = bytesSent
	t.stats.LastSignal = signal
}

func (t *Transmitter) addFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.SendFailures++
}

func (t *Transmitter) publish(topic string, msg any) {
	if t.bus != nil {
		t.bus.Publish(topic, msg)
	}
}

func signalAttr(signal *float64) slog.Attr {
	if signal == nil {
		return slog.String("signal", "unknown")
	}
	return slog.Float64("signal", *signal)
}
