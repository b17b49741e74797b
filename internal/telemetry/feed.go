package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

const (
	// ParseErrorsThreshold defines the number of consecutive parse errors
	// before the stream is treated as broken and reopened
	ParseErrorsThreshold = 5

	// DefaultBackoff is the initial reconnect delay, doubled per failure
	DefaultBackoff = time.Second

	// MaxBackoff caps the reconnect delay
	MaxBackoff = 30 * time.Second
)

var (
	// ErrTooManyParseErrors is returned when the number of consecutive parse errors exceeds the threshold
	ErrTooManyParseErrors = errors.New("too many consecutive parse errors")

	// ErrUnknownFrame is returned for a frame type the agent does not speak
	ErrUnknownFrame = errors.New("unknown frame type")
)

// Sink receives parsed telemetry. Implemented by the health records.
type Sink interface {
	OnHeartbeat(armed bool, mode string)
	OnBattery(percent, voltage *float64)
	OnPosition(altitude *float64, fixQuality int)
	OnLinkQuality(signal, remoteSignal *float64, errorCount int)
}

// Source opens a stream of NDJSON telemetry lines. The feed reopens it
// after stream failures.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Name() string
}

// WithLogger sets the logger for the feed
func WithLogger(logger *slog.Logger) func(f *Feed) {
	return func(f *Feed) {
		f.logger = logger.With(slog.String("component", "telemetry"))
	}
}

// WithParseErrorsThreshold sets the threshold for consecutive parse errors
func WithParseErrorsThreshold(threshold uint8) func(f *Feed) {
	return func(f *Feed) {
		f.threshold = threshold
	}
}

// WithBackoff sets the initial reconnect delay
func WithBackoff(d time.Duration) func(f *Feed) {
	return func(f *Feed) {
		if d > 0 {
			f.backoff = d
		}
	}
}

// Feed pumps telemetry frames from a source into the sink, reconnecting
// with exponential backoff when the source fails or goes quiet
type Feed struct {
	source Source
	sink   Sink

	backoff   time.Duration
	threshold uint8

	logger *slog.Logger
}

// New creates a feed between source and sink
func New(source Source, sink Sink, options ...func(f *Feed)) *Feed {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	f := Feed{
		source:    source,
		sink:      sink,
		backoff:   DefaultBackoff,
		threshold: ParseErrorsThreshold,
		logger:    logger,
	}

	for _, option := range options {
		option(&f)
	}

	return &f
}

// Run consumes the source until ctx is canceled, reopening it whenever
// the stream ends or breaks
func (f *Feed) Run(ctx context.Context) {
	backoff := f.backoff

	for {
		if ctx.Err() != nil {
			return
		}

		stream, err := f.source.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			f.logger.Warn("telemetry source unavailable",
				slog.Any("error", err),
				slog.Duration("retry_in", backoff))

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > MaxBackoff {
				backoff = MaxBackoff
			}
			continue
		}

		f.logger.Info("telemetry connected", slog.String("source", f.source.Name()))
		backoff = f.backoff

		err = f.consume(ctx, stream)
		_ = stream.Close()

		if ctx.Err() != nil {
			return
		}

		f.logger.Warn("telemetry stream ended", slog.Any("error", err))
	}
}

// consume reads and dispatches lines until the stream ends. Malformed
// lines are logged and skipped; too many in a row abandon the stream.
func (f *Feed) consume(ctx context.Context, stream io.ReadCloser) error {
	done := make(chan struct{})
	defer close(done)

	// unblock the scanner when ctx is canceled mid-read
	go func() {
		select {
		case <-ctx.Done():
			_ = stream.Close()
		case <-done:
		}
	}()

	var parseErrors uint8

	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := f.dispatch(line); err != nil {
			parseErrors++
			f.logger.Warn("skipping malformed telemetry", slog.Any("error", err), slog.String("line", line))

			if parseErrors >= f.threshold {
				return ErrTooManyParseErrors
			}

			continue
		}

		parseErrors = 0 // reset counter
	}

	return scanner.Err()
}

func (f *Feed) dispatch(line string) error {
	var frame Frame
	if err := json.Unmarshal([]byte(line), &frame); err != nil {
		return fmt.Errorf("decoding frame: %w", err)
	}

	switch frame.Type {
	case FrameHeartbeat:
		f.sink.OnHeartbeat(frame.Armed != nil && *frame.Armed, frame.Mode)
	case FrameBattery:
		f.sink.OnBattery(frame.Percent, frame.Voltage)
	case FramePosition:
		f.sink.OnPosition(frame.Alt, frame.Fix)
	case FrameLink:
		f.sink.OnLinkQuality(frame.Signal, frame.Remote, frame.Errors)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFrame, frame.Type)
	}

	return nil
}
