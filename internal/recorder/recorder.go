// Package recorder keeps a Sqlite log of everything published on the
// event bus during a flight. It is a passive observer: a failed write is
// logged and the events are dropped, the mission never blocks on it.
package recorder

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/skysurvey/companion/internal/events"
)

const (
	maxBatchSize  = 100
	flushInterval = time.Second
)

// Bus is the subscription surface the recorder consumes.
type Bus interface {
	Subscribe(topics ...string) events.Subscription
	Unsubscribe(ch events.Subscription, topics ...string)
}

// WithLogger sets the logger for the recorder
func WithLogger(logger *slog.Logger) func(r *Recorder) {
	return func(r *Recorder) {
		r.logger = logger.With(slog.String("component", "recorder"))
	}
}

// WithMaxBatchSize sets the maximum number of events stored within a
// single database transaction.
func WithMaxBatchSize(size int) func(r *Recorder) {
	return func(r *Recorder) {
		r.maxBatchSize = size
	}
}

// WithFlushInterval sets how often buffered events are flushed when the
// batch does not fill up first.
func WithFlushInterval(d time.Duration) func(r *Recorder) {
	return func(r *Recorder) {
		r.flushInterval = d
	}
}

// Recorder subscribes to every bus topic and appends the events it
// receives to a session in the store, batching writes to keep Sqlite
// transaction overhead off the hot path.
type Recorder struct {
	store *Store
	bus   Bus

	maxBatchSize  int
	flushInterval time.Duration

	logger *slog.Logger
}

// New creates a recorder writing bus events through store.
func New(store *Store, bus Bus, options ...func(r *Recorder)) *Recorder {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	r := Recorder{
		store:         store,
		bus:           bus,
		maxBatchSize:  maxBatchSize,
		flushInterval: flushInterval,
		logger:        logger,
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Run consumes bus events into the given session until ctx is cancelled,
// then drains what is still buffered and flushes it. The caller must keep
// the bus open until Run returns.
func (r *Recorder) Run(ctx context.Context, sessionID int64) error {
	records := make(chan Event, 2*events.DefaultCapacity)

	var wg sync.WaitGroup
	subs := make(map[string]events.Subscription, len(events.Topics()))
	for _, topic := range events.Topics() {
		sub := r.bus.Subscribe(topic)
		subs[topic] = sub
		wg.Add(1)
		go r.forward(topic, sub, records, &wg)
	}

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, r.maxBatchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := r.store.AppendBatch(ctx, sessionID, batch); err != nil {
			r.logger.Error("dropping events",
				slog.Int("count", len(batch)),
				slog.Any("error", err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Unsubscribing closes the per-topic channels; the
			// forwarders drain what is buffered and exit.
			for topic, sub := range subs {
				r.bus.Unsubscribe(sub, topic)
			}
			go func() {
				wg.Wait()
				close(records)
			}()
			for ev := range records {
				batch = append(batch, ev)
				if len(batch) >= r.maxBatchSize {
					flush(context.Background())
				}
			}
			flush(context.Background())
			return nil

		case ev := <-records:
			batch = append(batch, ev)
			if len(batch) >= r.maxBatchSize {
				flush(ctx)
			}

		case <-ticker.C:
			flush(ctx)
		}
	}
}

func (r *Recorder) forward(topic string, sub events.Subscription, records chan<- Event, wg *sync.WaitGroup) {
	defer wg.Done()

	for msg := range sub {
		payload, err := json.Marshal(msg)
		if err != nil {
			r.logger.Warn("skipping unserializable event",
				slog.String("topic", topic),
				slog.Any("error", err))
			continue
		}

		records <- Event{
			Timestamp: time.Now().UTC(),
			Topic:     topic,
			Payload:   string(payload),
		}
	}
}
