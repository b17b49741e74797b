package events

import (
	"io"
	"log/slog"
	"time"

	"github.com/cskr/pubsub"
)

// Topics carried on the bus
const (
	TopicMissionState = "mission.state"
	TopicHealthIssue  = "health.issue"
	TopicImageSaved   = "image.saved"
	TopicImageSent    = "image.sent"
)

// DefaultCapacity is the per-subscriber channel buffer
const DefaultCapacity = 128

// StateChange announces a mission state transition
type StateChange struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// ImageEvent announces an image entering storage or reaching the ground
type ImageEvent struct {
	Filename  string  `json:"filename"`
	SizeBytes int64   `json:"size_bytes"`
	Profile   string  `json:"profile,omitempty"`
	Altitude  float64 `json:"altitude,omitempty"`
}

// Subscription receives published events for subscribed topics
type Subscription chan any

// Topics returns every topic the agent publishes, for whole-feed
// subscribers like the flight recorder
func Topics() []string {
	return []string{TopicMissionState, TopicHealthIssue, TopicImageSaved, TopicImageSent}
}

// WithLogger sets the logger for the bus
func WithLogger(logger *slog.Logger) func(b *Bus) {
	return func(b *Bus) {
		b.logger = logger.With(slog.String("component", "events"))
	}
}

// Bus fans events out to subscribers. Subscriber channels are buffered;
// a subscriber that stops draining eventually blocks publishers, so
// handlers must stay cheap.
type Bus struct {
	ps     *pubsub.PubSub
	logger *slog.Logger
}

// New creates an event bus
func New(options ...func(b *Bus)) *Bus {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	b := Bus{
		ps:     pubsub.New(DefaultCapacity),
		logger: logger,
	}

	for _, option := range options {
		option(&b)
	}

	return &b
}

// Publish delivers msg to every subscriber of topic
func (b *Bus) Publish(topic string, msg any) {
	b.logger.Debug("publish", slog.String("topic", topic))
	b.ps.Pub(msg, topic)
}

// Subscribe returns a channel receiving events for the given topics
func (b *Bus) Subscribe(topics ...string) Subscription {
	return b.ps.Sub(topics...)
}

// Unsubscribe removes the channel from the given topics, or from all
// topics when none are named. The channel is closed once fully removed.
func (b *Bus) Unsubscribe(ch Subscription, topics ...string) {
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		return
	}
	b.ps.Unsub(ch, topics...)
}

// Close shuts the bus down and closes all subscriber channels
func (b *Bus) Close() {
	b.ps.Shutdown()
}
