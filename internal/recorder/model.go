package recorder

import (
	"time"
)

// Session is one recording session, normally one per agent boot.
type Session struct {
	ID        int64
	StartedAt time.Time

	// Config is the agent configuration captured at session start,
	// serialized as JSON. Nil when none was recorded.
	Config *string
}

// Event is one bus event appended to a session.
type Event struct {
	ID        int64
	SessionID int64
	Timestamp time.Time
	Topic     string
	Payload   string
}
