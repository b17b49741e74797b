package recorder

import (
	_ "embed"
)

const (
	insertSessionSQL = `
INSERT INTO sessions (
                      started_at,
                      config_json)
VALUES (CURRENT_TIMESTAMP, ?)`

	selectSessionSQL = `
SELECT
    id,
    started_at,
    config_json
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT
    id,
    started_at,
    config_json
FROM sessions`

	selectEventsSQL = `
SELECT
    id,
    session_id,
    ts,
    topic,
    payload_json
FROM events
WHERE
    session_id = ?
ORDER BY id`

	// Indexes are built on Close so appends during a flight do not pay
	// for index maintenance on every insert.
	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_events_session_ts ON events (session_id, ts);
CREATE INDEX IF NOT EXISTS idx_events_topic ON events (topic)`
)

//go:embed schema.sql
var initSchemaSQL string
