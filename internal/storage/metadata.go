package storage

import (
	"time"
)

// TxState tracks an image through the transmission pipeline. The only legal
// moves are PENDING -> SENDING -> SENT, or SENDING -> RETRY -> SENDING ...
// until the attempt cap turns RETRY into FAILED.
type TxState string

const (
	TxPending TxState = "pending" // Waiting to send
	TxSending TxState = "sending" // Upload in progress
	TxSent    TxState = "sent"    // Confirmed sent, file moved to the sent area
	TxFailed  TxState = "failed"  // Gave up after the attempt cap
	TxRetry   TxState = "retry"   // Failed, eligible for another attempt
)

// ImageMetadata describes one captured image on disk. Every filename is
// unique and maps to at most one file.
type ImageMetadata struct {
	Filename    string    `json:"filename"`
	Path        string    `json:"path"`
	Timestamp   time.Time `json:"timestamp"` // Capture time
	SizeBytes   int64     `json:"size_bytes"`
	MD5Hash     string    `json:"md5_hash"` // Lowercase hex of the image bytes
	Profile     string    `json:"profile"`  // Capture profile in effect
	Altitude    float64   `json:"altitude"` // Vehicle altitude at capture
	State       TxState   `json:"state"`
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"last_attempt"`
}

// Label is the coarse storage health derived from the eviction floors
type Label string

const (
	LabelOK       Label = "OK"
	LabelWarning  Label = "WARNING"
	LabelCritical Label = "CRITICAL"
)

// Status summarizes the store for logs and the status endpoint
type Status struct {
	TotalImages int    `json:"total_images"`
	Pending     int    `json:"pending"`
	Sending     int    `json:"sending"`
	Sent        int    `json:"sent"`
	Failed      int    `json:"failed"`
	Retry       int    `json:"retry"`
	TotalBytes  uint64 `json:"total_bytes"`
	FreeBytes   uint64 `json:"free_bytes"`
	Label       Label  `json:"label"`
}
