// Package receiver implements the ground station side of the image link.
// It decodes image packets off UDP datagrams or one-shot TCP connections
// and files them under a date-partitioned directory tree, keeping
// unverified images rather than dropping them.
package receiver

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/skysurvey/companion/internal/wire"
)

const (
	receivedDir   = "received"
	unverifiedDir = "unverified"
	metaDir       = "meta"

	dateLayout = "20060102"
)

// Stats counts packets since startup
type Stats struct {
	PacketsOK         uint64 `json:"packets_ok"`
	PacketsUnverified uint64 `json:"packets_unverified"`
	PacketsRejected   uint64 `json:"packets_rejected"`
	BytesReceived     uint64 `json:"bytes_received"`
}

// WithLogger sets the logger for the receiver
func WithLogger(logger *slog.Logger) func(r *Receiver) {
	return func(r *Receiver) {
		r.logger = logger.With(slog.String("component", "receiver"))
	}
}

// Receiver files decoded image packets under root. Verified images land
// in received/<date>/ with their metadata JSON in received/<date>/meta/,
// hash mismatches in unverified/<date>/.
type Receiver struct {
	root   string
	logger *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a receiver writing under root.
func New(root string, options ...func(r *Receiver)) *Receiver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	r := Receiver{
		root:   root,
		logger: logger,
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Process handles one packet. Undecodable packets are counted and
// dropped; decodable ones are always kept, verified or not.
func (r *Receiver) Process(data []byte, from string) {
	pkt, err := wire.Decode(data)
	if err != nil {
		r.reject(from, err)
		return
	}

	// The sender controls the filename; keep only the base name so a
	// crafted packet cannot write outside the tree.
	name := filepath.Base(pkt.Filename)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		r.reject(from, fmt.Errorf("unusable filename %q", pkt.Filename))
		return
	}

	if err := r.save(pkt, name); err != nil {
		r.logger.Error("saving image", slog.String("filename", name), slog.Any("error", err))
		return
	}

	r.mu.Lock()
	if pkt.Verified {
		r.stats.PacketsOK++
	} else {
		r.stats.PacketsUnverified++
	}
	r.stats.BytesReceived += uint64(len(pkt.Image))
	r.mu.Unlock()

	if !pkt.Verified {
		r.logger.Warn("image failed verification, kept",
			slog.String("filename", name),
			slog.String("from", from))
		return
	}

	r.logger.Info("image received",
		slog.String("filename", name),
		slog.String("size", humanize.IBytes(uint64(len(pkt.Image)))),
		slog.String("from", from))
}

// Stats returns a copy of the packet counters.
func (r *Receiver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Receiver) reject(from string, err error) {
	r.mu.Lock()
	r.stats.PacketsRejected++
	r.mu.Unlock()

	r.logger.Warn("rejecting packet", slog.String("from", from), slog.Any("error", err))
}

func (r *Receiver) save(pkt *wire.Packet, name string) error {
	date := dateOf(pkt.Meta)

	dir := filepath.Join(r.root, unverifiedDir, date)
	if pkt.Verified {
		dir = filepath.Join(r.root, receivedDir, date)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), pkt.Image, 0o644); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}

	if !pkt.Verified {
		return nil
	}

	metaPath := filepath.Join(dir, metaDir)
	if err := os.MkdirAll(metaPath, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", metaPath, err)
	}
	data, err := json.MarshalIndent(pkt.Meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(metaPath, name+".json"), data, 0o644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}

	return nil
}

// dateOf picks the date partition from the capture timestamp, falling
// back to arrival time when the metadata carries none.
func dateOf(meta wire.Meta) string {
	ts := time.Now().UTC()
	if meta.Timestamp > 0 {
		sec, frac := math.Modf(meta.Timestamp)
		ts = time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
	}
	return ts.Format(dateLayout)
}
