package storage

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	imagesDirName   = "images"
	sentDirName     = "sent"
	metadataDirName = "metadata"
	indexFileName   = "index.json"

	// DefaultMaxAttempts is how many sends an image gets before it is
	// marked FAILED for good
	DefaultMaxAttempts = 5
)

var (
	// ErrStorageFull is returned by Save when free space is below the fatal
	// floor even after an eviction pass. The frame is dropped, never queued.
	ErrStorageFull = errors.New("storage below fatal floor")

	// ErrUnknownImage is returned when a filename has no index entry
	ErrUnknownImage = errors.New("unknown image")
)

// Config holds the storage limits. Floors are bytes of free space on the
// volume holding the root.
type Config struct {
	Root        string // Base directory for images, sent and metadata
	WarnFloor   uint64 // Eviction target: cleanup runs until free space reaches this
	FatalFloor  uint64 // Below this a Save is rejected
	MaxAttempts int    // Send attempts before FAILED; 0 means DefaultMaxAttempts
}

// WithLogger sets the logger for the manager
func WithLogger(logger *slog.Logger) func(m *Manager) {
	return func(m *Manager) {
		m.logger = logger.With(slog.String("component", "storage"))
	}
}

// WithFreeSpaceProbe substitutes the free space probe
func WithFreeSpaceProbe(probe func(path string) (uint64, error)) func(m *Manager) {
	return func(m *Manager) {
		m.freeSpace = probe
	}
}

// Manager owns the on-disk image lifecycle and the metadata index. The
// index file is the single source of truth across restarts: every mutation
// rewrites it in full before the call returns. One mutex serializes the
// capture, eviction and transmission paths.
type Manager struct {
	mu    sync.Mutex
	index map[string]*ImageMetadata

	root       string
	imagesPath string
	sentPath   string
	indexPath  string

	warnFloor   uint64
	fatalFloor  uint64
	maxAttempts int

	freeSpace func(path string) (uint64, error)
	logger    *slog.Logger
}

// NewManager creates the directory layout under cfg.Root and loads any
// existing index. Entries interrupted mid-send revert to PENDING; entries
// whose file disappeared are dropped.
func NewManager(cfg Config, options ...func(m *Manager)) (*Manager, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	m := Manager{
		index:       make(map[string]*ImageMetadata),
		root:        cfg.Root,
		imagesPath:  filepath.Join(cfg.Root, imagesDirName),
		sentPath:    filepath.Join(cfg.Root, sentDirName),
		indexPath:   filepath.Join(cfg.Root, metadataDirName, indexFileName),
		warnFloor:   cfg.WarnFloor,
		fatalFloor:  cfg.FatalFloor,
		maxAttempts: cfg.MaxAttempts,
		freeSpace:   statfsFree,
		logger:      logger,
	}

	for _, option := range options {
		option(&m)
	}

	for _, dir := range []string{m.imagesPath, m.sentPath, filepath.Dir(m.indexPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
	}

	if err := m.loadIndex(); err != nil {
		return nil, err
	}

	m.logger.Info("image store ready",
		slog.String("root", m.root),
		slog.Int("tracked", len(m.index)),
		slog.String("warnFloor", humanize.IBytes(m.warnFloor)),
		slog.String("fatalFloor", humanize.IBytes(m.fatalFloor)))

	return &m, nil
}

// Save writes a captured frame to disk and tracks it as PENDING. When free
// space is below the fatal floor it runs an eviction pass and rejects the
// frame regardless of the outcome; the caller decides whether to drop or
// re-capture.
func (m *Manager) Save(data []byte, profile string, altitude float64) (*ImageMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	free, err := m.freeSpace(m.root)
	if err != nil {
		m.logger.Warn("free space probe failed", slog.Any("error", err))
		free = 0 // treat an unreadable volume as full
	}

	if free < m.fatalFloor {
		evicted := m.cleanupLocked()
		m.logger.Error("storage below fatal floor, frame dropped",
			slog.String("free", humanize.IBytes(free)),
			slog.Int("evicted", evicted))
		return nil, ErrStorageFull
	}

	if free < m.warnFloor {
		m.logger.Warn("storage below warn floor", slog.String("free", humanize.IBytes(free)))
	}

	now := time.Now()
	filename := m.nextFilenameLocked(now)
	path := filepath.Join(m.imagesPath, filename)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing image: %w", err)
	}

	sum := md5.Sum(data)
	meta := &ImageMetadata{
		Filename:  filename,
		Path:      path,
		Timestamp: now,
		SizeBytes: int64(len(data)),
		MD5Hash:   hex.EncodeToString(sum[:]),
		Profile:   profile,
		Altitude:  altitude,
		State:     TxPending,
	}

	m.index[filename] = meta
	if err := m.persistLocked(); err != nil {
		// Keep file and index consistent: without an index entry the frame
		// would be orphaned across a restart.
		delete(m.index, filename)
		if rmErr := os.Remove(path); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
		return nil, err
	}

	m.logger.Debug("image saved",
		slog.String("filename", filename),
		slog.String("size", humanize.IBytes(uint64(len(data)))))

	// Hand out a copy: the index entry keeps mutating under the lock
	saved := *meta
	return &saved, nil
}

// GetPending returns images awaiting transmission, oldest capture first.
// RETRY images count as pending. max <= 0 means no cap.
func (m *Manager) GetPending(max int) []ImageMetadata {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := make([]ImageMetadata, 0, len(m.index))
	for _, meta := range m.index {
		if meta.State == TxPending || meta.State == TxRetry {
			pending = append(pending, *meta)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Timestamp.Before(pending[j].Timestamp)
	})

	if max > 0 && len(pending) > max {
		pending = pending[:max]
	}

	return pending
}

// MarkSending flags an image as in flight
func (m *Manager) MarkSending(filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, ok := m.index[filename]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownImage, filename)
	}

	meta.State = TxSending
	return m.persistLocked()
}

// MarkSent moves the image file to the sent area and flips its state.
// A file that already disappeared is tolerated; the state still flips.
func (m *Manager) MarkSent(filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, ok := m.index[filename]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownImage, filename)
	}

	sentPath := filepath.Join(m.sentPath, filename)
	if err := os.Rename(meta.Path, sentPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("moving sent image: %w", err)
		}
		m.logger.Warn("sent image file missing", slog.String("filename", filename))
	} else {
		meta.Path = sentPath
	}

	meta.State = TxSent
	return m.persistLocked()
}

// MarkFailed records a failed send. The image stays in place and becomes
// RETRY (eligible for the next batch) until the attempt cap makes it FAILED.
func (m *Manager) MarkFailed(filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, ok := m.index[filename]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownImage, filename)
	}

	meta.Attempts++
	meta.LastAttempt = time.Now()
	if meta.Attempts >= m.maxAttempts {
		meta.State = TxFailed
		m.logger.Warn("image failed permanently",
			slog.String("filename", filename),
			slog.Int("attempts", meta.Attempts))
	} else {
		meta.State = TxRetry
	}

	return m.persistLocked()
}

// Cleanup runs an eviction pass and reports how many images were deleted
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupLocked()
}

// Status reports per-state counts, totals and the coarse health label
// derived from the same floors eviction uses
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Status
	for _, meta := range m.index {
		s.TotalImages++
		s.TotalBytes += uint64(meta.SizeBytes)

		switch meta.State {
		case TxPending:
			s.Pending++
		case TxSending:
			s.Sending++
		case TxSent:
			s.Sent++
		case TxFailed:
			s.Failed++
		case TxRetry:
			s.Retry++
		}
	}

	free, err := m.freeSpace(m.root)
	if err != nil {
		m.logger.Warn("free space probe failed", slog.Any("error", err))
		s.Label = LabelCritical
		return s
	}

	s.FreeBytes = free
	switch {
	case free < m.fatalFloor:
		s.Label = LabelCritical
	case free < m.warnFloor:
		s.Label = LabelWarning
	default:
		s.Label = LabelOK
	}

	return s
}

// cleanupLocked deletes the oldest images, already-SENT ones first, until
// free space climbs back to the warn floor. Each deletion removes the file
// and its entry together with an index persist.
func (m *Manager) cleanupLocked() int {
	free, err := m.freeSpace(m.root)
	if err != nil {
		m.logger.Warn("free space probe failed, skipping cleanup", slog.Any("error", err))
		return 0
	}

	if free >= m.warnFloor || len(m.index) == 0 {
		return 0
	}

	victims := make([]*ImageMetadata, 0, len(m.index))
	for _, meta := range m.index {
		victims = append(victims, meta)
	}

	// Sort key (notSent, timestamp): SENT images are reclaimed before any
	// image that has not reached the ground station yet.
	sort.Slice(victims, func(i, j int) bool {
		notSentI, notSentJ := victims[i].State != TxSent, victims[j].State != TxSent
		if notSentI != notSentJ {
			return notSentJ
		}
		return victims[i].Timestamp.Before(victims[j].Timestamp)
	})

	deleted := 0
	for _, victim := range victims {
		if free >= m.warnFloor {
			break
		}

		if err := os.Remove(victim.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("evicting image failed",
				slog.String("filename", victim.Filename),
				slog.Any("error", err))
			continue
		}

		delete(m.index, victim.Filename)
		if err := m.persistLocked(); err != nil {
			m.logger.Warn("persisting index after eviction", slog.Any("error", err))
		}
		deleted++

		if updated, err := m.freeSpace(m.root); err == nil {
			free = updated
		}
	}

	if deleted > 0 {
		m.logger.Info("evicted images to reclaim space",
			slog.Int("count", deleted),
			slog.String("free", humanize.IBytes(free)))
	}

	return deleted
}

func (m *Manager) persistLocked() error {
	data, err := json.MarshalIndent(m.index, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}

	tmp := m.indexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	if err := os.Rename(tmp, m.indexPath); err != nil {
		return fmt.Errorf("replacing index: %w", err)
	}

	return nil
}

func (m *Manager) loadIndex() error {
	data, err := os.ReadFile(m.indexPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading index: %w", err)
	}

	var entries map[string]*ImageMetadata
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt index must not ground the vehicle. Tracked files are
		// abandoned but the agent keeps flying with a fresh index.
		m.logger.Error("index corrupt, starting empty", slog.Any("error", err))
		return nil
	}

	for filename, meta := range entries {
		if _, err := os.Stat(meta.Path); err != nil {
			m.logger.Warn("dropping index entry, file missing", slog.String("filename", filename))
			continue
		}

		if meta.State == TxSending {
			// A send interrupted by a crash or power loss never completed
			meta.State = TxPending
		}

		m.index[filename] = meta
	}

	return nil
}

// nextFilenameLocked builds a timestamped filename, bumping a numeric
// suffix on the rare same-millisecond collision
func (m *Manager) nextFilenameLocked(now time.Time) string {
	base := fmt.Sprintf("img_%s_%03d", now.Format("20060102_150405"), now.Nanosecond()/int(time.Millisecond))

	filename := base + ".jpg"
	for i := 1; ; i++ {
		if _, ok := m.index[filename]; !ok {
			return filename
		}
		filename = fmt.Sprintf("%s_%d.jpg", base, i)
	}
}

// statfsFree returns the bytes available to unprivileged users on the
// filesystem containing path
func statfsFree(path string) (uint64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}

	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
