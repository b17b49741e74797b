package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DirCamera replays pre-captured frames from a directory, cycling through
// them in name order. It stands in for camera hardware on the bench.
type DirCamera struct {
	files []string

	mu   sync.Mutex
	next int
}

// NewDirCamera lists the JPEG frames under dir. At least one is required.
func NewDirCamera(dir string) (*DirCamera, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading frame directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no frames in %s", dir)
	}

	return &DirCamera{files: files}, nil
}

// Capture returns the next frame in rotation. Profile and altitude are
// ignored: replayed frames come as recorded.
func (c *DirCamera) Capture(_ Profile, _ float64) ([]byte, error) {
	c.mu.Lock()
	path := c.files[c.next]
	c.next = (c.next + 1) % len(c.files)
	c.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading frame: %w", err)
	}

	return data, nil
}
