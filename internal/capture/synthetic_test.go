package capture

import (
	"bytes"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
)

func TestSyntheticCamera_ProducesDecodableJPEG(t *testing.T) {
	camera, err := NewSyntheticCamera()
	if err != nil {
		t.Fatalf("Failed to create camera: %s", err)
	}

	data, err := camera.Capture(FullProfile(), 120.5)
	if err != nil {
		t.Fatalf("Failed to capture: %s", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Frame is not a decodable JPEG: %s", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() != frameWidth || bounds.Dy() != frameHeight {
		t.Errorf("Expected %dx%d frame, got %dx%d", frameWidth, frameHeight, bounds.Dx(), bounds.Dy())
	}
}

func TestSyntheticCamera_FramesDiffer(t *testing.T) {
	camera, err := NewSyntheticCamera()
	if err != nil {
		t.Fatalf("Failed to create camera: %s", err)
	}

	first, err := camera.Capture(FullProfile(), 0)
	if err != nil {
		t.Fatalf("Failed to capture: %s", err)
	}
	second, err := camera.Capture(FullProfile(), 0)
	if err != nil {
		t.Fatalf("Failed to capture: %s", err)
	}

	if bytes.Equal(first, second) {
		t.Error("Expected consecutive frames to differ")
	}
}

func TestSyntheticCamera_QualityAffectsSize(t *testing.T) {
	camera, err := NewSyntheticCamera()
	if err != nil {
		t.Fatalf("Failed to create camera: %s", err)
	}

	high, err := camera.Capture(Profile{Name: "full", JPEGQuality: 90}, 0)
	if err != nil {
		t.Fatalf("Failed to capture: %s", err)
	}
	low, err := camera.Capture(Profile{Name: "reduced", JPEGQuality: 10}, 0)
	if err != nil {
		t.Fatalf("Failed to capture: %s", err)
	}

	if len(high) <= len(low) {
		t.Errorf("Expected q90 frame larger than q10, got %d vs %d bytes", len(high), len(low))
	}
}

func TestDirCamera_CyclesFrames(t *testing.T) {
	dir := t.TempDir()

	frames := map[string][]byte{
		"a.jpg":  {1},
		"b.jpeg": {2},
	}
	for name, data := range frames {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatalf("Failed to write frame: %s", err)
		}
	}
	// non-frame files are ignored
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %s", err)
	}

	camera, err := NewDirCamera(dir)
	if err != nil {
		t.Fatalf("Failed to create camera: %s", err)
	}

	want := [][]byte{{1}, {2}, {1}}
	for i, expected := range want {
		data, err := camera.Capture(FullProfile(), 0)
		if err != nil {
			t.Fatalf("Failed to capture frame %d: %s", i, err)
		}
		if !bytes.Equal(data, expected) {
			t.Errorf("Expected frame %d to be %v, got %v", i, expected, data)
		}
	}
}

func TestDirCamera_EmptyDir(t *testing.T) {
	if _, err := NewDirCamera(t.TempDir()); err == nil {
		t.Error("Expected an error for a directory with no frames")
	}
}
