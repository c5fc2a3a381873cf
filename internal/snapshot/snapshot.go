// Package snapshot persists captured frames as PNG screenshots.
package snapshot

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"github.com/salography/fast-alpr/internal/model"
)

// nameLayout matches screenshot file naming: screenshot_20260825_143000.png.
const nameLayout = "20060102_150405"

// Writer persists frames to an output directory.
type Writer struct {
	dir string
}

// NewWriter creates a Writer targeting dir. The directory is created on
// first write.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Write decodes the frame's JPEG data and writes it as a PNG named after
// the frame's capture time. Returns the written file path. Writing the
// same frame twice overwrites the same file.
func (w *Writer) Write(frame model.Frame) (string, error) {
	img, err := jpeg.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return "", fmt.Errorf("snapshot: decode frame: %w", err)
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("snapshot: create dir %s: %w", w.dir, err)
	}

	path := filepath.Join(w.dir, "screenshot_"+frame.Timestamp.Format(nameLayout)+".png")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("snapshot: create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("snapshot: encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("snapshot: close %s: %w", path, err)
	}
	return path, nil
}
