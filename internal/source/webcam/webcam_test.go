package webcam

import (
	"testing"

	"github.com/salography/fast-alpr/internal/source"
)

func TestNewDefaults(t *testing.T) {
	src, err := New(source.Config{Provider: "webcam"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	w := src.(*Webcam)
	if w.index != 0 {
		t.Errorf("index = %d, want 0", w.index)
	}
	if w.maxFails != source.DefaultMaxReadFailures {
		t.Errorf("maxFails = %d, want %d", w.maxFails, source.DefaultMaxReadFailures)
	}
}

func TestNewParsesExtra(t *testing.T) {
	src, err := New(source.Config{
		Provider:        "webcam",
		MaxReadFailures: 3,
		Extra:           map[string]string{"camera_index": "2", "fps": "15"},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	w := src.(*Webcam)
	if w.index != 2 {
		t.Errorf("index = %d, want 2", w.index)
	}
	if w.fps != 15 {
		t.Errorf("fps = %g, want 15", w.fps)
	}
	if w.maxFails != 3 {
		t.Errorf("maxFails = %d, want 3", w.maxFails)
	}
}

func TestNewRejectsBadCameraIndex(t *testing.T) {
	_, err := New(source.Config{
		Provider: "webcam",
		Extra:    map[string]string{"camera_index": "front"},
	})
	if err == nil {
		t.Fatal("New() with non-numeric camera_index should fail")
	}
}

func TestRegisteredProvider(t *testing.T) {
	src, err := source.New(source.Config{Provider: "webcam"})
	if err != nil {
		t.Fatalf("source.New(webcam) error = %v", err)
	}
	if _, ok := src.(*Webcam); !ok {
		t.Fatalf("source.New(webcam) returned %T", src)
	}
}

func TestStopBeforeStart(t *testing.T) {
	w := &Webcam{}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() before Start() error = %v", err)
	}
}
