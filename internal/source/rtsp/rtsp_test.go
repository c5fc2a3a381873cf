package rtsp

import (
	"bytes"
	"testing"

	"github.com/salography/fast-alpr/internal/source"
)

// jpegBytes builds a minimal marker-framed payload for splitter tests.
func jpegBytes(payload ...byte) []byte {
	b := []byte{0xFF, 0xD8}
	b = append(b, payload...)
	return append(b, 0xFF, 0xD9)
}

func TestNextJPEGExtractsFrame(t *testing.T) {
	want := jpegBytes(0x01, 0x02, 0x03)
	buf := append([]byte{0x00, 0x11}, want...) // leading junk

	frame, rest := nextJPEG(buf)
	if !bytes.Equal(frame, want) {
		t.Fatalf("frame = %x, want %x", frame, want)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %x, want empty", rest)
	}
}

func TestNextJPEGConcatenatedFrames(t *testing.T) {
	first := jpegBytes(0xAA)
	second := jpegBytes(0xBB, 0xCC)
	buf := append(append([]byte{}, first...), second...)

	frame, rest := nextJPEG(buf)
	if !bytes.Equal(frame, first) {
		t.Fatalf("first frame = %x, want %x", frame, first)
	}
	frame, rest = nextJPEG(rest)
	if !bytes.Equal(frame, second) {
		t.Fatalf("second frame = %x, want %x", frame, second)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %x, want empty", rest)
	}
}

func TestNextJPEGIncompleteFrame(t *testing.T) {
	buf := []byte{0xFF, 0xD8, 0x01, 0x02}

	frame, rest := nextJPEG(buf)
	if frame != nil {
		t.Fatalf("frame = %x, want nil for incomplete input", frame)
	}
	if !bytes.Equal(rest, buf) {
		t.Errorf("rest = %x, want buffered input %x", rest, buf)
	}

	// Completing the frame on a later read yields it.
	rest = append(rest, 0xFF, 0xD9)
	frame, rest = nextJPEG(rest)
	if !bytes.Equal(frame, jpegBytes(0x01, 0x02)) {
		t.Fatalf("frame after completion = %x", frame)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %x, want empty", rest)
	}
}

func TestNextJPEGDiscardsGarbage(t *testing.T) {
	frame, rest := nextJPEG([]byte{0x00, 0x01, 0x02, 0x03})
	if frame != nil {
		t.Fatalf("frame = %x, want nil", frame)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %x, want garbage discarded", rest)
	}
}

func TestNextJPEGKeepsSplitStartMarker(t *testing.T) {
	frame, rest := nextJPEG([]byte{0x00, 0x01, 0xFF})
	if frame != nil {
		t.Fatalf("frame = %x, want nil", frame)
	}
	if !bytes.Equal(rest, []byte{0xFF}) {
		t.Fatalf("rest = %x, want trailing 0xFF kept", rest)
	}

	// The next read completes the marker and then the frame.
	rest = append(rest, 0xD8, 0x07, 0xFF, 0xD9)
	frame, _ = nextJPEG(rest)
	if !bytes.Equal(frame, jpegBytes(0x07)) {
		t.Fatalf("frame = %x, want %x", frame, jpegBytes(0x07))
	}
}

func TestNextJPEGEmptyBuffer(t *testing.T) {
	if frame, _ := nextJPEG(nil); frame != nil {
		t.Fatalf("frame = %x, want nil", frame)
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(source.Config{Provider: "rtsp"}); err == nil {
		t.Fatal("New() without rtsp_url should fail")
	}
}

func TestNewRejectsBadFPS(t *testing.T) {
	_, err := New(source.Config{
		Provider: "rtsp",
		Extra:    map[string]string{"rtsp_url": "rtsp://cam.local/s0", "fps": "-1"},
	})
	if err == nil {
		t.Fatal("New() with negative fps should fail")
	}
}

func TestNewDefaults(t *testing.T) {
	src, err := New(source.Config{
		Provider: "rtsp",
		Extra:    map[string]string{"rtsp_url": "rtsp://cam.local/s0"},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s := src.(*Stream)
	if s.url != "rtsp://cam.local/s0" {
		t.Errorf("url = %q", s.url)
	}
	if s.fps != 10 {
		t.Errorf("fps = %g, want 10", s.fps)
	}
}

func TestStopBeforeStart(t *testing.T) {
	s := &Stream{}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() before Start() error = %v", err)
	}
}
