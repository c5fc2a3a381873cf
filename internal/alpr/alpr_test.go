package alpr

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"testing"
	"time"

	"github.com/salography/fast-alpr/internal/model"
)

const (
	detectorModelPath = "../../models/yolo-v9-t-384-license-plate-end2end.onnx"
	ocrModelPath      = "../../models/cct-xs-v1-global-model.onnx"
)

func skipWithoutModels(t *testing.T) {
	t.Helper()
	for _, p := range []string{detectorModelPath, ocrModelPath} {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			t.Skip("ONNX models not available, skipping integration test")
		}
	}
}

// newTestALPR wires the real detector and OCR sessions. Integration tests
// only.
func newTestALPR(t *testing.T) *ALPR {
	t.Helper()
	skipWithoutModels(t)

	a, err := New(detectorModelPath, ocrModelPath, 0.4)
	if err != nil {
		t.Fatalf("failed to create ALPR: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestPredictEmptyScene(t *testing.T) {
	a := newTestALPR(t)

	// A blank frame must produce no candidates and no error.
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			img.SetRGBA(x, y, color.RGBA{30, 30, 30, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}

	frame := &model.Frame{
		Source:    "test",
		Seq:       1,
		Timestamp: time.Now(),
		Data:      buf.Bytes(),
		Width:     640,
		Height:    480,
	}
	cands, err := a.Predict(context.Background(), frame)
	if err != nil {
		t.Fatalf("Predict error: %v", err)
	}
	if len(cands) != 0 {
		t.Fatalf("expected no candidates on a blank frame, got %d", len(cands))
	}
}

func TestPredictRejectsCorruptFrame(t *testing.T) {
	a := newTestALPR(t)

	frame := &model.Frame{Source: "test", Seq: 1, Timestamp: time.Now(), Data: []byte("junk")}
	if _, err := a.Predict(context.Background(), frame); err == nil {
		t.Fatal("expected error for corrupt frame payload")
	}
}
