package alpr

import (
	"context"
	"time"

	ialpr "github.com/salography/fast-alpr/internal/alpr"
	"github.com/salography/fast-alpr/internal/model"
)

// Result is one recognized plate. This is the stable public type —
// internal representations may evolve independently without breaking
// consumers.
type Result struct {
	Plate               string  `json:"plate"`                // normalized uppercase alphanumeric
	DetectionConfidence float64 `json:"detection_confidence"` // detector box score, 0..1
	OCRConfidence       float64 `json:"ocr_confidence"`       // mean per-character probability, 0..1
}

// ALPR recognizes license plates in still images.
type ALPR struct {
	rec *ialpr.ALPR
}

// New creates an ALPR instance, loading both ONNX models. This is an
// expensive operation — create once, reuse across predictions.
func New(opts ...Option) (*ALPR, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	detectorPath, ocrPath := resolvePaths(o)
	rec, err := ialpr.New(detectorPath, ocrPath, o.detectorThreshold)
	if err != nil {
		return nil, err
	}
	return &ALPR{rec: rec}, nil
}

// Predict recognizes all plates in a JPEG image, strongest detection
// first.
func (a *ALPR) Predict(image []byte) ([]Result, error) {
	return a.PredictContext(context.Background(), image)
}

// PredictContext is Predict with a caller-supplied context.
func (a *ALPR) PredictContext(ctx context.Context, image []byte) ([]Result, error) {
	frame := &model.Frame{Timestamp: time.Now(), Data: image}
	cands, err := a.rec.Predict(ctx, frame)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(cands))
	for _, c := range cands {
		results = append(results, Result{
			Plate:               c.Plate,
			DetectionConfidence: model.Round4(c.DetectionConfidence),
			OCRConfidence:       model.Round4(c.OCRConfidence),
		})
	}
	return results, nil
}

// Close releases the ONNX sessions. Must be called when the instance is
// no longer needed.
func (a *ALPR) Close() error {
	return a.rec.Close()
}
