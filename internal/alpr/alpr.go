// Package alpr implements the two-stage plate recognition pipeline:
// a YOLO plate detector followed by a character OCR model, both running
// on local ONNX Runtime sessions.
package alpr

import (
	"context"
	"errors"
	"fmt"

	"github.com/salography/fast-alpr/internal/model"
)

// Recognizer turns a frame into plate candidates. An error means the frame
// produced no usable observations; the engine logs it and moves on.
type Recognizer interface {
	Predict(ctx context.Context, frame *model.Frame) ([]model.Candidate, error)
	Close() error
}

// ALPR chains the detector and OCR stages. Safe for sequential use by a
// single engine loop; ONNX sessions are not shared across goroutines.
type ALPR struct {
	det *Detector
	ocr *OCR
}

// New creates an ALPR from the two model files. Loading sessions is
// expensive; create once and reuse for the process lifetime.
func New(detectorPath, ocrPath string, detectorThreshold float64) (*ALPR, error) {
	det, err := NewDetector(detectorPath, detectorThreshold)
	if err != nil {
		return nil, fmt.Errorf("alpr: %w", err)
	}
	ocr, err := NewOCR(ocrPath)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("alpr: %w", err)
	}
	return &ALPR{det: det, ocr: ocr}, nil
}

// Predict locates plates in the frame and reads each one. Candidates come
// back strongest detection first; crops whose text normalizes to nothing
// are dropped.
func (a *ALPR) Predict(_ context.Context, frame *model.Frame) ([]model.Candidate, error) {
	img, err := decodeJPEG(frame.Data)
	if err != nil {
		return nil, err
	}

	dets, err := a.det.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("alpr: %w", err)
	}

	var cands []model.Candidate
	for _, det := range dets {
		crop := cropRect(img, det.Box)
		text, conf, err := a.ocr.Recognize(crop)
		if err != nil {
			return cands, fmt.Errorf("alpr: %w", err)
		}
		plate := Normalize(text)
		if plate == "" {
			continue
		}
		cands = append(cands, model.Candidate{
			Plate:               plate,
			DetectionConfidence: det.Score,
			OCRConfidence:       conf,
			Timestamp:           frame.Timestamp,
		})
	}
	return cands, nil
}

// Close releases both ONNX sessions.
func (a *ALPR) Close() error {
	return errors.Join(a.det.Close(), a.ocr.Close())
}
