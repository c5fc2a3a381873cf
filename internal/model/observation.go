package model

import "time"

// Candidate is a single plate reading produced by the recognition pipeline
// for one frame, before deduplication. Plate text is already normalized
// (uppercase alphanumeric).
type Candidate struct {
	Plate               string
	DetectionConfidence float64 // detector box score, 0..1
	OCRConfidence       float64 // mean per-character probability, 0..1
	Timestamp           time.Time
}

// Observation is fast-alpr's output type — an accepted plate detection.
// Immutable once accepted; confidences are rounded to 4 decimal places.
type Observation struct {
	Timestamp           time.Time `json:"timestamp"`
	Plate               string    `json:"plate"`
	OCRConfidence       float64   `json:"ocr_confidence"`
	DetectionConfidence float64   `json:"detection_confidence"`
	Session             string    `json:"session_id,omitempty"` // set for sinks, omitted inside session files
	FrameSeq            uint64    `json:"frame_seq,omitempty"`
	Source              string    `json:"source,omitempty"`
}

// Round4 rounds a confidence to 4 decimal places, the precision recorded
// in session files.
func Round4(v float64) float64 {
	if v < 0 {
		return float64(int64(v*10000-0.5)) / 10000
	}
	return float64(int64(v*10000+0.5)) / 10000
}
