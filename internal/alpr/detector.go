package alpr

import (
	"fmt"
	"image"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// detInputSize is the square input resolution of the plate detector.
const detInputSize = 384

// Detection is one located plate in source-image coordinates.
type Detection struct {
	Box   image.Rectangle
	Score float64
}

// Detector locates license plates with an end-to-end YOLO ONNX model
// (NMS baked into the graph). Output rows are [x1 y1 x2 y2 score ...] in
// letterbox coordinates; zero-score rows are padding.
type Detector struct {
	sess      *ortSession
	threshold float64
}

// NewDetector loads the detector model. Boxes scoring below threshold are
// discarded at decode time.
func NewDetector(modelPath string, threshold float64) (*Detector, error) {
	sess, err := newSession(modelPath)
	if err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}
	if rowLen(sess.outShape) < 5 {
		sess.close()
		return nil, fmt.Errorf("detector: unexpected output shape %v, want rows of at least 5 values", sess.outShape)
	}
	return &Detector{sess: sess, threshold: threshold}, nil
}

// Detect runs the model on one frame image and returns plate boxes mapped
// back to source coordinates, strongest first.
func (d *Detector) Detect(img image.Image) ([]Detection, error) {
	lb := letterbox(img, detInputSize)
	input := rgbToNCHW(lb.img)

	tIn, err := ort.NewTensor(ort.NewShape(1, 3, detInputSize, detInputSize), input)
	if err != nil {
		return nil, fmt.Errorf("detector: create input tensor: %w", err)
	}
	defer tIn.Destroy()

	tOut, err := ort.NewEmptyTensor[float32](ort.NewShape(d.sess.outShape...))
	if err != nil {
		return nil, fmt.Errorf("detector: create output tensor: %w", err)
	}
	defer tOut.Destroy()

	if err := d.sess.run(tIn, tOut); err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}

	raw := make([]float32, len(tOut.GetData()))
	copy(raw, tOut.GetData())

	return decodeDetections(raw, rowLen(d.sess.outShape), lb, img.Bounds(), d.threshold), nil
}

// Close releases the detector's ONNX session.
func (d *Detector) Close() error {
	return d.sess.close()
}

// rowLen returns the per-detection value count, the innermost output
// dimension.
func rowLen(outShape []int64) int {
	if len(outShape) == 0 {
		return 0
	}
	return int(outShape[len(outShape)-1])
}

// decodeDetections converts raw model output to source-space detections,
// dropping padding rows and boxes below threshold, sorted by score
// descending.
func decodeDetections(raw []float32, stride int, lb letterboxed, src image.Rectangle, threshold float64) []Detection {
	if stride < 5 {
		return nil
	}

	var dets []Detection
	for off := 0; off+stride <= len(raw); off += stride {
		score := float64(raw[off+4])
		if score < threshold || score <= 0 {
			continue
		}
		x1, y1 := lb.unmap(float64(raw[off]), float64(raw[off+1]), src)
		x2, y2 := lb.unmap(float64(raw[off+2]), float64(raw[off+3]), src)
		box := image.Rect(x1, y1, x2, y2)
		if box.Empty() {
			continue
		}
		dets = append(dets, Detection{Box: box, Score: score})
	}

	sort.Slice(dets, func(i, j int) bool { return dets[i].Score > dets[j].Score })
	return dets
}
