package alpr

import (
	"fmt"
	"image"

	ort "github.com/yalue/onnxruntime_go"
)

// OCR input layout and decoding alphabet for the global plate reader.
// The pad character fills unused slots on short plates.
const (
	ocrInputHeight = 70
	ocrInputWidth  = 140
	ocrAlphabet    = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_"
	ocrPadChar     = '_'
)

// OCR reads plate text from a cropped plate image. The model consumes a
// grayscale crop and emits per-slot character probabilities.
type OCR struct {
	sess *ortSession
}

// NewOCR loads the OCR model.
func NewOCR(modelPath string) (*OCR, error) {
	sess, err := newSession(modelPath)
	if err != nil {
		return nil, fmt.Errorf("ocr: %w", err)
	}
	if sess.outLen()%int64(len(ocrAlphabet)) != 0 {
		sess.close()
		return nil, fmt.Errorf("ocr: output shape %v is not a multiple of the %d-char alphabet", sess.outShape, len(ocrAlphabet))
	}
	return &OCR{sess: sess}, nil
}

// Recognize returns the plate text read from the crop and the mean
// per-character probability. An unreadable crop yields empty text with
// zero confidence and no error.
func (o *OCR) Recognize(crop image.Image) (string, float64, error) {
	input := grayResize(crop, ocrInputWidth, ocrInputHeight)

	tIn, err := ort.NewTensor(ort.NewShape(1, ocrInputHeight, ocrInputWidth, 1), input)
	if err != nil {
		return "", 0, fmt.Errorf("ocr: create input tensor: %w", err)
	}
	defer tIn.Destroy()

	tOut, err := ort.NewEmptyTensor[float32](ort.NewShape(o.sess.outShape...))
	if err != nil {
		return "", 0, fmt.Errorf("ocr: create output tensor: %w", err)
	}
	defer tOut.Destroy()

	if err := o.sess.run(tIn, tOut); err != nil {
		return "", 0, fmt.Errorf("ocr: %w", err)
	}

	text, conf := decodePlate(tOut.GetData())
	return text, conf, nil
}

// Close releases the OCR's ONNX session.
func (o *OCR) Close() error {
	return o.sess.close()
}

// decodePlate greedily picks the most probable character per slot. Pad
// slots are skipped for both the text and the confidence, so short plates
// are not diluted by padding certainty.
func decodePlate(raw []float32) (string, float64) {
	nClasses := len(ocrAlphabet)
	slots := len(raw) / nClasses
	if slots == 0 {
		return "", 0
	}

	var text []byte
	var sum float64
	for s := 0; s < slots; s++ {
		row := raw[s*nClasses : (s+1)*nClasses]
		best := 0
		for i := 1; i < nClasses; i++ {
			if row[i] > row[best] {
				best = i
			}
		}
		ch := ocrAlphabet[best]
		if ch == ocrPadChar {
			continue
		}
		text = append(text, ch)
		sum += float64(row[best])
	}

	if len(text) == 0 {
		return "", 0
	}
	return string(text), sum / float64(len(text))
}
