package alpr

import "path/filepath"

// Default model file names, resolved under the models directory.
const (
	DefaultDetectorModel = "yolo-v9-t-384-license-plate-end2end"
	DefaultOCRModel      = "cct-xs-v1-global-model"
)

type options struct {
	modelsDir         string
	detectorPath      string
	ocrPath           string
	detectorThreshold float64
}

// Option configures an ALPR instance.
type Option func(*options)

// WithModelsDir sets the directory containing the model files.
// Expects: yolo-v9-t-384-license-plate-end2end.onnx and
// cct-xs-v1-global-model.onnx.
func WithModelsDir(dir string) Option {
	return func(o *options) {
		o.modelsDir = dir
	}
}

// WithModelPaths sets explicit paths for the detector and OCR models.
// Use this when the files aren't in the default directory layout.
func WithModelPaths(detector, ocr string) Option {
	return func(o *options) {
		o.detectorPath = detector
		o.ocrPath = ocr
	}
}

// WithDetectorThreshold sets the minimum detector box score for a plate
// crop to be read. Default: 0.4.
func WithDetectorThreshold(t float64) Option {
	return func(o *options) {
		o.detectorThreshold = t
	}
}

func defaultOptions() options {
	return options{
		detectorThreshold: 0.4,
	}
}

// resolvePaths determines the detector and OCR model paths from the
// configured options. Explicit paths take precedence over modelsDir.
func resolvePaths(o options) (detector, ocr string) {
	if o.detectorPath != "" {
		return o.detectorPath, o.ocrPath
	}
	dir := o.modelsDir
	if dir == "" {
		dir = "models"
	}
	return filepath.Join(dir, DefaultDetectorModel+".onnx"),
		filepath.Join(dir, DefaultOCRModel+".onnx")
}
