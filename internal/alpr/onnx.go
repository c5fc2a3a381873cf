package alpr

import (
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ortEnv manages global ONNX Runtime initialization (process-wide singleton).
var ortEnv struct {
	once sync.Once
	err  error
}

// initRuntime initializes the ONNX Runtime environment. Safe to call
// multiple times; only the first call has any effect.
func initRuntime(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ortSession wraps a DynamicAdvancedSession for a single-input vision model.
type ortSession struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	inShape    []int64
	outShape   []int64
}

// newSession loads an ONNX model and creates an inference session. It
// expects exactly one input tensor and reads static shapes from the model,
// forcing dynamic (-1) dimensions to batch size 1.
func newSession(modelPath string) (*ortSession, error) {
	// The ONNX Runtime shared library ships alongside the model files.
	libPath := filepath.Join(filepath.Dir(modelPath), "libonnxruntime.so")
	if err := initRuntime(libPath); err != nil {
		return nil, fmt.Errorf("onnx: failed to initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model info for %s: %w", modelPath, err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("onnx: expected a single input tensor in %s, got %d", modelPath, len(inputs))
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("onnx: model %s has no outputs", modelPath)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer opts.Destroy()
	opts.SetIntraOpNumThreads(4)
	opts.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session for %s: %w", modelPath, err)
	}

	return &ortSession{
		session:    session,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
		inShape:    staticShape(inputs[0].Dimensions),
		outShape:   staticShape(outputs[0].Dimensions),
	}, nil
}

// staticShape replaces dynamic dimensions with 1 so tensors can be
// allocated for single-frame inference.
func staticShape(dims []int64) []int64 {
	out := make([]int64, len(dims))
	for i, d := range dims {
		if d < 1 {
			d = 1
		}
		out[i] = d
	}
	return out
}

// outLen returns the flat element count of the output tensor.
func (s *ortSession) outLen() int64 {
	n := int64(1)
	for _, d := range s.outShape {
		n *= d
	}
	return n
}

// run executes one inference call with pre-built tensors. The caller owns
// tensor lifetime.
func (s *ortSession) run(in, out ort.Value) error {
	if err := s.session.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return fmt.Errorf("onnx: inference failed: %w", err)
	}
	return nil
}

// close releases the ONNX session resources.
func (s *ortSession) close() error {
	return s.session.Destroy()
}
