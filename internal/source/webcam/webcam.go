// Package webcam captures frames from a local camera device through
// OpenCV.
package webcam

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/salography/fast-alpr/internal/model"
	"github.com/salography/fast-alpr/internal/source"
)

func init() {
	source.Register("webcam", New)
}

// Webcam reads frames from a camera device by index.
type Webcam struct {
	index    int
	fps      float64
	maxFails int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	counters source.Counters
}

// New builds a webcam source. The device comes from the camera_index
// setting (default 0); fps, when set, throttles capture below the
// device rate.
func New(cfg source.Config) (source.Source, error) {
	index, err := cfg.ExtraInt("camera_index", 0)
	if err != nil {
		return nil, err
	}
	fps, err := cfg.ExtraFloat("fps", 0)
	if err != nil {
		return nil, err
	}
	return &Webcam{index: index, fps: fps, maxFails: cfg.MaxFailures()}, nil
}

// Start opens the camera device and begins the capture loop.
func (w *Webcam) Start(ctx context.Context) (<-chan model.Frame, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil, fmt.Errorf("webcam source: already started")
	}

	capture, err := gocv.OpenVideoCapture(w.index)
	if err != nil {
		return nil, fmt.Errorf("webcam source: open device %d: %w", w.index, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("webcam source: device %d is not open", w.index)
	}

	slog.Info("webcam source: device opened",
		"camera_index", w.index,
		"width", capture.Get(gocv.VideoCaptureFrameWidth),
		"height", capture.Get(gocv.VideoCaptureFrameHeight),
		"device_fps", capture.Get(gocv.VideoCaptureFPS))

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	frames := make(chan model.Frame, 10)

	go w.run(ctx, capture, frames)
	return frames, nil
}

// run reads device frames until the context ends or too many
// consecutive reads fail. Each frame is JPEG-encoded before publish;
// slow consumers cost dropped frames, never blocked capture.
func (w *Webcam) run(ctx context.Context, capture *gocv.VideoCapture, frames chan model.Frame) {
	defer close(w.done)
	defer close(frames)
	defer capture.Close()

	var throttle *time.Ticker
	if w.fps > 0 {
		throttle = time.NewTicker(time.Duration(float64(time.Second) / w.fps))
		defer throttle.Stop()
	}

	img := gocv.NewMat()
	defer img.Close()

	var seq uint64
	consecutive := 0
	for {
		if throttle != nil {
			select {
			case <-ctx.Done():
				return
			case <-throttle.C:
			}
		} else {
			select {
			case <-ctx.Done():
				return
			default:
			}
		}

		if !capture.Read(&img) || img.Empty() {
			w.counters.Failure()
			consecutive++
			if consecutive >= w.maxFails {
				slog.Error("webcam source: giving up after consecutive read failures",
					"camera_index", w.index, "failures", consecutive)
				return
			}
			continue
		}
		consecutive = 0

		buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
		if err != nil {
			w.counters.Failure()
			slog.Warn("webcam source: encode frame", "error", err)
			continue
		}
		data := make([]byte, len(buf.GetBytes()))
		copy(data, buf.GetBytes())
		buf.Close()

		seq++
		now := time.Now()
		frame := model.Frame{
			Source:    "webcam",
			Seq:       seq,
			Timestamp: now,
			Data:      data,
			Width:     img.Cols(),
			Height:    img.Rows(),
		}

		select {
		case frames <- frame:
			w.counters.Frame(now)
		case <-ctx.Done():
			return
		default:
			w.counters.Drop()
		}
	}
}

// Stop ends the capture loop and releases the device.
func (w *Webcam) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Stats reports capture counters.
func (w *Webcam) Stats() source.Stats { return w.counters.Snapshot() }
