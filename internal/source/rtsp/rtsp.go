// Package rtsp captures frames from an RTSP camera by piping the
// stream through ffmpeg as MJPEG and splitting it into JPEG frames.
package rtsp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/salography/fast-alpr/internal/model"
	"github.com/salography/fast-alpr/internal/source"
)

func init() {
	source.Register("rtsp", New)
}

const (
	maxRetries        = 10
	initialRetryDelay = time.Second
	maxRetryDelay     = 30 * time.Second
)

// Stream pulls frames from an RTSP camera via an ffmpeg MJPEG pipe.
// When the pipe dies it reconnects with exponential backoff; exhausted
// retries close the frame channel.
type Stream struct {
	url string
	fps float64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	counters source.Counters
}

// New builds an RTSP source. The stream address comes from the
// rtsp_url setting; fps caps the rate ffmpeg emits (default 10).
func New(cfg source.Config) (source.Source, error) {
	url := cfg.ExtraString("rtsp_url", "")
	if url == "" {
		return nil, fmt.Errorf("rtsp source: rtsp_url is required")
	}
	fps, err := cfg.ExtraFloat("fps", 10)
	if err != nil {
		return nil, err
	}
	if fps <= 0 {
		return nil, fmt.Errorf("rtsp source: fps must be positive, got %g", fps)
	}
	return &Stream{url: url, fps: fps}, nil
}

// Start launches the supervision loop and returns the frame channel.
func (s *Stream) Start(ctx context.Context) (<-chan model.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil, fmt.Errorf("rtsp source: already started")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("rtsp source: ffmpeg not found: %w", err)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	frames := make(chan model.Frame, 10)

	go s.run(ctx, frames)
	return frames, nil
}

// run supervises capture sessions. The retry counter resets whenever a
// session delivers at least one frame, so a long-lived stream that
// drops occasionally is never treated as terminally broken.
func (s *Stream) run(ctx context.Context, frames chan model.Frame) {
	defer close(s.done)
	defer close(frames)

	var seq uint64
	retries := 0
	delay := initialRetryDelay
	for {
		delivered, err := s.capture(ctx, frames, &seq)
		if ctx.Err() != nil {
			return
		}
		if delivered > 0 {
			retries = 0
			delay = initialRetryDelay
		}
		s.counters.Failure()

		retries++
		if retries > maxRetries {
			slog.Error("rtsp source: giving up after repeated failures",
				"url", s.url, "retries", maxRetries, "error", err)
			return
		}

		s.counters.Reconnect()
		slog.Warn("rtsp source: stream interrupted, reconnecting",
			"url", s.url, "attempt", retries, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

// capture runs one ffmpeg session, publishing every complete JPEG it
// emits. Returns the number of frames delivered and the error that
// ended the session.
func (s *Stream) capture(ctx context.Context, frames chan model.Frame, seq *uint64) (int, error) {
	args := []string{
		"-rtsp_transport", "tcp",
		"-i", s.url,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-r", fmt.Sprintf("%g", s.fps),
		"-q:v", "5",
		"-",
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("rtsp source: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("rtsp source: start ffmpeg: %w", err)
	}
	defer cmd.Wait()

	delivered := 0
	buf := make([]byte, 0, 1<<20)
	chunk := make([]byte, 32<<10)
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				var frame []byte
				frame, buf = nextJPEG(buf)
				if frame == nil {
					break
				}
				*seq++
				now := time.Now()
				f := model.Frame{
					Source:    "rtsp",
					Seq:       *seq,
					Timestamp: now,
					Data:      frame,
				}
				select {
				case frames <- f:
					s.counters.Frame(now)
					delivered++
				case <-ctx.Done():
					return delivered, ctx.Err()
				default:
					s.counters.Drop()
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return delivered, fmt.Errorf("rtsp source: ffmpeg exited")
			}
			return delivered, fmt.Errorf("rtsp source: read ffmpeg output: %w", err)
		}
	}
}

// Stop ends the supervision loop and kills any running ffmpeg.
func (s *Stream) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Stats reports capture counters.
func (s *Stream) Stats() source.Stats { return s.counters.Snapshot() }

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// nextJPEG extracts the first complete JPEG image from buf. It returns
// the frame (copied) and the remaining buffer. A nil frame means buf
// holds no complete image yet; leading bytes that cannot start a frame
// are discarded so a noisy pipe does not grow the buffer unboundedly.
func nextJPEG(buf []byte) (frame, rest []byte) {
	start := bytes.Index(buf, jpegSOI)
	if start < 0 {
		// Keep a trailing 0xFF in case the start marker is split
		// across reads.
		if len(buf) > 0 && buf[len(buf)-1] == 0xFF {
			return nil, buf[len(buf)-1:]
		}
		return nil, buf[:0]
	}
	end := bytes.Index(buf[start+2:], jpegEOI)
	if end < 0 {
		return nil, buf[start:]
	}
	end = start + 2 + end + 2

	frame = make([]byte, end-start)
	copy(frame, buf[start:end])
	return frame, buf[end:]
}
