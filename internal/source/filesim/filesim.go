// Package filesim replays a directory of JPEG images as a frame
// stream. It stands in for a live camera in development and tests.
package filesim

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/salography/fast-alpr/internal/model"
	"github.com/salography/fast-alpr/internal/source"
)

func init() {
	source.Register("filesim", New)
}

// Sim replays still images in name order at a fixed rate.
type Sim struct {
	dir      string
	fps      float64
	loops    int
	maxFails int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	counters source.Counters
}

// New builds a replay source. frames_dir names a directory of .jpg
// images; fps sets the replay rate (default 10); loops bounds the
// number of passes over the directory (default 0, forever).
func New(cfg source.Config) (source.Source, error) {
	dir := cfg.ExtraString("frames_dir", "")
	if dir == "" {
		return nil, fmt.Errorf("filesim source: frames_dir is required")
	}
	fps, err := cfg.ExtraFloat("fps", 10)
	if err != nil {
		return nil, err
	}
	if fps <= 0 {
		return nil, fmt.Errorf("filesim source: fps must be positive, got %g", fps)
	}
	loops, err := cfg.ExtraInt("loops", 0)
	if err != nil {
		return nil, err
	}
	return &Sim{dir: dir, fps: fps, loops: loops, maxFails: cfg.MaxFailures()}, nil
}

// Start lists the frame files and begins replay.
func (s *Sim) Start(ctx context.Context) (<-chan model.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil, fmt.Errorf("filesim source: already started")
	}

	files, err := listFrames(s.dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("filesim source: no frame images in %s", s.dir)
	}
	slog.Info("filesim source: replaying directory",
		"frames_dir", s.dir, "files", len(files), "fps", s.fps, "loops", s.loops)

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	frames := make(chan model.Frame, 10)

	go s.replay(ctx, files, frames)
	return frames, nil
}

// listFrames returns the .jpg and .jpeg files under dir in name order.
func listFrames(dir string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.jpg", "*.jpeg"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("filesim source: list %s: %w", dir, err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

func (s *Sim) replay(ctx context.Context, files []string, frames chan model.Frame) {
	defer close(s.done)
	defer close(frames)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.fps))
	defer ticker.Stop()

	var seq uint64
	idx, loop, consecutive := 0, 0, 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		path := files[idx]
		idx++
		wrapped := idx >= len(files)
		if wrapped {
			idx = 0
		}

		data, err := os.ReadFile(path)
		if err != nil {
			s.counters.Failure()
			consecutive++
			if consecutive >= s.maxFails {
				slog.Error("filesim source: giving up after consecutive read failures",
					"frames_dir", s.dir, "failures", consecutive)
				return
			}
			slog.Warn("filesim source: read frame", "path", path, "error", err)
		} else {
			consecutive = 0
			seq++
			now := time.Now()
			frame := model.Frame{
				Source:    "filesim",
				Seq:       seq,
				Timestamp: now,
				Data:      data,
			}
			if dims, err := jpeg.DecodeConfig(bytes.NewReader(data)); err == nil {
				frame.Width, frame.Height = dims.Width, dims.Height
			}

			select {
			case frames <- frame:
				s.counters.Frame(now)
			case <-ctx.Done():
				return
			default:
				s.counters.Drop()
			}
		}

		if wrapped {
			loop++
			if s.loops > 0 && loop >= s.loops {
				slog.Info("filesim source: replay finished",
					"loops", loop, "frames", seq)
				return
			}
		}
	}
}

// Stop ends the replay loop.
func (s *Sim) Stop() error {
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
func (s *Sim) Stats() source.Stats { return s.counters.Snapshot() }
