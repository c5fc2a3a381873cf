// Package engine runs detection sessions: it pulls frames from a source,
// schedules them into the recognition pipeline, deduplicates the resulting
// candidates and records accepted observations to the session log before
// fanning them out to the configured sinks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/salography/fast-alpr/internal/alpr"
	"github.com/salography/fast-alpr/internal/engine/dedup"
	"github.com/salography/fast-alpr/internal/engine/sched"
	"github.com/salography/fast-alpr/internal/model"
	"github.com/salography/fast-alpr/internal/session"
	"github.com/salography/fast-alpr/internal/sink"
	"github.com/salography/fast-alpr/internal/source"
)

// ErrAlreadyRunning is returned by Start while a session is active.
var ErrAlreadyRunning = errors.New("engine: session already running")

// DefaultMaxStorageFailures is the number of consecutive session-log write
// failures tolerated before the session is terminated.
const DefaultMaxStorageFailures = 5

// State is the engine lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateRunning     State = "running"
	StateTerminating State = "terminating"
	StateClosed      State = "closed"
)

// Config holds the engine's session policy.
type Config struct {
	OutputDir          string        // session file directory
	MinConfidence      float64       // detection confidence floor
	DuplicateWindow    time.Duration // same-plate suppression window
	FrameInterval      int           // process every Nth frame
	MaxStorageFailures int           // consecutive Record failures before terminating
}

// Summary describes a finished session.
type Summary struct {
	SessionID   string         `json:"session_id"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     time.Time      `json:"ended_at"`
	Total       int            `json:"total_detections"`
	PlateCounts map[string]int `json:"plate_counts,omitempty"`
	Path        string         `json:"session_file"`
}

// Stats is a point-in-time view of the engine for the control surface.
type Stats struct {
	State           State        `json:"state"`
	SessionID       string       `json:"session_id,omitempty"`
	StartedAt       time.Time    `json:"started_at,omitzero"`
	FramesSeen      uint64       `json:"frames_seen"`
	FramesProcessed uint64       `json:"frames_processed"`
	TotalDetections int          `json:"total_detections"`
	DistinctPlates  int          `json:"distinct_plates"`
	LastPlate       string       `json:"last_plate,omitempty"`
	Accepted        uint64       `json:"accepted"`
	LowConfidence   uint64       `json:"rejected_low_confidence"`
	Duplicates      uint64       `json:"rejected_duplicate"`
	Source          source.Stats `json:"source"`
}

// Engine orchestrates the capture → schedule → recognize → dedup → record
// pipeline for one session at a time.
type Engine struct {
	src        source.Source
	recognizer alpr.Recognizer
	sampler    *sched.Sampler
	tracker    *dedup.Tracker
	sinks      sink.Sink
	ids        *session.IDSource

	outputDir          string
	maxStorageFailures int

	onSessionStart func(id string, at time.Time)
	onSessionEnd   func(id string, at time.Time, total int)

	// The run goroutine is the only writer to tracker and log; everything
	// the control surface reads is mirrored here under mu.
	mu              sync.Mutex
	state           State
	starting        bool
	log             *session.Log
	cancel          context.CancelFunc
	done            chan struct{}
	framesSeen      uint64
	framesProcessed uint64
	total           int
	distinct        int
	lastPlate       string
	lastFrame       *model.Frame
	dedupStats      dedup.Stats
	summary         *Summary
}

// Option configures an Engine.
type Option func(*Engine)

// WithSinks sets the sink chain accepted observations are fanned out to
// after they are recorded in the session log.
func WithSinks(s sink.Sink) Option {
	return func(e *Engine) { e.sinks = s }
}

// WithSessionHooks registers callbacks invoked at session boundaries, after
// the session log is opened and after it is closed.
func WithSessionHooks(started func(id string, at time.Time), ended func(id string, at time.Time, total int)) Option {
	return func(e *Engine) {
		e.onSessionStart = started
		e.onSessionEnd = ended
	}
}

// New creates an Engine with the provided components.
func New(src source.Source, rec alpr.Recognizer, cfg Config, opts ...Option) *Engine {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if cfg.MaxStorageFailures < 1 {
		cfg.MaxStorageFailures = DefaultMaxStorageFailures
	}
	e := &Engine{
		src:        src,
		recognizer: rec,
		sampler:    sched.Every(cfg.FrameInterval),
		tracker: dedup.New(dedup.Config{
			Window:        cfg.DuplicateWindow,
			MinConfidence: cfg.MinConfidence,
		}),
		ids:                session.NewIDSource(),
		outputDir:          cfg.OutputDir,
		maxStorageFailures: cfg.MaxStorageFailures,
		state:              StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start opens a new session and begins consuming frames. It returns the
// session id. Only one session runs at a time; Start during Running or
// Terminating returns ErrAlreadyRunning. After a session closes the engine
// is startable again.
func (e *Engine) Start(ctx context.Context) (string, error) {
	e.mu.Lock()
	if e.starting || e.state == StateRunning || e.state == StateTerminating {
		e.mu.Unlock()
		return "", ErrAlreadyRunning
	}
	// Claim the engine before the setup I/O so a concurrent Start fails
	// fast instead of opening a second session.
	e.starting = true
	e.mu.Unlock()

	rollback := func() {
		e.mu.Lock()
		e.starting = false
		e.mu.Unlock()
	}

	now := time.Now()
	id := e.ids.Next(now)

	log, err := session.Open(e.outputDir, id, now)
	if err != nil {
		rollback()
		return "", fmt.Errorf("engine: open session log: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	frames, err := e.src.Start(runCtx)
	if err != nil {
		cancel()
		log.Close()
		rollback()
		return "", fmt.Errorf("engine: start source: %w", err)
	}

	e.tracker.Reset()
	done := make(chan struct{})

	e.mu.Lock()
	e.starting = false
	e.state = StateRunning
	e.log = log
	e.cancel = cancel
	e.done = done
	e.framesSeen = 0
	e.framesProcessed = 0
	e.total = 0
	e.distinct = 0
	e.lastPlate = ""
	e.dedupStats = dedup.Stats{}
	e.mu.Unlock()

	if e.onSessionStart != nil {
		e.onSessionStart(id, now)
	}
	slog.Info("session started",
		"session_id", id,
		"session_file", log.Path(),
		"frame_interval", e.sampler.Interval())

	go e.run(runCtx, frames, log, done)
	return id, nil
}

// Stop ends the active session at the next frame boundary and waits for the
// session log to be finalized. It returns the finished session's summary.
// Stopping an engine with no active session is a no-op returning the last
// summary, if any.
func (e *Engine) Stop() (*Summary, error) {
	e.mu.Lock()
	state := e.state
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	switch state {
	case StateIdle, StateClosed:
		return e.lastSummary(), nil
	case StateTerminating:
		<-done
		return e.lastSummary(), nil
	}

	cancel()
	<-done
	return e.lastSummary(), nil
}

func (e *Engine) lastSummary() *Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.summary
}

// Stats returns a snapshot of the current (or last) session.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	s := Stats{
		State:           e.state,
		FramesSeen:      e.framesSeen,
		FramesProcessed: e.framesProcessed,
		TotalDetections: e.total,
		DistinctPlates:  e.distinct,
		LastPlate:       e.lastPlate,
		Accepted:        e.dedupStats.Accepted,
		LowConfidence:   e.dedupStats.LowConfidence,
		Duplicates:      e.dedupStats.Duplicates,
	}
	if e.log != nil {
		s.SessionID = e.log.ID()
		s.StartedAt = e.log.StartedAt()
	}
	e.mu.Unlock()

	s.Source = e.src.Stats()
	return s
}

// LatestFrame returns the most recently captured frame, for screenshots.
// The second return is false before the first frame arrives.
func (e *Engine) LatestFrame() (model.Frame, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastFrame == nil {
		return model.Frame{}, false
	}
	return *e.lastFrame, true
}

// run is the session loop. It is the only goroutine touching the tracker
// and the session log.
func (e *Engine) run(ctx context.Context, frames <-chan model.Frame, log *session.Log, done chan struct{}) {
	defer close(done)

	storageFailures := 0
	for {
		// Checked before blocking so a stop request is honored at the
		// frame boundary even when frames are ready.
		if ctx.Err() != nil {
			e.finish(log, "stop requested")
			return
		}
		select {
		case <-ctx.Done():
			e.finish(log, "stop requested")
			return
		case frame, ok := <-frames:
			if !ok {
				e.finish(log, "source closed")
				return
			}
			if e.handleFrame(ctx, frame, log, &storageFailures) {
				e.finish(log, "storage failures")
				return
			}
		}
	}
}

// handleFrame processes one captured frame. Returns true when the session
// must terminate.
func (e *Engine) handleFrame(ctx context.Context, frame model.Frame, log *session.Log, storageFailures *int) bool {
	e.mu.Lock()
	idx := e.framesSeen
	e.framesSeen++
	e.lastFrame = &frame
	e.mu.Unlock()

	if !e.sampler.ShouldProcess(idx) {
		return false
	}

	e.mu.Lock()
	e.framesProcessed++
	e.mu.Unlock()

	// Predict is never aborted mid-call; a stop request takes effect at
	// the next frame boundary.
	cands, err := e.recognizer.Predict(ctx, &frame)
	if err != nil {
		slog.Warn("recognition failed",
			"session_id", log.ID(),
			"frame_seq", frame.Seq,
			"error", err)
	}

	var lastAccepted string
	for _, c := range cands {
		obs, ok := e.tracker.Accept(c)
		if !ok {
			continue
		}

		if err := log.Record(obs); err != nil {
			*storageFailures++
			slog.Error("session record failed",
				"session_id", log.ID(),
				"plate", obs.Plate,
				"consecutive_failures", *storageFailures,
				"error", err)
			if *storageFailures >= e.maxStorageFailures {
				slog.Error("giving up after consecutive storage failures",
					"session_id", log.ID(),
					"failures", *storageFailures)
				return true
			}
			continue
		}
		*storageFailures = 0
		lastAccepted = obs.Plate

		slog.Info("plate accepted",
			"session_id", log.ID(),
			"plate", obs.Plate,
			"detection_confidence", obs.DetectionConfidence,
			"ocr_confidence", obs.OCRConfidence,
			"frame_seq", frame.Seq)

		// Only recorded observations are fanned out: the session log is
		// the primary record, sinks are secondary.
		if e.sinks != nil {
			out := obs
			out.Session = log.ID()
			out.FrameSeq = frame.Seq
			out.Source = frame.Source
			if err := e.sinks.Write(ctx, out); err != nil {
				slog.Warn("sink write failed", "plate", out.Plate, "error", err)
			}
		}
	}

	e.mu.Lock()
	e.dedupStats = e.tracker.Stats()
	e.total = log.Count()
	e.distinct = log.DistinctPlates()
	if lastAccepted != "" {
		e.lastPlate = lastAccepted
	}
	e.mu.Unlock()
	return false
}

// finish releases the source, finalizes the session log and moves the
// engine back to a startable state. Only called from the run goroutine.
func (e *Engine) finish(log *session.Log, reason string) {
	e.mu.Lock()
	e.state = StateTerminating
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	if err := e.src.Stop(); err != nil {
		slog.Warn("source stop failed", "error", err)
	}

	endedAt := time.Now()
	total := log.Count()
	counts := log.PlateCounts()
	if err := log.Close(); err != nil {
		slog.Error("session log close failed", "session_id", log.ID(), "error", err)
	}

	sum := &Summary{
		SessionID:   log.ID(),
		StartedAt:   log.StartedAt(),
		EndedAt:     endedAt,
		Total:       total,
		PlateCounts: counts,
		Path:        log.Path(),
	}

	e.mu.Lock()
	e.state = StateClosed
	e.summary = sum
	e.cancel = nil
	e.mu.Unlock()

	if e.onSessionEnd != nil {
		e.onSessionEnd(log.ID(), endedAt, total)
	}
	slog.Info("session closed",
		"session_id", log.ID(),
		"reason", reason,
		"total_detections", total,
		"distinct_plates", len(counts))
}
