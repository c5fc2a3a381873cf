package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/salography/fast-alpr/internal/model"
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("session: log closed")

// Log is the per-session detection record. Every accepted observation is
// appended in memory and the whole file is rewritten atomically, so the
// on-disk file is always complete, valid JSON; a crash loses at most the
// write in flight.
type Log struct {
	id    string
	start time.Time
	path  string

	obs    []model.Observation
	counts map[string]int // plate → accepted reads
	closed bool
}

// fileEnvelope is the session file schema.
type fileEnvelope struct {
	SessionID       string          `json:"session_id"`
	SessionStart    string          `json:"session_start"`
	TotalDetections int             `json:"total_detections"`
	Detections      []fileDetection `json:"detections"`
}

type fileDetection struct {
	Timestamp           string  `json:"timestamp"`
	Plate               string  `json:"plate"`
	OCRConfidence       float64 `json:"ocr_confidence"`
	DetectionConfidence float64 `json:"detection_confidence"`
}

// Open creates the session log at dir/session_<id>.json, creating dir if
// needed. The file is written immediately with an empty detection list so
// every session leaves a record even when nothing is ever read.
func Open(dir, id string, start time.Time) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("session: create dir %s: %w", dir, err)
	}
	l := &Log{
		id:     id,
		start:  start,
		path:   filepath.Join(dir, "session_"+id+".json"),
		counts: make(map[string]int),
	}
	if err := l.writeFile(); err != nil {
		return nil, err
	}
	return l, nil
}

// Record appends an accepted observation and persists the updated file.
// Observations must arrive in non-decreasing timestamp order; the engine
// guarantees this by processing frames sequentially.
func (l *Log) Record(obs model.Observation) error {
	if l.closed {
		return ErrClosed
	}
	l.obs = append(l.obs, obs)
	l.counts[obs.Plate]++
	if err := l.writeFile(); err != nil {
		// Roll back so a retried Record does not double-count.
		l.obs = l.obs[:len(l.obs)-1]
		l.counts[obs.Plate]--
		return err
	}
	return nil
}

// Close persists the final state and marks the log closed. Safe to call
// more than once; later calls are no-ops.
func (l *Log) Close() error {
	if l.closed {
		return nil
	}
	err := l.writeFile()
	l.closed = true
	return err
}

// ID returns the session identifier.
func (l *Log) ID() string { return l.id }

// StartedAt returns the session start time.
func (l *Log) StartedAt() time.Time { return l.start }

// Path returns the session file path.
func (l *Log) Path() string { return l.path }

// Count returns the number of recorded observations.
func (l *Log) Count() int { return len(l.obs) }

// DistinctPlates returns the number of distinct plates recorded.
func (l *Log) DistinctPlates() int { return len(l.counts) }

// Observations returns a copy of the recorded sequence.
func (l *Log) Observations() []model.Observation {
	cp := make([]model.Observation, len(l.obs))
	copy(cp, l.obs)
	return cp
}

// PlateCounts returns accepted reads per distinct plate, for the session
// summary.
func (l *Log) PlateCounts() map[string]int {
	cp := make(map[string]int, len(l.counts))
	for plate, n := range l.counts {
		cp[plate] = n
	}
	return cp
}

// writeFile marshals the full session state and atomically replaces the
// session file (temp file in the same directory, fsync, rename).
func (l *Log) writeFile() error {
	env := fileEnvelope{
		SessionID:       l.id,
		SessionStart:    l.start.Format(time.RFC3339Nano),
		TotalDetections: len(l.obs),
		Detections:      make([]fileDetection, 0, len(l.obs)),
	}
	for _, o := range l.obs {
		env.Detections = append(env.Detections, fileDetection{
			Timestamp:           o.Timestamp.Format(time.RFC3339Nano),
			Plate:               o.Plate,
			OCRConfidence:       o.OCRConfidence,
			DetectionConfidence: o.DetectionConfidence,
		})
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("session: create temp: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("session: write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("session: sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("session: close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("session: rename to %s: %w", l.path, err)
	}
	return nil
}
