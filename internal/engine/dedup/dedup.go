package dedup

import (
	"time"

	"github.com/salography/fast-alpr/internal/model"
)

// Config controls acceptance behavior.
type Config struct {
	Window        time.Duration // same-plate suppression window (0 disables)
	MinConfidence float64       // detection confidence floor
}

// Tracker decides which plate candidates become observations. It remembers
// the last accepted timestamp per plate and suppresses re-reads of the same
// plate within Window. Not safe for concurrent use; the engine is the only
// caller.
type Tracker struct {
	cfg      Config
	lastSeen map[string]time.Time
	stats    Stats
}

// Stats counts acceptance outcomes since the last Reset.
type Stats struct {
	Accepted      uint64
	LowConfidence uint64
	Duplicates    uint64
	TrackedPlates int
}

// New creates a Tracker with the given config.
func New(cfg Config) *Tracker {
	return &Tracker{
		cfg:      cfg,
		lastSeen: make(map[string]time.Time),
	}
}

// Accept evaluates one candidate. It returns the finalized observation and
// true when the candidate is accepted, in which case the plate's memory
// entry is updated to the candidate's timestamp. Candidates below the
// confidence floor never touch plate memory. Within one batch, candidates
// must be passed in pipeline order; for equal timestamps the first accepted
// entry suppresses the rest.
func (t *Tracker) Accept(c model.Candidate) (model.Observation, bool) {
	if c.DetectionConfidence < t.cfg.MinConfidence {
		t.stats.LowConfidence++
		return model.Observation{}, false
	}

	t.prune(c.Timestamp)

	if last, seen := t.lastSeen[c.Plate]; seen && c.Timestamp.Sub(last) < t.cfg.Window {
		t.stats.Duplicates++
		return model.Observation{}, false
	}

	t.lastSeen[c.Plate] = c.Timestamp
	t.stats.Accepted++
	return model.Observation{
		Timestamp:           c.Timestamp,
		Plate:               c.Plate,
		OCRConfidence:       model.Round4(c.OCRConfidence),
		DetectionConfidence: model.Round4(c.DetectionConfidence),
	}, true
}

// prune drops plate entries old enough that they can no longer suppress
// anything. Keeps memory bounded by the set of plates seen within Window,
// not by session length.
func (t *Tracker) prune(now time.Time) {
	if t.cfg.Window <= 0 {
		// Window 0 accepts everything; no entry ever suppresses.
		clear(t.lastSeen)
		return
	}
	for plate, last := range t.lastSeen {
		if now.Sub(last) >= t.cfg.Window {
			delete(t.lastSeen, plate)
		}
	}
}

// Reset clears plate memory and stats for a new session.
func (t *Tracker) Reset() {
	clear(t.lastSeen)
	t.stats = Stats{}
}

// Stats returns acceptance counters and the current tracked plate count.
func (t *Tracker) Stats() Stats {
	s := t.stats
	s.TrackedPlates = len(t.lastSeen)
	return s
}
