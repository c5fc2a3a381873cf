package session

import (
	"fmt"
	"sync"
	"time"
)

// idLayout matches session file naming: session_20260825_143000.json.
const idLayout = "20060102_150405"

// IDSource issues session identifiers derived from the start wall clock.
// Two sessions started within the same second get a numeric suffix so ids
// stay unique for the process lifetime.
type IDSource struct {
	mu   sync.Mutex
	seen map[string]int
}

// NewIDSource creates an empty IDSource.
func NewIDSource() *IDSource {
	return &IDSource{seen: make(map[string]int)}
}

// Next returns the id for a session starting at t. The first session in a
// given second gets the bare timestamp; later ones get _1, _2, and so on.
func (s *IDSource) Next(t time.Time) string {
	base := t.Format(idLayout)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.seen[base]
	s.seen[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, n)
}
