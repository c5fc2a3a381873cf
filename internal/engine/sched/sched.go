// Package sched decides which captured frames enter the recognition
// pipeline. Inference is far slower than capture, so only every Nth frame
// is processed; the rest are dropped without side effects.
package sched

// DefaultInterval is the sampling interval used when none is configured.
const DefaultInterval = 5

// Sampler selects every Nth frame by capture index.
type Sampler struct {
	n uint64
}

// Every creates a Sampler that fires on every nth frame. Values below 1
// fall back to DefaultInterval.
func Every(n int) *Sampler {
	if n < 1 {
		n = DefaultInterval
	}
	return &Sampler{n: uint64(n)}
}

// Interval returns the configured sampling interval.
func (s *Sampler) Interval() int {
	return int(s.n)
}

// ShouldProcess reports whether the frame at the given capture index is
// selected. Index 0 is always selected; with n=1 every frame is.
func (s *Sampler) ShouldProcess(frameIndex uint64) bool {
	return frameIndex%s.n == 0
}
