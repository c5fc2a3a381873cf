package sched

import "testing"

func TestEveryFifthFrame(t *testing.T) {
	s := Every(5)

	selected := []uint64{0, 5, 10, 15, 100}
	for _, idx := range selected {
		if !s.ShouldProcess(idx) {
			t.Errorf("frame %d: expected selected", idx)
		}
	}
	skipped := []uint64{1, 2, 3, 4, 6, 7, 9, 11, 14, 99}
	for _, idx := range skipped {
		if s.ShouldProcess(idx) {
			t.Errorf("frame %d: expected skipped", idx)
		}
	}
}

func TestEveryFrameWhenIntervalOne(t *testing.T) {
	s := Every(1)
	for idx := uint64(0); idx < 20; idx++ {
		if !s.ShouldProcess(idx) {
			t.Errorf("frame %d: n=1 must select every frame", idx)
		}
	}
}

func TestFirstFrameAlwaysSelected(t *testing.T) {
	for _, n := range []int{1, 2, 5, 30} {
		if !Every(n).ShouldProcess(0) {
			t.Errorf("n=%d: frame 0 must be selected", n)
		}
	}
}

func TestInvalidIntervalFallsBack(t *testing.T) {
	for _, n := range []int{0, -1, -100} {
		s := Every(n)
		if got := s.Interval(); got != DefaultInterval {
			t.Errorf("Every(%d).Interval() = %d, want %d", n, got, DefaultInterval)
		}
	}
}

func TestInterval(t *testing.T) {
	if got := Every(7).Interval(); got != 7 {
		t.Errorf("Interval() = %d, want 7", got)
	}
}
