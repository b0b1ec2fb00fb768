package frame

import (
	"time"
)

// Stats summarizes CPU-side frame pacing. Durations are measured with a
// high resolution clock.
type Stats struct {
	Frames   uint64
	Rebuilds uint64

	// Fence waits, including per-image guards and drains.
	Waits     uint64
	LastWait  time.Duration
	TotalWait time.Duration

	// From the start of an acquisition to the return of its presentation.
	LastFrame  time.Duration
	TotalFrame time.Duration
}

func (s *Stats) addWait(d time.Duration) {
	s.Waits++
	s.LastWait = d
	s.TotalWait += d
}

func (s *Stats) addFrame(d time.Duration) {
	s.LastFrame = d
	s.TotalFrame += d
}

// MeanFrame returns the average frame duration.
func (s Stats) MeanFrame() time.Duration {
	if s.Frames == 0 {
		return 0
	}
	return s.TotalFrame / time.Duration(s.Frames)
}
