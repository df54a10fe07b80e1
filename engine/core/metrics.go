package core

// frameWindow is the number of samples in the rolling frame-time average.
const frameWindow = 30

// FrameStats keeps a rolling frame-time average and a frames-per-second
// counter. One instance per render loop; not safe for concurrent use.
type FrameStats struct {
	samples       [frameWindow]float64
	sampleCursor  int
	avgMS         float64
	frames        int
	accumulatedMS float64
	fps           float64
}

func NewFrameStats() *FrameStats {
	return &FrameStats{}
}

// Update records one frame's elapsed time in seconds.
func (s *FrameStats) Update(frameElapsed float64) {
	frameMS := frameElapsed * 1000.0

	s.samples[s.sampleCursor] = frameMS
	s.sampleCursor++
	if s.sampleCursor == frameWindow {
		s.sampleCursor = 0
		var sum float64
		for _, sample := range s.samples {
			sum += sample
		}
		s.avgMS = sum / frameWindow
	}

	s.accumulatedMS += frameMS
	s.frames++
	if s.accumulatedMS > 1000 {
		s.fps = float64(s.frames)
		s.accumulatedMS -= 1000
		s.frames = 0
	}
}

// FPS returns the frames counted in the last whole second.
func (s *FrameStats) FPS() float64 {
	return s.fps
}

// FrameTimeMS returns the rolling average frame time in milliseconds.
func (s *FrameStats) FrameTimeMS() float64 {
	return s.avgMS
}
