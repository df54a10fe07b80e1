package core

import (
	"errors"
)

var (
	// ErrFrameSkipped is returned when swapchain recreation failed (for
	// example a minimized window) and the frame is abandoned without a
	// recording token ever being issued.
	ErrFrameSkipped = errors.New("frame skipped, no usable swapchain image")
)
