package core

import "time"

// Clock measures elapsed wall time between frames.
type Clock struct {
	started time.Time
	elapsed time.Duration
	running bool
}

func NewClock() *Clock {
	return &Clock{}
}

// Start resets elapsed time and begins measuring.
func (c *Clock) Start() {
	c.started = time.Now()
	c.elapsed = 0
	c.running = true
}

// Update refreshes elapsed time. Has no effect on stopped clocks; call just
// before reading Elapsed.
func (c *Clock) Update() {
	if c.running {
		c.elapsed = time.Since(c.started)
	}
}

// Stop halts measuring without resetting elapsed time.
func (c *Clock) Stop() {
	c.running = false
}

// Elapsed returns the measured time in seconds.
func (c *Clock) Elapsed() float64 {
	return c.elapsed.Seconds()
}
