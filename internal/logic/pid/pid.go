// Package pid is a fixed-sample-time PID solver with output clamping.
//
// The proportional term acts on the error, the derivative term on the
// measurement (no kick when the setpoint jumps) and the integral uses the
// trapezoidal rule, clamped to the output limits.
package pid

import (
	"math"
	"time"
)

// Gains are the controller tunings. Ki and Kd are per second.
type Gains struct {
	Kp float64
	Ki float64
	Kd float64
}

// Controller computes a clamped output at most once per sample time.
type Controller struct {
	gains  Gains
	sample time.Duration
	min    float64
	max    float64

	running   bool
	primed    bool
	last      time.Time
	lastInput float64
	lastErr   float64
	iTerm     float64
	out       float64
}

// New creates a stopped controller.
func New(g Gains, sample time.Duration, min, max float64) *Controller {
	if min > max {
		min, max = max, min
	}
	return &Controller{gains: g, sample: sample, min: min, max: max}
}

// Start enables computation. The first Compute after Start runs at once.
func (c *Controller) Start() {
	if c.running {
		return
	}
	c.running = true
	c.primed = false
}

// Stop freezes the output.
func (c *Controller) Stop() { c.running = false }

// Running reports whether Compute is enabled.
func (c *Controller) Running() bool { return c.running }

// Reset clears the integral and derivative history and zeroes the output.
func (c *Controller) Reset() {
	c.primed = false
	c.iTerm, c.lastErr, c.out = 0, 0, 0
}

// Output returns the last computed output.
func (c *Controller) Output() float64 { return c.out }

// Gains returns the tunings.
func (c *Controller) Gains() Gains { return c.gains }

// Compute updates the output if the controller is running and a sample time
// has elapsed since the last computation. It returns the current output and
// whether a new value was computed.
func (c *Controller) Compute(now time.Time, input, setpoint float64) (float64, bool) {
	if !c.running {
		return c.out, false
	}

	var dt float64
	if c.primed {
		elapsed := now.Sub(c.last)
		if elapsed < c.sample {
			return c.out, false
		}
		dt = elapsed.Seconds()
	} else {
		c.lastInput = input
		c.lastErr = setpoint - input
		c.primed = true
	}
	c.last = now

	err := setpoint - input
	dInput := input - c.lastInput

	p := c.gains.Kp * err
	c.iTerm = clamp(c.iTerm+c.gains.Ki*dt*(err+c.lastErr)/2, c.min, c.max)
	var d float64
	if dt > 0 {
		d = -c.gains.Kd * dInput / dt
	}

	c.out = clamp(p+c.iTerm+d, c.min, c.max)
	c.lastInput = input
	c.lastErr = err
	return c.out, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
