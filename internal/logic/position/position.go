// Package position is the autonomous closed-loop controller: it drives one
// axis to a raw encoder setpoint with a PID and, once there, dwells and
// picks a new target.
package position

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cjeanneret/ArmGo/internal/debug"
	"github.com/cjeanneret/ArmGo/internal/hw/stepper"
	"github.com/cjeanneret/ArmGo/internal/logic/pid"
)

// Diagnostics.
const (
	MsgTargetReached = "Target Reached"
	MsgNewTarget     = "New Target"
)

// Config holds the controller settings.
type Config struct {
	Gains     pid.Gains
	Sample    time.Duration
	MaxSpeed  int // steps/s commanded while moving
	Setpoint  int // initial target, raw
	TargetMin int // new targets are drawn from [TargetMin, TargetMax)
	TargetMax int
	MinMove   int           // a new target differs from the old one by at least this
	Dwell     time.Duration // pause at a reached target
}

// Option customises a Controller.
type Option func(*Controller)

// WithClock replaces time.Now for the PID sample gate.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithSleep replaces time.Sleep for the dwell.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Controller) { c.sleep = sleep }
}

// WithRand replaces the target generator. intN must return a value in [0, n).
func WithRand(intN func(n int) int) Option {
	return func(c *Controller) { c.intN = intN }
}

// Controller drives one actuator toward a setpoint.
type Controller struct {
	name string
	act  stepper.Actuator
	cfg  Config
	pid  *pid.Controller

	now   func() time.Time
	sleep func(time.Duration)
	intN  func(n int) int

	setpoint int
	reached  int
}

// New creates a suspended controller for act.
func New(name string, act stepper.Actuator, cfg Config, opts ...Option) (*Controller, error) {
	if cfg.TargetMin >= cfg.TargetMax {
		return nil, fmt.Errorf("position %s: empty target range [%d, %d)", name, cfg.TargetMin, cfg.TargetMax)
	}
	if cfg.MinMove*2 >= cfg.TargetMax-cfg.TargetMin {
		return nil, fmt.Errorf("position %s: min move %d too large for [%d, %d)", name, cfg.MinMove, cfg.TargetMin, cfg.TargetMax)
	}
	c := &Controller{
		name:     name,
		act:      act,
		cfg:      cfg,
		pid:      pid.New(cfg.Gains, cfg.Sample, -1, 1),
		now:      time.Now,
		sleep:    time.Sleep,
		intN:     rand.IntN,
		setpoint: cfg.Setpoint,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Name returns the axis name.
func (c *Controller) Name() string { return c.name }

// Setpoint returns the current target.
func (c *Controller) Setpoint() int { return c.setpoint }

// Output returns the last PID output.
func (c *Controller) Output() float64 { return c.pid.Output() }

// Reached returns how many targets have been reached.
func (c *Controller) Reached() int { return c.reached }

// Active reports whether the PID is running.
func (c *Controller) Active() bool { return c.pid.Running() }

// Suspend stops the PID and forgets its history. The next Update restarts it.
func (c *Controller) Suspend() {
	if !c.pid.Running() {
		return
	}
	c.pid.Stop()
	c.pid.Reset()
	debug.Verbose("Position %s: suspended", c.name)
}

// Update runs one control step on this cycle's encoder reading and commands
// the actuator. On reaching the target it stops, dwells and retargets
// before returning.
func (c *Controller) Update(raw int) error {
	if !c.pid.Running() {
		c.pid.Start()
		debug.Verbose("Position %s: active, setpoint %d", c.name, c.setpoint)
	}
	out, _ := c.pid.Compute(c.now(), float64(raw), float64(c.setpoint))

	switch {
	case out != 0:
		if err := c.act.RotateAsync(c.cfg.MaxSpeed); err != nil {
			return fmt.Errorf("position %s: %w", c.name, err)
		}
		if err := c.act.OverrideSpeed(-out); err != nil {
			return fmt.Errorf("position %s: %w", c.name, err)
		}
		debug.Trace("Position %s: raw %d setpoint %d out %.4f", c.name, raw, c.setpoint, out)
		return nil

	case raw == c.setpoint:
		if err := c.act.Stop(); err != nil {
			return fmt.Errorf("position %s: %w", c.name, err)
		}
		c.reached++
		debug.Info("%s: %s (%d)", c.name, MsgTargetReached, raw)
		c.sleep(c.cfg.Dwell)
		c.setpoint = c.nextTarget(c.setpoint)
		debug.Info("%s: %s %d", c.name, MsgNewTarget, c.setpoint)
		return nil
	}

	if err := c.act.OverrideSpeed(0); err != nil {
		return fmt.Errorf("position %s: %w", c.name, err)
	}
	return nil
}

// nextTarget draws a target in [TargetMin, TargetMax) at least MinMove away
// from old.
func (c *Controller) nextTarget(old int) int {
	span := c.cfg.TargetMax - c.cfg.TargetMin
	for {
		n := c.cfg.TargetMin + c.intN(span)
		if d := n - old; d >= c.cfg.MinMove || -d >= c.cfg.MinMove {
			return n
		}
	}
}
