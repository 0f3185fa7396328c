// Package homing calibrates one axis against its endstops, its home sensor
// and its absolute encoder.
//
// The procedure is an explicit state machine polled by Step. Run polls it
// to completion. The axis's logical position counter is zeroed only once
// alignment has been verified.
package homing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/ArmGo/internal/debug"
	"github.com/cjeanneret/ArmGo/internal/hw/adc"
	"github.com/cjeanneret/ArmGo/internal/hw/gpio"
	"github.com/cjeanneret/ArmGo/internal/hw/stepper"
	"github.com/cjeanneret/ArmGo/internal/logic/geometry"
)

// MsgMisaligned is the diagnostic for a home engagement outside the verify
// window.
const MsgMisaligned = "Encoder/Homing Switch Mismatch! Check Alignment."

var (
	// ErrMisaligned means the home sensor engaged outside the verify window.
	ErrMisaligned = errors.New("homing: encoder and home sensor disagree")
	// ErrTimeout means a phase did not complete within the phase timeout.
	ErrTimeout = errors.New("homing: phase timed out")
)

// State is a calibration phase.
type State int

const (
	DetermineSide State = iota
	ApproachTopFirst
	ApproachBottomFirst
	VerifyAlignment
	Verified
	Error
)

var stateNames = [...]string{"DetermineSide", "ApproachTopFirst", "ApproachBottomFirst", "VerifyAlignment", "Verified", "Error"}

func (s State) String() string {
	if s < DetermineSide || s > Error {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == Verified || s == Error }

// Legs of ApproachTopFirst.
const (
	legTopEndstop = iota
	legHomeTop
	legHomeRelease
	legBottomEndstop
	legHomeReturn
)

// Switch is a debounced input polled by the calibration.
type Switch interface {
	Update() (bool, error)
	Read() gpio.Level
	Rose() bool
	Fell() bool
}

// Axis is the hardware of the axis under calibration. Home reads High when
// engaged, Endstop reads Low when engaged.
type Axis struct {
	Name     string
	Actuator stepper.Actuator
	ADC      adc.Reader
	Channel  int
	Home     Switch
	Endstop  Switch
}

// Config tunes the procedure.
type Config struct {
	Speed        int           // homing speed, steps/s
	VerifyWindow geometry.Band // accepted home engagement, degrees
	PhaseTimeout time.Duration // 0 = none
	PollInterval time.Duration // Run's delay between polls. 0 = busy poll.
}

// Result is the calibration record.
type Result struct {
	TopSwitchPosition    int
	BottomSwitchPosition int
	HomeRangeTop         int
	HomeRangeBottom      int
	HomeRangeMiddle      int
	HasTop               bool // ApproachTopFirst ran: top, home range and middle are valid
	HomeDegrees          int  // encoder angle at home engagement during verification
	Valid                bool
}

// Option configures a Calibration.
type Option func(*Calibration)

// WithClock replaces time.Now for phase timeouts.
func WithClock(now func() time.Time) Option {
	return func(c *Calibration) { c.now = now }
}

// Calibration is one homing run.
type Calibration struct {
	axis Axis
	cfg  Config
	now  func() time.Time

	state       State
	leg         int
	entered     time.Time
	started     bool
	provisional int
	done        bool
	res         Result
	err         error
}

// New prepares a calibration of axis. Nothing moves before the first Step.
func New(axis Axis, cfg Config, opts ...Option) (*Calibration, error) {
	if axis.Actuator == nil || axis.ADC == nil || axis.Home == nil || axis.Endstop == nil {
		return nil, fmt.Errorf("homing %s: axis needs an actuator, an encoder, a home sensor and an endstop", axis.Name)
	}
	if cfg.Speed <= 0 {
		return nil, fmt.Errorf("homing %s: speed must be > 0", axis.Name)
	}
	c := &Calibration{axis: axis, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// State returns the current phase.
func (c *Calibration) State() State { return c.state }

// Result returns the calibration record so far.
func (c *Calibration) Result() Result { return c.res }

// Err returns the failure that ended the run, if any.
func (c *Calibration) Err() error { return c.err }

// Done reports whether the run is finished: Error, or Verified with the
// final creep complete.
func (c *Calibration) Done() bool { return c.done }

func (c *Calibration) enter(s State) {
	debug.Verbose("Homing %s: %s -> %s", c.axis.Name, c.state, s)
	c.state = s
	c.leg = 0
	c.entered = c.now()
}

func (c *Calibration) nextLeg() {
	c.leg++
	c.entered = c.now()
}

func (c *Calibration) fail(err error) (State, error) {
	_ = c.axis.Actuator.Stop()
	_ = c.axis.Actuator.OverrideSpeed(0)
	c.enter(Error)
	c.err = err
	c.done = true
	if errors.Is(err, ErrMisaligned) {
		debug.Safety("%s: %s", c.axis.Name, MsgMisaligned)
	} else {
		debug.Safety("%s: homing failed: %v", c.axis.Name, err)
	}
	return c.state, err
}

func (c *Calibration) rotate(v int) error {
	return c.axis.Actuator.RotateAsync(v)
}

func (c *Calibration) stop() error {
	return c.axis.Actuator.Stop()
}

// Step polls the inputs once and advances the state machine. It returns the
// state after the poll and the error that ended the run, if any.
func (c *Calibration) Step() (State, error) {
	if c.done {
		return c.state, c.err
	}
	if !c.started {
		c.started = true
		c.entered = c.now()
		debug.Section("Homing " + c.axis.Name)
	}

	if _, err := c.axis.Home.Update(); err != nil {
		return c.fail(fmt.Errorf("homing %s: home sensor: %w", c.axis.Name, err))
	}
	if _, err := c.axis.Endstop.Update(); err != nil {
		return c.fail(fmt.Errorf("homing %s: endstop: %w", c.axis.Name, err))
	}
	v, err := c.axis.ADC.ReadRaw(c.axis.Channel)
	if err != nil {
		return c.fail(fmt.Errorf("homing %s: encoder: %w", c.axis.Name, err))
	}
	raw := int(v)

	if to := c.cfg.PhaseTimeout; to > 0 && c.now().Sub(c.entered) > to {
		return c.fail(fmt.Errorf("%w: %s leg %d after %v", ErrTimeout, c.state, c.leg, to))
	}

	if err := c.advance(raw); err != nil {
		return c.fail(fmt.Errorf("homing %s: %w", c.axis.Name, err))
	}
	return c.state, c.err
}

func (c *Calibration) advance(raw int) error {
	h := c.cfg.Speed
	homeEngaged := c.axis.Home.Read() == gpio.High
	endstopEngaged := c.axis.Endstop.Read() == gpio.Low

	switch c.state {
	case DetermineSide:
		if raw > geometry.RawMid {
			debug.Info("Homing %s: top switch first (raw %d)", c.axis.Name, raw)
			c.enter(ApproachTopFirst)
			return c.rotate(-h)
		}
		debug.Info("Homing %s: bottom switch first (raw %d)", c.axis.Name, raw)
		c.enter(ApproachBottomFirst)
		if endstopEngaged {
			// Already resting on the bottom endstop: no edge will come.
			return c.bottomReached(raw)
		}
		return c.rotate(h)

	case ApproachTopFirst:
		return c.approachTop(raw, homeEngaged)

	case ApproachBottomFirst:
		if !c.axis.Endstop.Fell() {
			return nil
		}
		return c.bottomReached(raw)

	case VerifyAlignment:
		return c.verify(raw, homeEngaged, endstopEngaged)

	case Verified:
		if raw < c.res.HomeRangeMiddle {
			return nil
		}
		return c.zero()
	}
	return nil
}

func (c *Calibration) bottomReached(raw int) error {
	if err := c.stop(); err != nil {
		return err
	}
	c.res.BottomSwitchPosition = raw
	debug.Info("Homing %s: bottom switch position %d", c.axis.Name, raw)
	c.enter(VerifyAlignment)
	return nil
}

func (c *Calibration) approachTop(raw int, homeEngaged bool) error {
	h := c.cfg.Speed
	switch c.leg {
	case legTopEndstop:
		if !c.axis.Endstop.Fell() {
			return nil
		}
		if err := c.stop(); err != nil {
			return err
		}
		c.res.TopSwitchPosition = raw
		debug.Info("Homing %s: top switch position %d", c.axis.Name, raw)
		c.nextLeg()
		return c.rotate(h)

	case legHomeTop:
		if !homeEngaged {
			return nil
		}
		c.res.HomeRangeTop = raw
		debug.Info("Homing %s: home range top %d", c.axis.Name, raw)
		c.nextLeg()
		return c.rotate(h)

	case legHomeRelease:
		if homeEngaged {
			return nil
		}
		c.provisional = raw
		c.res.HomeRangeBottom = raw
		debug.Info("Homing %s: home range bottom (a) %d", c.axis.Name, raw)
		c.nextLeg()
		return c.rotate(h)

	case legBottomEndstop:
		if !c.axis.Endstop.Fell() {
			return nil
		}
		if err := c.stop(); err != nil {
			return err
		}
		c.res.BottomSwitchPosition = raw
		debug.Info("Homing %s: bottom switch position %d", c.axis.Name, raw)
		c.nextLeg()
		return c.rotate(-h)

	case legHomeReturn:
		if !homeEngaged {
			return nil
		}
		if err := c.stop(); err != nil {
			return err
		}
		c.res.HomeRangeBottom = (raw + c.provisional) / 2
		c.res.HomeRangeMiddle = (c.res.HomeRangeBottom + c.res.HomeRangeTop) / 2
		c.res.HasTop = true
		debug.Info("Homing %s: home range bottom (b) %d, middle %d", c.axis.Name, c.res.HomeRangeBottom, c.res.HomeRangeMiddle)
		c.enter(VerifyAlignment)
	}
	return nil
}

func (c *Calibration) verify(raw int, homeEngaged, endstopEngaged bool) error {
	h := c.cfg.Speed
	if homeEngaged {
		deg := geometry.MapToDegrees(raw)
		c.res.HomeDegrees = deg
		if !c.cfg.VerifyWindow.Contains(deg) {
			return fmt.Errorf("%w: home engaged at %d° (raw %d)", ErrMisaligned, deg, raw)
		}
		debug.Info("Homing %s: basic homing test complete (%d°)", c.axis.Name, deg)
		c.enter(Verified)
		if !c.res.HasTop {
			return c.zero()
		}
		return c.rotate(-h / 10)
	}

	dir := -h
	if raw > geometry.RawMid {
		dir = h
	}
	if endstopEngaged {
		if err := c.stop(); err != nil {
			return err
		}
	}
	return c.rotate(dir)
}

// zero stops on home and resets the logical position counter.
func (c *Calibration) zero() error {
	if err := c.stop(); err != nil {
		return err
	}
	if err := c.axis.Actuator.SetPosition(0); err != nil {
		return err
	}
	c.done = true
	c.res.Valid = true
	debug.Info("Homing %s: complete, position zeroed", c.axis.Name)
	return nil
}

// Run polls Step until the calibration is done or ctx is cancelled. On
// cancellation the actuator is stopped.
func (c *Calibration) Run(ctx context.Context) (Result, error) {
	for {
		select {
		case <-ctx.Done():
			_ = c.axis.Actuator.Stop()
			return c.res, ctx.Err()
		default:
		}
		if _, err := c.Step(); err != nil {
			return c.res, err
		}
		if c.done {
			return c.res, nil
		}
		if c.cfg.PollInterval > 0 {
			time.Sleep(c.cfg.PollInterval)
		}
	}
}
