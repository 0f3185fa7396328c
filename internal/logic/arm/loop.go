// Package arm is the mode arbiter: the per-cycle control loop that runs the
// interlocks and then hands every joint either to its autonomous position
// controller or to the teach pendant.
package arm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/ArmGo/internal/debug"
	"github.com/cjeanneret/ArmGo/internal/hw/adc"
	"github.com/cjeanneret/ArmGo/internal/logic/geometry"
	"github.com/cjeanneret/ArmGo/internal/logic/joystick"
	"github.com/cjeanneret/ArmGo/internal/logic/safety"
)

// Modes reported in Status.
const (
	ModeAutonomous = "autonomous"
	ModeManual     = "manual"
	ModeEmergency  = "emergency"
	ModeDenied     = "denied" // inputs unreadable this cycle
)

// Config tunes the loop.
type Config struct {
	Speed     int           // teleoperation speed, steps/s
	CycleTime time.Duration // Run's period
}

// Parts are the collaborators of the loop. Panic may be nil.
type Parts struct {
	Encoders   adc.Reader
	Stick      *joystick.Joystick
	Supervisor *safety.Supervisor
	Panic      *safety.PanicButton
	Axes       []*Axis
}

// keepaliver is an actuator that needs a periodic command to stay energised.
type keepaliver interface {
	Keepalive() error
}

// Loop is the control loop. Cycle must be called from a single goroutine;
// Status may be called from any.
type Loop struct {
	cfg   Config
	parts Parts
	state *safety.State

	cycles  uint64
	mode    string
	lastErr string
	status  atomic.Pointer[Status]
}

// New checks parts and returns a loop in manual mode.
func New(cfg Config, p Parts) (*Loop, error) {
	if p.Supervisor == nil {
		return nil, errors.New("arm: a safety supervisor is required")
	}
	if len(p.Axes) == 0 {
		return nil, errors.New("arm: no axes")
	}
	seen := make(map[AxisID]bool)
	for _, a := range p.Axes {
		if a == nil || a.Actuator == nil {
			return nil, errors.New("arm: axis without an actuator")
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("arm: axis %s listed twice", a.ID)
		}
		seen[a.ID] = true
		if a.HasEncoder() && p.Encoders == nil {
			return nil, fmt.Errorf("arm: axis %s has an encoder channel but no converter", a.ID)
		}
		if a.Teleop && p.Stick == nil {
			return nil, fmt.Errorf("arm: axis %s is teleoperated but there is no pendant", a.ID)
		}
		if a.Position != nil && !a.HasEncoder() {
			return nil, fmt.Errorf("arm: axis %s is autonomous without an encoder", a.ID)
		}
		a.raw = geometry.RawMid
	}
	l := &Loop{cfg: cfg, parts: p, state: p.Supervisor.State(), mode: ModeManual}
	l.publish()
	return l, nil
}

// Axes returns the joints in the order they were given.
func (l *Loop) Axes() []*Axis { return l.parts.Axes }

// Axis returns the joint id, or nil.
func (l *Loop) Axis(id AxisID) *Axis {
	for _, a := range l.parts.Axes {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// Cycle runs one control cycle. Every actuator receives an explicit
// velocity command before it returns, whatever the outcome.
func (l *Loop) Cycle() error {
	l.cycles++
	defer l.publish()

	var errs []error
	if p := l.parts.Panic; p != nil {
		if err := p.Poll(); err != nil {
			errs = append(errs, err)
		}
	}

	denied := false
	for _, a := range l.parts.Axes {
		if err := l.sample(a); err != nil {
			errs = append(errs, err)
			denied = true
		}
	}
	if denied {
		l.setMode(ModeDenied)
		l.holdAll(&errs)
		return errors.Join(errs...)
	}

	for _, a := range l.parts.Axes {
		if _, err := l.parts.Supervisor.CheckEndstop(a.channel(), a.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if l.state.Clear() {
		l.setMode(ModeAutonomous)
		for _, a := range l.parts.Axes {
			if a.Position == nil {
				hold(a, &errs)
				continue
			}
			if err := a.Position.Update(a.raw); err != nil {
				errs = append(errs, err)
			}
		}
	} else {
		for _, a := range l.parts.Axes {
			if a.Position != nil {
				a.Position.Suspend()
			}
			l.parts.Supervisor.CheckHome(a.channel(), a.raw)
		}
		if l.state.EmergencyStop() {
			l.setMode(ModeEmergency)
			l.holdAll(&errs)
		} else {
			l.setMode(ModeManual)
			for _, a := range l.parts.Axes {
				l.teleop(a, &errs)
			}
		}
	}

	l.keepalive(&errs)
	return errors.Join(errs...)
}

// sample updates the axis switches and reads its encoder.
func (l *Loop) sample(a *Axis) error {
	if a.Home != nil {
		if _, err := a.Home.Update(); err != nil {
			return fmt.Errorf("%s home sensor: %w", a.ID, err)
		}
	}
	if a.Endstop != nil {
		if _, err := a.Endstop.Update(); err != nil {
			return fmt.Errorf("%s endstop: %w", a.ID, err)
		}
	}
	if !a.HasEncoder() {
		return nil
	}
	v, err := l.parts.Encoders.ReadRaw(a.Channel)
	if err != nil {
		return fmt.Errorf("%s encoder: %w", a.ID, err)
	}
	a.raw = int(v)
	debug.Axis(a.ID.String(), v, geometry.MapToDegrees(a.raw))
	return nil
}

func (l *Loop) teleop(a *Axis, errs *[]error) {
	if !a.Teleop {
		hold(a, errs)
		return
	}
	if _, err := l.parts.Stick.Drive(a.Stick, a.Actuator, l.cfg.Speed); err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", a.ID, err))
		hold(a, errs)
	}
}

func hold(a *Axis, errs *[]error) {
	if err := a.Actuator.OverrideSpeed(0); err != nil {
		*errs = append(*errs, fmt.Errorf("hold %s: %w", a.ID, err))
	}
}

func (l *Loop) holdAll(errs *[]error) {
	for _, a := range l.parts.Axes {
		if a.Position != nil {
			a.Position.Suspend()
		}
		hold(a, errs)
	}
}

func (l *Loop) keepalive(errs *[]error) {
	for _, a := range l.parts.Axes {
		if k, ok := a.Actuator.(keepaliver); ok {
			if err := k.Keepalive(); err != nil {
				*errs = append(*errs, fmt.Errorf("%s keepalive: %w", a.ID, err))
			}
		}
	}
}

func (l *Loop) setMode(m string) {
	if m == l.mode {
		return
	}
	debug.Info("Mode: %s -> %s", l.mode, m)
	l.mode = m
}

// Mode returns the mode of the last cycle.
func (l *Loop) Mode() string { return l.mode }

// StopAll halts every actuator.
func (l *Loop) StopAll() error {
	var errs []error
	for _, a := range l.parts.Axes {
		if err := a.Actuator.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", a.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Run cycles every CycleTime until ctx is done, then stops every actuator.
// Cycle errors are logged; repeated identical errors are logged once.
func (l *Loop) Run(ctx context.Context) error {
	period := l.cfg.CycleTime
	if period <= 0 {
		period = 5 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	debug.Section("Control loop")
	debug.Value("Cycle time", period)
	for {
		select {
		case <-ctx.Done():
			if err := l.StopAll(); err != nil {
				debug.Error(err)
			}
			debug.Info("Control loop stopped after %d cycles", l.cycles)
			return ctx.Err()
		case <-ticker.C:
		}
		if err := l.Cycle(); err != nil {
			if msg := err.Error(); msg != l.lastErr {
				l.lastErr = msg
				debug.Error(err)
			}
		} else {
			l.lastErr = ""
		}
	}
}
