package stepper

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cjeanneret/ArmGo/internal/debug"
	"github.com/cjeanneret/ArmGo/internal/hw/gpio"
)

// Actuator is an axis motor driven at a constant, signed velocity.
// Commands return immediately; a background service keeps stepping at the
// last commanded velocity until the next override or stop.
type Actuator interface {
	// RotateAsync starts or continues rotation at velocity (steps/s, signed).
	// The current speed override still applies.
	RotateAsync(velocity int) error
	// OverrideSpeed rescales the rotation by a factor in [-1, 1].
	OverrideSpeed(scale float64) error
	// Stop halts immediately and resets the override to 1.
	Stop() error
	// SetPosition overwrites the logical step counter.
	SetPosition(pos int32) error
	// Position returns the logical step counter.
	Position() int32
	// Velocity returns the effective commanded velocity in steps/s.
	Velocity() float64
}

// Config holds the hardware configuration for a stepper motor.
type Config struct {
	Name          string
	StepPin       int
	DirPin        int
	EnablePin     int // ENABLE pin (BCM). 0 = not used. Active LOW (LOW=enabled).
	StepsPerRev   int
	Microstepping int
	MaxSpeed      int           // steps/s; commanded velocities are clamped to it. 0 = no clamp.
	InvertDir     bool          // swap the DIR level for positive velocities
	PulseWidth    time.Duration // STEP high time. Defaults to 5µs.
}

// Stepper drives a STEP/DIR driver from GPIO with a software pulse service.
type Stepper struct {
	gpio  gpio.Driver
	cfg   Config
	delay time.Duration // STEP pulse high/low time

	mu       sync.Mutex
	base     float64 // velocity set by RotateAsync
	scale    float64 // factor set by OverrideSpeed
	position int32
	dirLevel gpio.Level
	dirSet   bool
	wake     chan struct{}
}

var _ Actuator = (*Stepper)(nil)

// NewStepper creates a new stepper motor controller.
// The motor is enabled but idle; call Start to run the pulse service.
func NewStepper(g gpio.Driver, cfg Config) *Stepper {
	_ = g.SetupPin(cfg.StepPin, gpio.Output)
	_ = g.SetupPin(cfg.DirPin, gpio.Output)

	delay := cfg.PulseWidth
	if delay <= 0 {
		delay = 5 * time.Microsecond
	}

	s := &Stepper{
		gpio:  g,
		cfg:   cfg,
		delay: delay,
		scale: 1,
		wake:  make(chan struct{}, 1),
	}

	// ENABLE: active LOW. LOW = enabled, HIGH = disabled.
	if cfg.EnablePin > 0 {
		_ = g.SetupPin(cfg.EnablePin, gpio.Output)
		_ = g.WritePin(cfg.EnablePin, gpio.Low) // enable by default
	}

	return s
}

// Name returns the configured axis name.
func (s *Stepper) Name() string { return s.cfg.Name }

func (s *Stepper) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// RotateAsync implements Actuator.
func (s *Stepper) RotateAsync(velocity int) error {
	v := float64(velocity)
	if m := float64(s.cfg.MaxSpeed); m > 0 {
		v = math.Max(-m, math.Min(m, v))
	}
	s.mu.Lock()
	changed := s.base != v
	s.base = v
	s.mu.Unlock()
	if changed {
		debug.Trace("Stepper %s: rotate %v steps/s", s.cfg.Name, v)
		s.notify()
	}
	return nil
}

// OverrideSpeed implements Actuator.
func (s *Stepper) OverrideSpeed(scale float64) error {
	if math.IsNaN(scale) {
		scale = 0
	}
	scale = math.Max(-1, math.Min(1, scale))
	s.mu.Lock()
	changed := s.scale != scale
	s.scale = scale
	s.mu.Unlock()
	if changed {
		s.notify()
	}
	return nil
}

// Stop implements Actuator.
func (s *Stepper) Stop() error {
	s.mu.Lock()
	s.base = 0
	s.scale = 1
	s.mu.Unlock()
	debug.Trace("Stepper %s: stop", s.cfg.Name)
	s.notify()
	return nil
}

// SetPosition implements Actuator.
func (s *Stepper) SetPosition(pos int32) error {
	s.mu.Lock()
	s.position = pos
	s.mu.Unlock()
	return nil
}

// Position implements Actuator.
func (s *Stepper) Position() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Velocity implements Actuator.
func (s *Stepper) Velocity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base * s.scale
}

// Start runs the pulse service until ctx is done. It returns immediately.
func (s *Stepper) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Stepper) run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		v := s.Velocity()
		if v == 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}

		if err := s.tick(v); err != nil {
			debug.Error(err)
		}

		wait := time.Duration(float64(time.Second)/math.Abs(v)) - 2*s.delay
		if wait < 0 {
			wait = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// tick emits one step in the direction of v and updates the counter.
func (s *Stepper) tick(v float64) error {
	forward := v > 0
	lvl := gpio.Level(forward != s.cfg.InvertDir)

	s.mu.Lock()
	needDir := !s.dirSet || s.dirLevel != lvl
	s.mu.Unlock()
	if needDir {
		if err := s.gpio.WritePin(s.cfg.DirPin, lvl); err != nil {
			return err
		}
		s.mu.Lock()
		s.dirLevel, s.dirSet = lvl, true
		s.mu.Unlock()
	}

	if err := s.stepPulse(); err != nil {
		return err
	}

	s.mu.Lock()
	if forward {
		s.position++
	} else {
		s.position--
	}
	s.mu.Unlock()
	return nil
}

func (s *Stepper) stepPulse() error {
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	time.Sleep(s.delay)
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.Low); err != nil {
		return err
	}
	time.Sleep(s.delay)
	return nil
}

// Enable turns on the motor driver (ENABLE=LOW). Motors hold position.
func (s *Stepper) Enable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.Low)
}

// Disable turns off the motor driver (ENABLE=HIGH). Motors freewheel, no holding torque.
func (s *Stepper) Disable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.High)
}
