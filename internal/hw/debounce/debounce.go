// Package debounce filters noisy switch inputs into a stable level plus
// edge events.
//
// A Switch must be updated once per control cycle before it is queried:
// Rose and Fell only report a transition for the Update in which the
// stable level changed, so a skipped Update loses the edge.
package debounce

import (
	"fmt"
	"time"

	"github.com/cjeanneret/ArmGo/internal/debug"
	"github.com/cjeanneret/ArmGo/internal/hw/gpio"
)

// Config describes one switch input.
type Config struct {
	Name     string
	Pin      int
	Mode     gpio.PinMode  // gpio.Input, gpio.InputPullUp, ...
	Interval time.Duration // level must hold this long to be accepted
}

// Switch is a debounced digital input (stable-interval algorithm).
type Switch struct {
	drv  gpio.Driver
	cfg  Config
	now  func() time.Time
	last time.Time // when the unstable reading last changed

	unstable gpio.Level
	stable   gpio.Level
	changed  bool
}

// Option customises a Switch.
type Option func(*Switch)

// WithClock replaces time.Now, for tests and simulation.
func WithClock(now func() time.Time) Option {
	return func(s *Switch) { s.now = now }
}

// New sets up the pin and primes the stable level from a first reading,
// so a switch that is already engaged at startup does not report an edge.
func New(drv gpio.Driver, cfg Config, opts ...Option) (*Switch, error) {
	if err := drv.SetupPin(cfg.Pin, cfg.Mode); err != nil {
		return nil, fmt.Errorf("setup %s switch pin %d: %w", cfg.Name, cfg.Pin, err)
	}
	s := &Switch{drv: drv, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	lvl, err := drv.ReadPin(cfg.Pin)
	if err != nil {
		return nil, fmt.Errorf("read %s switch pin %d: %w", cfg.Name, cfg.Pin, err)
	}
	s.unstable, s.stable = lvl, lvl
	s.last = s.now()
	return s, nil
}

// Name returns the configured switch name.
func (s *Switch) Name() string { return s.cfg.Name }

// Update samples the pin and advances the filter. It returns true if the
// stable level changed during this call.
func (s *Switch) Update() (bool, error) {
	s.changed = false
	lvl, err := s.drv.ReadPin(s.cfg.Pin)
	if err != nil {
		return false, fmt.Errorf("read %s switch pin %d: %w", s.cfg.Name, s.cfg.Pin, err)
	}
	now := s.now()
	if lvl != s.unstable {
		s.unstable = lvl
		s.last = now
	}
	if s.unstable != s.stable && now.Sub(s.last) >= s.cfg.Interval {
		s.stable = s.unstable
		s.changed = true
		debug.Trace("Switch %s: stable level -> %v", s.cfg.Name, s.stable)
	}
	return s.changed, nil
}

// Read returns the current stable level.
func (s *Switch) Read() gpio.Level { return s.stable }

// Rose reports a Low->High transition during the last Update.
func (s *Switch) Rose() bool { return s.changed && s.stable == gpio.High }

// Fell reports a High->Low transition during the last Update.
func (s *Switch) Fell() bool { return s.changed && s.stable == gpio.Low }
