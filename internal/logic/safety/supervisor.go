package safety

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/ArmGo/internal/debug"
	"github.com/cjeanneret/ArmGo/internal/hw/gpio"
	"github.com/cjeanneret/ArmGo/internal/hw/stepper"
	"github.com/cjeanneret/ArmGo/internal/logic/geometry"
)

// Diagnostics emitted by the interlocks.
const (
	MsgEndstop         = "Endstop Limit Switch Activated! Stopping Motors"
	MsgEndstopMismatch = "Encoder/Endstop Position Mismatch! Check Alignment"
	MsgHomeMismatch    = "Homing Sensor / Encoder Mismatch"
)

// Input is a debounced switch already updated for this cycle.
type Input interface {
	Read() gpio.Level
	Rose() bool
	Fell() bool
}

// Channel is one supervised axis. Endstop and Home may be nil.
type Channel struct {
	Name     string
	Actuator stepper.Actuator
	Endstop  Input // active low
	Home     Input // active high
}

// Bands are the degree windows the interlocks compare positions against.
type Bands struct {
	Endstop geometry.Band
	Home    geometry.Band
}

// Supervisor evaluates the endstop and home interlocks.
type Supervisor struct {
	state *State
	bands Bands

	mu           sync.Mutex
	latched      map[string]bool
	homeDetected map[string]bool
	lastFault    string
}

// NewSupervisor creates a supervisor writing the motion stop flag of state.
func NewSupervisor(state *State, bands Bands) *Supervisor {
	return &Supervisor{
		state:        state,
		bands:        bands,
		latched:      make(map[string]bool),
		homeDetected: make(map[string]bool),
	}
}

// State returns the flags the supervisor writes.
func (s *Supervisor) State() *State { return s.state }

// EndstopMismatch reports an endstop/encoder disagreement for an endstop
// trip at deg. The comparison is kept as the firmware has always shipped
// it: with the default band it holds for every reachable angle.
func EndstopMismatch(deg int, band geometry.Band) bool {
	return deg > band.Min || deg < band.Max
}

// CheckEndstop handles an endstop falling edge on ch: it halts the
// actuator and sets motion stop. raw is this cycle's encoder sample.
// It reports whether the endstop tripped.
func (s *Supervisor) CheckEndstop(ch Channel, raw int) (bool, error) {
	if ch.Endstop == nil || !ch.Endstop.Fell() {
		return false, nil
	}
	err := ch.Actuator.Stop()
	s.state.setMotionStop(true)

	s.mu.Lock()
	s.latched[ch.Name] = true
	s.lastFault = fmt.Sprintf("%s: %s", ch.Name, MsgEndstop)
	s.mu.Unlock()
	debug.Safety("%s: %s", ch.Name, MsgEndstop)

	if deg := geometry.MapToDegrees(raw); EndstopMismatch(deg, s.bands.Endstop) {
		debug.Safety("%s: %s (%d°)", ch.Name, MsgEndstopMismatch, deg)
	}
	if err != nil {
		return true, fmt.Errorf("stop %s: %w", ch.Name, err)
	}
	return true, nil
}

// CheckHome handles a home sensor rising edge on ch. Call it only under
// manual control. A home engagement clears the endstop latch of ch only.
// Motion stop clears when the engagement is inside the home band and no
// other axis still has its endstop latched.
// It reports whether the home sensor engaged.
func (s *Supervisor) CheckHome(ch Channel, raw int) bool {
	if ch.Home == nil || !ch.Home.Rose() {
		return false
	}
	deg := geometry.MapToDegrees(raw)

	s.mu.Lock()
	s.homeDetected[ch.Name] = true
	s.latched[ch.Name] = false
	held := s.latchedAxis()
	s.mu.Unlock()
	debug.Info("%s: home position detected (%d°)", ch.Name, deg)

	if !s.bands.Home.Contains(deg) {
		s.state.setMotionStop(true)
		s.mu.Lock()
		s.lastFault = fmt.Sprintf("%s: %s (%d°)", ch.Name, MsgHomeMismatch, deg)
		s.mu.Unlock()
		debug.Safety("%s: %s", ch.Name, MsgHomeMismatch)
		debug.Safety("%d", deg)
		return true
	}
	if held != "" {
		s.state.setMotionStop(true)
		debug.Safety("%s: endstop still latched, motion stays locked", held)
		return true
	}
	s.state.setMotionStop(false)
	return true
}

// latchedAxis returns the first axis whose endstop is latched, or "".
// The caller holds mu.
func (s *Supervisor) latchedAxis() string {
	for name, l := range s.latched {
		if l {
			return name
		}
	}
	return ""
}

// EndstopLatched reports whether axis tripped its endstop since it last
// saw home.
func (s *Supervisor) EndstopLatched(axis string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latched[axis]
}

// HomeDetected reports whether axis has engaged its home sensor.
func (s *Supervisor) HomeDetected(axis string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.homeDetected[axis]
}

// LastFault returns the most recent interlock diagnostic, or "".
func (s *Supervisor) LastFault() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFault
}

// Reinitialize restores the startup flags and forgets latches.
func (s *Supervisor) Reinitialize() {
	s.mu.Lock()
	clear(s.latched)
	clear(s.homeDetected)
	s.lastFault = ""
	s.mu.Unlock()
	s.state.Reinitialize()
	debug.Info("Safety state reinitialized (manual control)")
}
