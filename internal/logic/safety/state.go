// Package safety holds the stop flags and the interlocks that set them.
//
// Each flag has a single writer: motion stop is written by the Supervisor,
// emergency stop by the PanicButton. Reinitialize resets both to their
// startup values. Other goroutines may read the flags at any time.
package safety

import "sync/atomic"

// State is the pair of stop flags shared by the control loop.
type State struct {
	emergency atomic.Bool
	motion    atomic.Bool
}

// NewState returns the startup state: emergency stop clear, motion stop set
// so the arm starts under manual control.
func NewState() *State {
	s := &State{}
	s.Reinitialize()
	return s
}

// EmergencyStop reports whether the hard stop is asserted.
func (s *State) EmergencyStop() bool { return s.emergency.Load() }

// MotionStop reports whether autonomous motion is locked out.
func (s *State) MotionStop() bool { return s.motion.Load() }

// Clear reports whether both flags are clear, i.e. autonomous control may run.
func (s *State) Clear() bool { return !s.EmergencyStop() && !s.MotionStop() }

// Reinitialize restores the startup values. It is the only way to clear an
// emergency stop.
func (s *State) Reinitialize() {
	s.emergency.Store(false)
	s.motion.Store(true)
}

func (s *State) setMotionStop(v bool) { s.motion.Store(v) }

func (s *State) assertEmergencyStop() { s.emergency.Store(true) }
