package safety

import (
	"fmt"

	"github.com/cjeanneret/ArmGo/internal/debug"
	"github.com/cjeanneret/ArmGo/internal/hw/gpio"
)

// Switch is a debounced input the panic button updates itself.
type Switch interface {
	Input
	Update() (bool, error)
}

// PanicButton asserts emergency stop while the pendant button is held.
// The button is wired to ground with a pull-up: pressed reads Low.
type PanicButton struct {
	sw    Switch
	state *State
}

// NewPanicButton wires sw to the emergency stop flag of state.
func NewPanicButton(sw Switch, state *State) *PanicButton {
	return &PanicButton{sw: sw, state: state}
}

// Poll samples the button. A pressed button asserts emergency stop; releasing
// it does not clear the flag. A read failure also asserts emergency stop.
func (p *PanicButton) Poll() error {
	if _, err := p.sw.Update(); err != nil {
		p.assert("button unreadable")
		return fmt.Errorf("panic button: %w", err)
	}
	if p.sw.Read() == gpio.Low {
		p.assert("button pressed")
	}
	return nil
}

func (p *PanicButton) assert(why string) {
	if !p.state.EmergencyStop() {
		debug.Safety("EMERGENCY STOP: %s", why)
	}
	p.state.assertEmergencyStop()
}
