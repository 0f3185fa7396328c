package arm

import (
	"fmt"
	"iter"
	"strings"

	"github.com/cjeanneret/ArmGo/internal/hw/stepper"
	"github.com/cjeanneret/ArmGo/internal/logic/joystick"
	"github.com/cjeanneret/ArmGo/internal/logic/position"
	"github.com/cjeanneret/ArmGo/internal/logic/safety"
)

// AxisID names a joint of the arm.
type AxisID int

const (
	Shoulder AxisID = iota
	Elbow
	Wrist
)

var axisNames = [...]string{"shoulder", "elbow", "wrist"}

func (id AxisID) String() string {
	if id < Shoulder || id > Wrist {
		return fmt.Sprintf("AxisID(%d)", int(id))
	}
	return axisNames[id]
}

// ParseAxisID returns the axis named s (case-insensitive).
func ParseAxisID(s string) (AxisID, error) {
	for id := range AxisIDs() {
		if strings.EqualFold(s, id.String()) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown axis %q (want shoulder, elbow or wrist)", s)
}

// AxisIDs yields every joint, base first.
func AxisIDs() iter.Seq[AxisID] {
	return func(yield func(AxisID) bool) {
		for id := Shoulder; id <= Wrist; id++ {
			if !yield(id) {
				return
			}
		}
	}
}

// Axis is one joint and the parts the control loop uses to drive it.
type Axis struct {
	ID       AxisID
	Actuator stepper.Actuator
	Channel  int           // encoder ADC channel, -1 = none
	Home     safety.Switch // nil = none
	Endstop  safety.Switch // nil = none
	Teleop   bool          // driven by the pendant under manual control
	Stick    joystick.StickAxis
	Position *position.Controller // nil = not autonomous

	raw int
}

// HasEncoder reports whether the axis has an absolute encoder.
func (a *Axis) HasEncoder() bool { return a.Channel >= 0 }

// Raw returns the last encoder sample. Axes without an encoder report the
// midpoint.
func (a *Axis) Raw() int { return a.raw }

func (a *Axis) channel() safety.Channel {
	return safety.Channel{Name: a.ID.String(), Actuator: a.Actuator, Endstop: a.Endstop, Home: a.Home}
}
