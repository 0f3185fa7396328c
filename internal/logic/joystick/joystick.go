// Package joystick reads the three-axis teach pendant and turns stick
// deflection into actuator velocity commands.
package joystick

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/ArmGo/internal/debug"
	"github.com/cjeanneret/ArmGo/internal/hw/adc"
	"github.com/cjeanneret/ArmGo/internal/hw/stepper"
)

// StickAxis names one pendant axis.
type StickAxis int

const (
	X StickAxis = iota
	Y
	Z
)

var stickNames = [...]string{"x", "y", "z"}

func (a StickAxis) String() string {
	if a < X || a > Z {
		return fmt.Sprintf("stick(%d)", int(a))
	}
	return stickNames[a]
}

// ParseStickAxis parses "x", "y" or "z".
func ParseStickAxis(s string) (StickAxis, error) {
	for i, n := range stickNames {
		if n == s {
			return StickAxis(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stick axis %q", s)
}

// FullScale is the deflection that maps to a speed override of 1.
const FullScale = 512.0

// ErrNoBaseline is returned when deflection is asked for before
// CaptureBaseline succeeded.
var ErrNoBaseline = errors.New("joystick: baseline not captured")

// Channels maps each stick axis to a converter channel.
type Channels struct {
	X, Y, Z int
}

// Command is the velocity request for one axis. Inside the deadzone Speed
// is 0 and the axis is held armed at zero override.
type Command struct {
	Speed int
	Scale float64
}

// Velocity returns the effective signed velocity in steps/s.
func (c Command) Velocity() float64 { return float64(c.Speed) * c.Scale }

// Joystick is the teach pendant.
type Joystick struct {
	r         adc.Reader
	channels  [3]int
	home      [3]uint16
	live      [3]uint16
	baselined bool
	deadzone  int
}

// New creates a pendant reader. deadzone is in raw counts.
func New(r adc.Reader, ch Channels, deadzone int) *Joystick {
	return &Joystick{r: r, channels: [3]int{ch.X, ch.Y, ch.Z}, deadzone: deadzone}
}

// Deadzone returns the deadzone in raw counts.
func (j *Joystick) Deadzone() int { return j.deadzone }

// SetDeadzone changes the deadzone.
func (j *Joystick) SetDeadzone(d int) { j.deadzone = d }

// CaptureBaseline records the current reading of every axis as its rest
// position. The stick must be centred. It may be called again to re-baseline.
func (j *Joystick) CaptureBaseline() error {
	var home [3]uint16
	for a := X; a <= Z; a++ {
		v, err := j.r.ReadRaw(j.channels[a])
		if err != nil {
			return fmt.Errorf("joystick baseline %s: %w", a, err)
		}
		home[a] = v
	}
	j.home, j.live = home, home
	j.baselined = true
	debug.Info("Joystick baseline: x=%d y=%d z=%d", home[X], home[Y], home[Z])
	return nil
}

// Baseline returns the rest position of axis.
func (j *Joystick) Baseline(a StickAxis) uint16 { return j.home[a] }

// Live returns the last reading of axis.
func (j *Joystick) Live(a StickAxis) uint16 { return j.live[a] }

// Deflection reads axis and returns the raw reading minus its baseline.
func (j *Joystick) Deflection(a StickAxis) (int, error) {
	if a < X || a > Z {
		return 0, fmt.Errorf("joystick: invalid axis %d", int(a))
	}
	if !j.baselined {
		return 0, ErrNoBaseline
	}
	v, err := j.r.ReadRaw(j.channels[a])
	if err != nil {
		return 0, fmt.Errorf("joystick %s: %w", a, err)
	}
	j.live[a] = v
	return int(v) - int(j.home[a]), nil
}

// VelocityFor reads axis and returns the command for an actuator whose
// teleoperation speed is speed. A deflection at or below the deadzone gives
// a zero command. Pushing below the baseline gives a positive scale, above
// it a negative one.
func (j *Joystick) VelocityFor(a StickAxis, speed int) (Command, error) {
	d, err := j.Deflection(a)
	if err != nil {
		return Command{}, err
	}
	if abs(d) <= j.deadzone {
		return Command{}, nil
	}
	return Command{Speed: speed, Scale: float64(-d) / FullScale}, nil
}

// Drive applies the stick command for axis to act.
func (j *Joystick) Drive(a StickAxis, act stepper.Actuator, speed int) (Command, error) {
	cmd, err := j.VelocityFor(a, speed)
	if err != nil {
		return Command{}, err
	}
	if cmd.Speed == 0 {
		return cmd, act.OverrideSpeed(0)
	}
	if err := act.RotateAsync(cmd.Speed); err != nil {
		return cmd, err
	}
	debug.Move(a.String(), cmd.Speed, cmd.Scale)
	return cmd, act.OverrideSpeed(cmd.Scale)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
