package arm

import (
	"time"

	"github.com/cjeanneret/ArmGo/internal/logic/geometry"
)

// AxisStatus is the published state of one joint.
type AxisStatus struct {
	Name           string  `json:"name"`
	Raw            int     `json:"raw"`
	Degrees        int     `json:"degrees"`
	HasEncoder     bool    `json:"has_encoder"`
	Velocity       float64 `json:"velocity"`
	Position       int32   `json:"position"`
	Setpoint       *int    `json:"setpoint,omitempty"`
	EndstopLatched bool    `json:"endstop_latched"`
	HomeDetected   bool    `json:"home_detected"`
}

// Status is an immutable snapshot published at the end of every cycle.
type Status struct {
	Time          time.Time    `json:"time"`
	Cycle         uint64       `json:"cycle"`
	Mode          string       `json:"mode"`
	EmergencyStop bool         `json:"emergency_stop"`
	MotionStop    bool         `json:"motion_stop"`
	LastFault     string       `json:"last_fault,omitempty"`
	Axes          []AxisStatus `json:"axes"`
}

// Status returns the last published snapshot.
func (l *Loop) Status() Status {
	return *l.status.Load()
}

func (l *Loop) publish() {
	sup := l.parts.Supervisor
	s := &Status{
		Time:          time.Now(),
		Cycle:         l.cycles,
		Mode:          l.mode,
		EmergencyStop: l.state.EmergencyStop(),
		MotionStop:    l.state.MotionStop(),
		LastFault:     sup.LastFault(),
		Axes:          make([]AxisStatus, 0, len(l.parts.Axes)),
	}
	for _, a := range l.parts.Axes {
		as := AxisStatus{
			Name:           a.ID.String(),
			Raw:            a.raw,
			Degrees:        geometry.MapToDegrees(a.raw),
			HasEncoder:     a.HasEncoder(),
			Velocity:       a.Actuator.Velocity(),
			Position:       a.Actuator.Position(),
			EndstopLatched: sup.EndstopLatched(a.ID.String()),
			HomeDetected:   sup.HomeDetected(a.ID.String()),
		}
		if a.Position != nil {
			sp := a.Position.Setpoint()
			as.Setpoint = &sp
		}
		s.Axes = append(s.Axes, as)
	}
	l.status.Store(s)
}
