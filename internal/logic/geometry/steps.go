package geometry

import (
	"github.com/cjeanneret/ArmGo/internal/config"
)

// StepsCalculator converts joint angles to motor step counts for one axis.
type StepsCalculator struct {
	stepsPerDegree float64
}

// NewStepsCalculator creates a step calculator from an axis configuration.
func NewStepsCalculator(axis config.AxisConfig) *StepsCalculator {
	microstepsPerRev := float64(axis.StepsPerRev * axis.Microstepping)
	return &StepsCalculator{stepsPerDegree: microstepsPerRev / 360.0}
}

// StepsPerDegree returns the microsteps for one degree of motor rotation.
func (s *StepsCalculator) StepsPerDegree() float64 {
	return s.stepsPerDegree
}

// StepsFromAngle converts an angle (in degrees) to motor steps.
func (s *StepsCalculator) StepsFromAngle(angleDegrees float64) int {
	return int(angleDegrees * s.stepsPerDegree)
}

// AngleFromSteps converts a logical step count back to degrees.
func (s *StepsCalculator) AngleFromSteps(steps int32) float64 {
	if s.stepsPerDegree == 0 {
		return 0
	}
	return float64(steps) / s.stepsPerDegree
}
