// Package geometry converts between raw encoder samples, joint degrees and
// motor steps.
package geometry

const (
	// RawMax is the full-scale encoder sample.
	RawMax = 1023
	// RawMid is the sample above which an axis is on its top side.
	RawMid = 512
)

// MapRange linearly maps x from [inMin, inMax] to [outMin, outMax] in
// integer arithmetic. The division truncates toward zero.
func MapRange(x, inMin, inMax, outMin, outMax int) int {
	return (x-inMin)*(outMax-outMin)/(inMax-inMin) + outMin
}

// MapToDegrees maps a raw sample (0..1023) to joint degrees (-180..180).
// Mid-scale 512 maps to 0.
func MapToDegrees(raw int) int {
	return MapRange(raw, 0, RawMax, -180, 180)
}

// Band is an inclusive range of degrees.
type Band struct {
	Min int
	Max int
}

// Contains reports whether deg lies within the band, bounds included.
func (b Band) Contains(deg int) bool {
	return deg >= b.Min && deg <= b.Max
}
