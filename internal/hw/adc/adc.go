// Package adc reads the absolute position sensors and the teach pendant
// through an analog-to-digital converter. Samples are 10-bit (0..1023).
package adc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/ArmGo/internal/debug"
)

// MaxRaw is the largest raw sample.
const MaxRaw = 1023

// ErrChannel is returned for a channel the converter does not have.
var ErrChannel = errors.New("adc: invalid channel")

// Reader performs one blocking conversion on a channel.
type Reader interface {
	ReadRaw(channel int) (uint16, error)
}

// Mock is an in-memory Reader. Channels read whatever was last Set; unset
// channels read the midpoint, which is where a centred stick rests.
type Mock struct {
	mu     sync.Mutex
	values map[int]uint16
	reads  map[int]int
}

// NewMock returns a Mock with every channel at midpoint.
func NewMock() *Mock {
	return &Mock{values: make(map[int]uint16), reads: make(map[int]int)}
}

// Set fixes the value returned for channel.
func (m *Mock) Set(channel int, v uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v > MaxRaw {
		v = MaxRaw
	}
	m.values[channel] = v
}

// Reads returns how many conversions were done on channel.
func (m *Mock) Reads(channel int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[channel]
}

func (m *Mock) ReadRaw(channel int) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if channel < 0 {
		return 0, fmt.Errorf("%w: %d", ErrChannel, channel)
	}
	m.reads[channel]++
	v, ok := m.values[channel]
	if !ok {
		v = 512
	}
	debug.Trace("ADC mock: ch%d -> %d", channel, v)
	return v, nil
}
