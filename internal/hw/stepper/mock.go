package stepper

import (
	"fmt"
	"math"
	"sync"
)

// Call is one command received by a Mock.
type Call struct {
	Op    string // "rotate", "override", "stop", "setpos"
	Value float64
}

func (c Call) String() string { return fmt.Sprintf("%s(%v)", c.Op, c.Value) }

// Mock is an in-memory Actuator that records every command. Advance moves
// its position counter as a real motor would.
type Mock struct {
	mu       sync.Mutex
	base     float64
	scale    float64
	position int32
	calls    []Call
}

var _ Actuator = (*Mock)(nil)

// NewMock returns an idle Mock.
func NewMock() *Mock { return &Mock{scale: 1} }

func (m *Mock) record(op string, v float64) {
	m.calls = append(m.calls, Call{Op: op, Value: v})
}

func (m *Mock) RotateAsync(velocity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.base = float64(velocity)
	m.record("rotate", float64(velocity))
	return nil
}

func (m *Mock) OverrideSpeed(scale float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scale = math.Max(-1, math.Min(1, scale))
	m.record("override", m.scale)
	return nil
}

func (m *Mock) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.base, m.scale = 0, 1
	m.record("stop", 0)
	return nil
}

func (m *Mock) SetPosition(pos int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = pos
	m.record("setpos", float64(pos))
	return nil
}

func (m *Mock) Position() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

func (m *Mock) Velocity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.base * m.scale
}

// Advance moves the position counter by steps in the direction of the
// current velocity. It returns the signed number of steps taken.
func (m *Mock) Advance(steps int32) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := m.base * m.scale; {
	case v > 0:
		m.position += steps
		return steps
	case v < 0:
		m.position -= steps
		return -steps
	}
	return 0
}

// Calls returns a copy of the recorded commands.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// LastCall returns the most recent command, or the zero Call.
func (m *Mock) LastCall() Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return Call{}
	}
	return m.calls[len(m.calls)-1]
}

// ResetCalls clears the recorded commands.
func (m *Mock) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
