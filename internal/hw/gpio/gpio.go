package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/ArmGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output, and which bias an
// input uses. Endstops are wired to ground and need InputPullUp.
type PinMode int

const (
	Input PinMode = iota
	Output
	InputPullUp
	InputPullDown
)

func (m PinMode) String() string {
	switch m {
	case Input:
		return "input"
	case Output:
		return "output"
	case InputPullUp:
		return "input+pullup"
	case InputPullDown:
		return "input+pulldown"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// Backend names accepted by NewDriver.
const (
	BackendMock     = "mock"
	BackendRPi      = "rpio"
	BackendGPIOCdev = "gpiocdev"
)

// NewDriver creates a GPIO driver for the chosen backend.
// "mock" returns a MockDriver (dev/test), "rpio" the memory-mapped
// Raspberry Pi driver, "gpiocdev" the Linux character device driver on chip.
func NewDriver(backend, chip string) (Driver, error) {
	switch backend {
	case BackendMock, "":
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	case BackendRPi:
		return NewRPiRealDriver()
	case BackendGPIOCdev:
		return NewCdevDriver(chip)
	default:
		return nil, fmt.Errorf("unknown gpio backend %q", backend)
	}
}

// MockDriver is an in-memory implementation. Inputs hold whatever level the
// test (or simulator) last set; pull-ups make an unset input read High.
type MockDriver struct {
	mu     sync.Mutex
	modes  map[int]PinMode
	levels map[int]Level
	writes int
}

// NewMockDriver returns an empty MockDriver.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		modes:  make(map[int]PinMode),
		levels: make(map[int]Level),
	}
}

func (m *MockDriver) init() {
	if m.modes == nil {
		m.modes = make(map[int]PinMode)
		m.levels = make(map[int]Level)
	}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.modes[pin] = mode
	if _, ok := m.levels[pin]; !ok && mode == InputPullUp {
		m.levels[pin] = High
	}
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.levels[pin] = level
	m.writes++
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	return m.levels[pin], nil
}

// SetLevel forces the level seen on an input pin.
func (m *MockDriver) SetLevel(pin int, level Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.levels[pin] = level
}

// Mode returns the mode a pin was set up with.
func (m *MockDriver) Mode(pin int) (PinMode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mode, ok := m.modes[pin]
	return mode, ok
}

// Writes returns the number of WritePin calls so far.
func (m *MockDriver) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
