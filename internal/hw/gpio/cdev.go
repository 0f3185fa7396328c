package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/ArmGo/internal/debug"
	"github.com/warthog618/go-gpiocdev"
)

// CdevDriver drives GPIO lines through the Linux GPIO character device
// (/dev/gpiochipN). Pin numbers are line offsets on the chip.
type CdevDriver struct {
	chip  string
	mu    sync.Mutex
	lines map[int]*gpiocdev.Line
	modes map[int]PinMode
}

// NewCdevDriver returns a driver for chip (e.g. "gpiochip0").
// Lines are requested lazily on SetupPin.
func NewCdevDriver(chip string) (*CdevDriver, error) {
	if chip == "" {
		chip = "gpiochip0"
	}
	debug.Info("Initializing GPIO character device driver on %s", chip)
	return &CdevDriver{
		chip:  chip,
		lines: make(map[int]*gpiocdev.Line),
		modes: make(map[int]PinMode),
	}, nil
}

func (c *CdevDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.request(pin, mode)
}

func (c *CdevDriver) request(pin int, mode PinMode) error {
	var opts []gpiocdev.LineReqOption
	switch mode {
	case Input:
		opts = append(opts, gpiocdev.AsInput)
	case InputPullUp:
		opts = append(opts, gpiocdev.AsInput, gpiocdev.WithPullUp)
	case InputPullDown:
		opts = append(opts, gpiocdev.AsInput, gpiocdev.WithPullDown)
	case Output:
		opts = append(opts, gpiocdev.AsOutput(0))
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	if old, ok := c.lines[pin]; ok {
		if c.modes[pin] == mode {
			return nil
		}
		_ = old.Close()
		delete(c.lines, pin)
	}

	l, err := gpiocdev.RequestLine(c.chip, pin, opts...)
	if err != nil {
		return fmt.Errorf("request line %s:%d: %w", c.chip, pin, err)
	}
	c.lines[pin] = l
	c.modes[pin] = mode
	return nil
}

func (c *CdevDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lines[pin]; !ok {
		if err := c.request(pin, Output); err != nil {
			return err
		}
	}
	v := 0
	if level == High {
		v = 1
	}
	return c.lines[pin].SetValue(v)
}

func (c *CdevDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lines[pin]; !ok {
		if err := c.request(pin, Input); err != nil {
			return Low, err
		}
	}
	v, err := c.lines[pin].Value()
	if err != nil {
		return Low, fmt.Errorf("read line %s:%d: %w", c.chip, pin, err)
	}
	return Level(v != 0), nil
}

// Close releases every requested line. Lines return to the kernel's
// default (input) state.
func (c *CdevDriver) Close() error {
	debug.Trace("GPIO Close (cdev driver)")
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for pin, l := range c.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line %d: %w", pin, err))
		}
	}
	c.lines = make(map[int]*gpiocdev.Line)
	return errors.Join(errs...)
}
