// Package tic drives a Pololu Tic stepper controller over I²C as an
// Actuator. The Tic plans acceleration itself, so RotateAsync and
// OverrideSpeed only send a new target velocity.
package tic

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/ArmGo/internal/debug"
	"github.com/cjeanneret/ArmGo/internal/hw/stepper"
	"periph.io/x/conn/v3/i2c"
	pololu "periph.io/x/devices/v3/tic"
)

// DefaultAddr is the factory I²C address.
const DefaultAddr = pololu.I2CAddr

// DefaultPositionPoll is how often Position goes to the bus.
const DefaultPositionPoll = 100 * time.Millisecond

// Velocities are in microsteps per 10000 s, accelerations in microsteps per
// 100 s².
const (
	velocityUnit = 10000
	accelUnit    = 100
)

// ErrConnectionFailed is returned when the board does not answer.
var ErrConnectionFailed = pololu.ErrConnectionFailed

var variants = map[string]pololu.Variant{
	"t825": pololu.TicT825,
	"t834": pololu.TicT834,
	"t500": pololu.TicT500,
	"t249": pololu.TicT249,
	"36v4": pololu.Tic36v4,
}

// ParseVariant maps a board name such as "T825" or "36v4" to its variant.
// An empty name selects the T825.
func ParseVariant(name string) (pololu.Variant, error) {
	if name == "" {
		return pololu.TicT825, nil
	}
	v, ok := variants[strings.TrimPrefix(strings.ToLower(name), "tic ")]
	if !ok {
		return "", fmt.Errorf("unknown Tic variant %q", name)
	}
	return v, nil
}

// Config describes one Tic on the bus.
type Config struct {
	Name         string
	Variant      string // "T825" (default), "T834", "T500", "T249", "36v4"
	Addr         uint16
	MaxSpeed     int           // steps/s. 0 leaves the board setting alone.
	Accel        int           // steps/s². 0 leaves the board setting alone.
	PositionPoll time.Duration // minimum interval between position reads. 0 = DefaultPositionPoll.
}

// Tic implements stepper.Actuator on a Tic controller.
type Tic struct {
	dev  *pololu.Dev
	name string
	poll time.Duration
	now  func() time.Time

	mu       sync.Mutex
	base     float64
	scale    float64
	sent     int32
	position int32
	polled   time.Time
}

var _ stepper.Actuator = (*Tic)(nil)

// New brings the controller out of safe start, energizes it and programs
// the speed and acceleration limits.
func New(b i2c.Bus, cfg Config) (*Tic, error) {
	variant, err := ParseVariant(cfg.Variant)
	if err != nil {
		return nil, fmt.Errorf("tic %s: %w", cfg.Name, err)
	}
	addr := cfg.Addr
	if addr == 0 {
		addr = DefaultAddr
	}
	dev, err := pololu.NewI2C(b, variant, addr)
	if err != nil {
		return nil, fmt.Errorf("tic %s: %w", cfg.Name, err)
	}
	t := newTic(dev, cfg)

	if err := dev.ExitSafeStart(); err != nil {
		return nil, fmt.Errorf("tic %s: exit safe start: %w", cfg.Name, err)
	}
	if err := dev.Energize(); err != nil {
		return nil, fmt.Errorf("tic %s: energize: %w", cfg.Name, err)
	}
	if cfg.MaxSpeed > 0 {
		if err := dev.SetMaxSpeed(uint32(cfg.MaxSpeed * velocityUnit)); err != nil {
			return nil, fmt.Errorf("tic %s: set max speed: %w", cfg.Name, err)
		}
	}
	if cfg.Accel > 0 {
		a := uint32(cfg.Accel * accelUnit)
		if err := dev.SetMaxAccel(a); err != nil {
			return nil, fmt.Errorf("tic %s: set max accel: %w", cfg.Name, err)
		}
		if err := dev.SetMaxDecel(a); err != nil {
			return nil, fmt.Errorf("tic %s: set max decel: %w", cfg.Name, err)
		}
	}
	debug.Verbose("%s %s ready at 0x%02X", dev, cfg.Name, addr)
	return t, nil
}

func newTic(dev *pololu.Dev, cfg Config) *Tic {
	poll := cfg.PositionPoll
	if poll <= 0 {
		poll = DefaultPositionPoll
	}
	return &Tic{dev: dev, name: cfg.Name, poll: poll, now: time.Now, scale: 1}
}

// String implements conn.Resource.
func (t *Tic) String() string { return "Tic " + t.name }

// apply sends the effective target velocity when it changed. Caller holds mu.
func (t *Tic) apply() error {
	v := int32(math.Round(t.base * t.scale * velocityUnit))
	if v == t.sent {
		return nil
	}
	if err := t.dev.SetTargetVelocity(v); err != nil {
		return fmt.Errorf("tic %s: set target velocity: %w", t.name, err)
	}
	t.sent = v
	return nil
}

// RotateAsync implements stepper.Actuator.
func (t *Tic) RotateAsync(velocity int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.base = float64(velocity)
	return t.apply()
}

// OverrideSpeed implements stepper.Actuator.
func (t *Tic) OverrideSpeed(scale float64) error {
	if math.IsNaN(scale) {
		scale = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scale = math.Max(-1, math.Min(1, scale))
	return t.apply()
}

// Stop implements stepper.Actuator. The board halts without deceleration.
func (t *Tic) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.base, t.scale, t.sent = 0, 1, 0
	if err := t.dev.HaltAndHold(); err != nil {
		return fmt.Errorf("tic %s: halt: %w", t.name, err)
	}
	return nil
}

// SetPosition implements stepper.Actuator. The board also halts.
func (t *Tic) SetPosition(pos int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.dev.HaltAndSetPosition(pos); err != nil {
		return fmt.Errorf("tic %s: set position: %w", t.name, err)
	}
	t.base, t.scale, t.sent = 0, 1, 0
	t.position = pos
	t.polled = t.now()
	return nil
}

// Position implements stepper.Actuator. The board is read at most once per
// poll interval; in between, and on a bus error, the last known position
// is returned.
func (t *Tic) Position() int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if !t.polled.IsZero() && now.Sub(t.polled) < t.poll {
		return t.position
	}
	t.polled = now
	pos, err := t.dev.GetCurrentPosition()
	if err != nil {
		debug.Warn("Tic %s: read position: %v", t.name, err)
		return t.position
	}
	t.position = pos
	return t.position
}

// Velocity implements stepper.Actuator.
func (t *Tic) Velocity() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.base * t.scale
}

// Keepalive resets the board's command timeout. Call it once per cycle.
func (t *Tic) Keepalive() error {
	return t.dev.ResetCommandTimeout()
}

// Enable energizes the coils.
func (t *Tic) Enable() error { return t.dev.Energize() }

// Disable de-energizes the coils. The motor freewheels.
func (t *Tic) Disable() error { return t.dev.Deenergize() }
