package homing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cjeanneret/ArmGo/internal/hw/adc"
	"github.com/cjeanneret/ArmGo/internal/hw/debounce"
	"github.com/cjeanneret/ArmGo/internal/hw/gpio"
	"github.com/cjeanneret/ArmGo/internal/hw/stepper"
	"github.com/cjeanneret/ArmGo/internal/logic/geometry"
)

const (
	chEncoder  = 1
	pinHome    = 23
	pinEndstop = 24
	speed      = 2000
)

type band struct{ lo, hi int }

func (b band) has(raw int) bool { return raw >= b.lo && raw <= b.hi }

// plant simulates one axis: a negative velocity raises the encoder by one
// count per poll, a positive one lowers it. The home sensor engages over a
// different band depending on the direction of travel.
type plant struct {
	raw      int
	dir      int // +1 raw rising, -1 falling
	top      int // endstop engaged at raw >= top
	bottom   int // endstop engaged at raw <= bottom
	homeDown band
	homeUp   band

	act  *stepper.Mock
	adc  *adc.Mock
	gpio *gpio.MockDriver
}

func newPlant(raw int) *plant {
	p := &plant{
		raw:      raw,
		dir:      1,
		top:      940,
		bottom:   90,
		homeDown: band{501, 530},
		homeUp:   band{520, 550},
		act:      stepper.NewMock(),
		adc:      adc.NewMock(),
		gpio:     gpio.NewMockDriver(),
	}
	p.sync()
	return p
}

func (p *plant) sync() {
	p.adc.Set(chEncoder, uint16(p.raw))
	endstop := p.raw >= p.top || p.raw <= p.bottom
	p.gpio.SetLevel(pinEndstop, gpio.Level(!endstop))
	home := p.homeUp
	if p.dir < 0 {
		home = p.homeDown
	}
	p.gpio.SetLevel(pinHome, gpio.Level(home.has(p.raw)))
}

func (p *plant) move() {
	switch v := p.act.Velocity(); {
	case v < 0:
		p.raw++
		p.dir = 1
	case v > 0:
		p.raw--
		p.dir = -1
	}
	p.sync()
}

func (p *plant) axis(t *testing.T) Axis {
	t.Helper()
	home, err := debounce.New(p.gpio, debounce.Config{Name: "home", Pin: pinHome, Mode: gpio.Input})
	if err != nil {
		t.Fatal(err)
	}
	end, err := debounce.New(p.gpio, debounce.Config{Name: "endstop", Pin: pinEndstop, Mode: gpio.InputPullUp})
	if err != nil {
		t.Fatal(err)
	}
	return Axis{Name: "elbow", Actuator: p.act, ADC: p.adc, Channel: chEncoder, Home: home, Endstop: end}
}

var testConfig = Config{
	Speed:        speed,
	VerifyWindow: geometry.Band{Min: -4, Max: 8},
}

// drive polls the calibration against the plant until it is done.
func drive(t *testing.T, c *Calibration, p *plant) []State {
	t.Helper()
	var seen []State
	for i := 0; i < 10000; i++ {
		s, err := c.Step()
		if len(seen) == 0 || seen[len(seen)-1] != s {
			seen = append(seen, s)
		}
		for _, call := range p.act.Calls() {
			if call.Op == "setpos" && s != Verified {
				t.Fatalf("position set in state %s", s)
			}
		}
		if c.Done() {
			if err != nil && s != Error {
				t.Fatalf("error %v outside Error state", err)
			}
			return seen
		}
		p.move()
	}
	t.Fatalf("calibration did not finish; state %s raw %d", c.State(), p.raw)
	return nil
}

func countOp(calls []stepper.Call, op string) int {
	n := 0
	for _, c := range calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// ---------- Top side ----------

func TestCalibration_TopFirst(t *testing.T) {
	p := newPlant(900)
	c, err := New(p.axis(t), testConfig)
	if err != nil {
		t.Fatal(err)
	}

	seen := drive(t, c, p)
	want := []State{ApproachTopFirst, VerifyAlignment, Verified}
	if len(seen) != len(want) {
		t.Fatalf("states = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("states = %v, want %v", seen, want)
		}
	}
	if c.Err() != nil {
		t.Fatalf("Err() = %v", c.Err())
	}

	r := c.Result()
	for _, tt := range []struct {
		name string
		got  int
		want int
	}{
		{"TopSwitchPosition", r.TopSwitchPosition, 940},
		{"HomeRangeTop", r.HomeRangeTop, 530},
		{"BottomSwitchPosition", r.BottomSwitchPosition, 90},
		{"HomeRangeBottom", r.HomeRangeBottom, 510}, // (520 + 500) / 2
		{"HomeRangeMiddle", r.HomeRangeMiddle, 520}, // (510 + 530) / 2
		{"HomeDegrees", r.HomeDegrees, 2},
	} {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
	if !r.Valid || !r.HasTop {
		t.Errorf("Valid=%v HasTop=%v", r.Valid, r.HasTop)
	}

	calls := p.act.Calls()
	if countOp(calls, "setpos") != 1 {
		t.Errorf("SetPosition calls = %d, want 1", countOp(calls, "setpos"))
	}
	last := calls[len(calls)-1]
	if last.Op != "setpos" || last.Value != 0 {
		t.Errorf("last call = %v, want setpos(0)", last)
	}
	if p.act.Velocity() != 0 {
		t.Errorf("velocity after calibration = %v", p.act.Velocity())
	}
}

func TestCalibration_TopFirstCreepsToMiddle(t *testing.T) {
	p := newPlant(900)
	// Home engages early on the way back up: creep must continue to the middle.
	p.homeUp = band{505, 550}
	c, _ := New(p.axis(t), testConfig)

	drive(t, c, p)
	r := c.Result()
	if r.HomeRangeBottom != 502 || r.HomeRangeMiddle != 516 {
		t.Fatalf("bottom=%d middle=%d, want 502/516", r.HomeRangeBottom, r.HomeRangeMiddle)
	}
	if p.raw < r.HomeRangeMiddle {
		t.Errorf("stopped at raw %d before the middle %d", p.raw, r.HomeRangeMiddle)
	}
	var creep bool
	for _, call := range p.act.Calls() {
		if call.Op == "rotate" && call.Value == -speed/10 {
			creep = true
		}
	}
	if !creep {
		t.Error("no creep at a tenth of the homing speed")
	}
}

// ---------- Bottom side ----------

func TestCalibration_BottomFirst(t *testing.T) {
	p := newPlant(300)
	p.homeUp = band{505, 550}
	c, _ := New(p.axis(t), testConfig)

	seen := drive(t, c, p)
	if seen[0] != ApproachBottomFirst || c.State() != Verified {
		t.Fatalf("states = %v", seen)
	}
	r := c.Result()
	if r.BottomSwitchPosition != 90 {
		t.Errorf("BottomSwitchPosition = %d, want 90", r.BottomSwitchPosition)
	}
	if r.HasTop {
		t.Error("top side must not be discovered from the bottom")
	}
	if r.HomeDegrees != -3 { // raw 505
		t.Errorf("HomeDegrees = %d, want -3", r.HomeDegrees)
	}
	if p.act.LastCall().Op != "setpos" || p.raw != 505 {
		t.Errorf("last=%v raw=%d, want zeroed at 505", p.act.LastCall(), p.raw)
	}
}

// While the endstop is still engaged, verification stops and restarts
// toward home on every poll.
func TestCalibration_VerifyRestartsOffEndstop(t *testing.T) {
	p := newPlant(300)
	p.homeUp = band{505, 550}
	c, _ := New(p.axis(t), testConfig)

	drive(t, c, p)
	calls := p.act.Calls()
	found := false
	for i := 0; i+1 < len(calls); i++ {
		if calls[i].Op == "stop" && calls[i+1].Op == "rotate" && calls[i+1].Value == -speed {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("no stop/rotate(-%d) restart in %v", speed, calls)
	}
}

func TestCalibration_Misaligned(t *testing.T) {
	// The home sensor sits between the bottom endstop and the midpoint, so
	// the verify approach engages it well outside the window.
	p := newPlant(300)
	p.homeUp = band{400, 420} // -40°
	p.homeDown = band{400, 420}
	c, _ := New(p.axis(t), testConfig)

	drive(t, c, p)
	if c.State() != Error {
		t.Fatalf("state = %s, want Error", c.State())
	}
	if r := c.Result(); r.HomeDegrees != -40 {
		t.Errorf("HomeDegrees = %d, want -40", r.HomeDegrees)
	}
	if !errors.Is(c.Err(), ErrMisaligned) {
		t.Errorf("Err() = %v, want ErrMisaligned", c.Err())
	}
	if countOp(p.act.Calls(), "setpos") != 0 {
		t.Error("position must not be zeroed on misalignment")
	}
	if p.act.Velocity() != 0 {
		t.Errorf("velocity after Error = %v", p.act.Velocity())
	}
	// Terminal: further polls change nothing.
	n := len(p.act.Calls())
	if s, err := c.Step(); s != Error || !errors.Is(err, ErrMisaligned) || len(p.act.Calls()) != n {
		t.Error("Error state is not terminal")
	}
}

// ---------- Timeout, cancellation, Run ----------

func TestCalibration_PhaseTimeout(t *testing.T) {
	p := newPlant(300)
	clock := time.Unix(1000, 0)
	cfg := testConfig
	cfg.PhaseTimeout = time.Second
	c, _ := New(p.axis(t), cfg, WithClock(func() time.Time { return clock }))

	if s, _ := c.Step(); s != ApproachBottomFirst {
		t.Fatalf("state = %s", s)
	}
	clock = clock.Add(500 * time.Millisecond)
	if s, err := c.Step(); s != ApproachBottomFirst || err != nil {
		t.Fatalf("state = %s err = %v before timeout", s, err)
	}
	clock = clock.Add(600 * time.Millisecond)
	s, err := c.Step()
	if s != Error || !errors.Is(err, ErrTimeout) {
		t.Errorf("state = %s err = %v, want Error/ErrTimeout", s, err)
	}
	if p.act.Velocity() != 0 {
		t.Error("actuator still moving after timeout")
	}
}

func TestRun_AlreadyHome(t *testing.T) {
	p := newPlant(505)
	p.bottom = 510 // resting on the bottom endstop
	p.homeUp = band{500, 550}
	p.sync()
	c, _ := New(p.axis(t), testConfig)

	r, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !r.Valid || r.BottomSwitchPosition != 505 {
		t.Errorf("result = %+v", r)
	}
	if countOp(p.act.Calls(), "rotate") != 0 {
		t.Errorf("axis moved: %v", p.act.Calls())
	}
}

func TestRun_Cancelled(t *testing.T) {
	p := newPlant(900)
	c, _ := New(p.axis(t), testConfig)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if p.act.LastCall().Op != "stop" {
		t.Errorf("last call = %v, want stop", p.act.LastCall())
	}
}

func TestNew_Validates(t *testing.T) {
	p := newPlant(512)
	ax := p.axis(t)
	if _, err := New(ax, Config{}); err == nil {
		t.Error("expected error for zero speed")
	}
	ax.Endstop = nil
	if _, err := New(ax, testConfig); err == nil {
		t.Error("expected error without an endstop")
	}
}

func TestState_String(t *testing.T) {
	if Verified.String() != "Verified" || State(42).String() != "State(42)" {
		t.Error("unexpected State names")
	}
	if !Error.Terminal() || VerifyAlignment.Terminal() {
		t.Error("Terminal() wrong")
	}
}
