package debounce

import (
	"testing"
	"time"

	"github.com/cjeanneret/ArmGo/internal/hw/gpio"
)

// fakeClock is advanced by hand.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSwitch(t *testing.T, mode gpio.PinMode, interval time.Duration) (*Switch, *gpio.MockDriver, *fakeClock) {
	t.Helper()
	drv := gpio.NewMockDriver()
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s, err := New(drv, Config{Name: "test", Pin: 8, Mode: mode, Interval: interval}, WithClock(clk.now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, drv, clk
}

func mustUpdate(t *testing.T, s *Switch) bool {
	t.Helper()
	changed, err := s.Update()
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	return changed
}

func TestSwitch_PullUpStartsHighWithoutEdge(t *testing.T) {
	s, _, _ := newTestSwitch(t, gpio.InputPullUp, 30*time.Millisecond)
	if s.Read() != gpio.High {
		t.Error("pulled-up switch should start High")
	}
	mustUpdate(t, s)
	if s.Rose() || s.Fell() {
		t.Error("no edge expected at startup")
	}
}

func TestSwitch_FallAfterInterval(t *testing.T) {
	s, drv, clk := newTestSwitch(t, gpio.InputPullUp, 30*time.Millisecond)

	drv.SetLevel(8, gpio.Low)
	mustUpdate(t, s)
	if s.Fell() {
		t.Fatal("edge reported before the interval elapsed")
	}
	clk.advance(10 * time.Millisecond)
	mustUpdate(t, s)
	if s.Fell() {
		t.Fatal("edge reported before the interval elapsed")
	}
	clk.advance(20 * time.Millisecond)
	if !mustUpdate(t, s) {
		t.Fatal("Update should report a change once the level held for the interval")
	}
	if !s.Fell() || s.Rose() {
		t.Errorf("Fell=%v Rose=%v, want Fell only", s.Fell(), s.Rose())
	}
	if s.Read() != gpio.Low {
		t.Error("stable level should be Low")
	}
}

func TestSwitch_BounceIsFiltered(t *testing.T) {
	s, drv, clk := newTestSwitch(t, gpio.Input, 10*time.Millisecond)

	for i := 0; i < 5; i++ {
		drv.SetLevel(8, gpio.High)
		mustUpdate(t, s)
		clk.advance(3 * time.Millisecond)
		drv.SetLevel(8, gpio.Low)
		mustUpdate(t, s)
		clk.advance(3 * time.Millisecond)
		if s.Rose() || s.Fell() {
			t.Fatalf("bounce %d produced an edge", i)
		}
	}
	if s.Read() != gpio.Low {
		t.Error("stable level should not move while bouncing")
	}
}

func TestSwitch_RoseOnlyOnce(t *testing.T) {
	s, drv, clk := newTestSwitch(t, gpio.Input, 10*time.Millisecond)

	drv.SetLevel(8, gpio.High)
	mustUpdate(t, s)
	clk.advance(10 * time.Millisecond)
	mustUpdate(t, s)
	if !s.Rose() {
		t.Fatal("expected rising edge")
	}
	clk.advance(time.Millisecond)
	mustUpdate(t, s)
	if s.Rose() {
		t.Error("rising edge must only be reported for one Update")
	}
	if s.Read() != gpio.High {
		t.Error("level should stay High")
	}
}

// Two updates at the same instant with no physical change must not
// produce a spurious edge on the second call.
func TestSwitch_UpdateIdempotentWithinInstant(t *testing.T) {
	s, drv, clk := newTestSwitch(t, gpio.Input, 10*time.Millisecond)

	drv.SetLevel(8, gpio.High)
	mustUpdate(t, s)
	clk.advance(10 * time.Millisecond)
	mustUpdate(t, s)
	if !s.Rose() {
		t.Fatal("expected rising edge")
	}
	if mustUpdate(t, s) {
		t.Error("second Update in the same instant reported a change")
	}
	if s.Rose() || s.Fell() {
		t.Error("second Update in the same instant produced an edge")
	}

	// Also before any edge has been accepted.
	s2, _, _ := newTestSwitch(t, gpio.InputPullUp, 10*time.Millisecond)
	mustUpdate(t, s2)
	mustUpdate(t, s2)
	if s2.Rose() || s2.Fell() {
		t.Error("idle switch produced an edge")
	}
}

func TestSwitch_ZeroIntervalFollowsImmediately(t *testing.T) {
	s, drv, _ := newTestSwitch(t, gpio.Input, 0)
	drv.SetLevel(8, gpio.High)
	mustUpdate(t, s)
	if !s.Rose() {
		t.Error("zero interval should accept the new level at once")
	}
}

func TestSwitch_Name(t *testing.T) {
	s, _, _ := newTestSwitch(t, gpio.Input, 0)
	if s.Name() != "test" {
		t.Errorf("Name() = %q", s.Name())
	}
}
