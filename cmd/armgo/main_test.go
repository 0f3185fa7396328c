package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cjeanneret/ArmGo/internal/config"
	"github.com/cjeanneret/ArmGo/internal/hw/gpio"
	"github.com/cjeanneret/ArmGo/internal/logic/arm"
)

// ---------- validateCLIOverrides ----------

func TestValidateCLIOverrides(t *testing.T) {
	cases := []struct {
		name     string
		deadzone int
		speed    int
		wantErr  bool
	}{
		{"all_zero", 0, 0, false},
		{"deadzone_min", 1, 0, false},
		{"deadzone_max", 511, 0, false},
		{"deadzone_too_large", 512, 0, true},
		{"deadzone_negative", -3, 0, true},
		{"speed", 0, 4000, false},
		{"speed_negative", 0, -1, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateCLIOverrides(tc.deadzone, tc.speed)
			if (err != nil) != tc.wantErr {
				t.Errorf("validateCLIOverrides(%d, %d) = %v, wantErr %v", tc.deadzone, tc.speed, err, tc.wantErr)
			}
		})
	}
}

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyString(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatalf("Set(\"\") error: %v", err)
	}
	if w.port() != 8080 {
		t.Errorf("expected default port 8080, got %d", w.port())
	}
}

func TestWebPortFlag_ValidPorts(t *testing.T) {
	cases := []struct {
		input string
		want  int
	}{
		{"8080", 8080},
		{"1", 1},
		{"65535", 65535},
		{"3000", 3000},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(tc.input); err != nil {
				t.Fatalf("Set(%q) error: %v", tc.input, err)
			}
			if w.port() != tc.want {
				t.Errorf("port() = %d, want %d", w.port(), tc.want)
			}
		})
	}
}

func TestWebPortFlag_InvalidPorts(t *testing.T) {
	cases := []string{"0", "65536", "-1", "abc", "8080.5"}
	for _, input := range cases {
		t.Run(input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(input); err == nil {
				t.Errorf("Set(%q) should fail, got nil", input)
			}
		})
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{val: 0}
	if s := w.String(); s != "0" {
		t.Errorf("String() = %q, want \"0\"", s)
	}
	w.val = 9090
	if s := w.String(); s != "9090" {
		t.Errorf("String() = %q, want \"9090\"", s)
	}
}

// ---------- applyOverrides ----------

func loadDefault(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("../../configs/default.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestApplyOverrides_NonZero(t *testing.T) {
	cfg := loadDefault(t)
	applyOverrides(cfg, Overrides{Deadzone: 80, Speed: 3000})
	if cfg.Joystick.Deadzone != 80 {
		t.Errorf("Deadzone = %d, want 80", cfg.Joystick.Deadzone)
	}
	if cfg.Motion.Speed != 3000 {
		t.Errorf("Speed = %d, want 3000", cfg.Motion.Speed)
	}
}

func TestApplyOverrides_ZeroLeavesUnchanged(t *testing.T) {
	cfg := loadDefault(t)
	applyOverrides(cfg, Overrides{})
	if cfg.Joystick.Deadzone != 50 || cfg.Motion.Speed != 5000 {
		t.Errorf("config changed: deadzone %d speed %d", cfg.Joystick.Deadzone, cfg.Motion.Speed)
	}
}

// A speed override above max_speed is caught by the config validation.
func TestApplyOverrides_SpeedAboveMax(t *testing.T) {
	cfg := loadDefault(t)
	applyOverrides(cfg, Overrides{Speed: 20000})
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error")
	}
}

// ---------- Bring-up ----------

func newMockMachine(t *testing.T) (*machine, *config.Config) {
	t.Helper()
	cfg := loadDefault(t)
	hw, err := openHardware(cfg)
	if err != nil {
		t.Fatalf("openHardware: %v", err)
	}
	t.Cleanup(func() { hw.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m, err := buildMachine(ctx, cfg, hw)
	if err != nil {
		t.Fatalf("buildMachine: %v", err)
	}
	return m, cfg
}

func TestBuildMachine_DefaultConfig(t *testing.T) {
	m, _ := newMockMachine(t)

	if len(m.motors) != 3 {
		t.Fatalf("motors = %d, want 3", len(m.motors))
	}
	elbow := m.loop.Axis(arm.Elbow)
	if elbow == nil || elbow.Home == nil || elbow.Endstop == nil || elbow.Position == nil {
		t.Fatalf("elbow not fully wired: %+v", elbow)
	}
	if wrist := m.loop.Axis(arm.Wrist); wrist.Endstop != nil || wrist.Home == nil || wrist.Position != nil {
		t.Errorf("wrist wiring = %+v", wrist)
	}

	// Mock hardware: centred stick, released button, startup in manual mode.
	for i := 0; i < 5; i++ {
		if err := m.loop.Cycle(); err != nil {
			t.Fatalf("Cycle: %v", err)
		}
	}
	st := m.loop.Status()
	if st.Mode != arm.ModeManual || !st.MotionStop || st.EmergencyStop {
		t.Errorf("status = %+v", st)
	}
	for _, a := range st.Axes {
		if a.Velocity != 0 {
			t.Errorf("%s velocity = %v", a.Name, a.Velocity)
		}
	}

	m.shutdown()
	m.shutdown()
}

func TestRunHoming_Errors(t *testing.T) {
	m, cfg := newMockMachine(t)
	ctx := context.Background()

	if err := runHoming(ctx, cfg, m, "hip"); err == nil {
		t.Error("expected error for unknown axis")
	}
	// The wrist has no endstop.
	if err := runHoming(ctx, cfg, m, "wrist"); err == nil {
		t.Error("expected error for an axis without endstop")
	}
}

// On mock hardware the endstop never trips: the calibration runs until
// cancelled and leaves the axis stopped.
func TestRunHoming_Cancelled(t *testing.T) {
	m, cfg := newMockMachine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := runHoming(ctx, cfg, m, "elbow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("runHoming = %v, want deadline exceeded", err)
	}
	if v := m.loop.Axis(arm.Elbow).Actuator.Velocity(); v != 0 {
		t.Errorf("elbow velocity = %v after cancel", v)
	}
}

// A failure half way through assembly leaves no driver energised.
func TestBuildMachine_FailureReleasesMotors(t *testing.T) {
	cfg := loadDefault(t)
	cfg.Axes[1].Name = "hip"
	hw, err := openHardware(cfg)
	if err != nil {
		t.Fatalf("openHardware: %v", err)
	}
	t.Cleanup(func() { hw.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := buildMachine(ctx, cfg, hw); err == nil {
		t.Fatal("expected error for an unknown axis name")
	}
	// The shoulder was built and enabled (LOW) before the failure.
	if lvl, _ := hw.gpio.ReadPin(cfg.Axes[0].EnablePin); lvl != gpio.High {
		t.Error("shoulder driver left enabled after a failed bring-up")
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	if err := run("settings.txt", 0, "", Overrides{}); err == nil {
		t.Error("expected error for an invalid config path")
	}
	if err := run(filepath.Join("configs", "missing.yaml"), 0, "", Overrides{}); err == nil {
		t.Error("expected error for a missing config file")
	}
}
