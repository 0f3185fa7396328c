package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// Axis drivers.
const (
	DriverGPIO = "gpio" // STEP/DIR driver pulsed from GPIO
	DriverTic  = "tic"  // Pololu Tic on the I²C bus
)

// AxisConfig describes one joint: its motor, its sensors and how it is driven.
type AxisConfig struct {
	Name          string `yaml:"name"`           // e.g., "elbow"
	Driver        string `yaml:"driver"`         // "gpio" (default) or "tic"
	StepPin       int    `yaml:"step_pin"`       // BCM, gpio driver only
	DirPin        int    `yaml:"dir_pin"`        // BCM, gpio driver only
	EnablePin     int    `yaml:"enable_pin"`     // BCM. 0 = not used. Active LOW.
	StepsPerRev   int    `yaml:"steps_per_rev"`  // full steps per motor revolution
	Microstepping int    `yaml:"microstepping"`  // 1, 2, 4, 8, 16...
	InvertDir     bool   `yaml:"invert_dir"`     // swap the DIR level
	TicAddr       uint16 `yaml:"tic_addr"`       // I²C address, tic driver only. 0 = 0x0E.
	TicVariant    string `yaml:"tic_variant"`    // T825 (default), T834, T500, T249 or 36v4
	SensorChannel *int   `yaml:"sensor_channel"` // ADC channel of the absolute encoder. Unset = none.

	HomePin           int `yaml:"home_pin"`            // hall-effect home sensor. 0 = none.
	EndstopPin        int `yaml:"endstop_pin"`         // limit switch to ground, pulled up. 0 = none.
	HomeDebounceMs    int `yaml:"home_debounce_ms"`    // default 10
	EndstopDebounceMs int `yaml:"endstop_debounce_ms"` // default 30

	StickAxis  string `yaml:"stick_axis"` // pendant axis driving it: "x", "y", "z" or "" (none)
	Autonomous bool   `yaml:"autonomous"` // closed-loop position control when unlocked
}

// HasSensor reports whether the axis has an absolute encoder.
func (a AxisConfig) HasSensor() bool { return a.SensorChannel != nil }

// Sensor returns the encoder channel, or -1 when there is none.
func (a AxisConfig) Sensor() int {
	if a.SensorChannel == nil {
		return -1
	}
	return *a.SensorChannel
}

// HomeDebounce returns the home sensor debounce interval.
func (a AxisConfig) HomeDebounce() time.Duration {
	return time.Duration(a.HomeDebounceMs) * time.Millisecond
}

// EndstopDebounce returns the endstop debounce interval.
func (a AxisConfig) EndstopDebounce() time.Duration {
	return time.Duration(a.EndstopDebounceMs) * time.Millisecond
}

// JoystickConfig describes the teach pendant.
type JoystickConfig struct {
	XChannel int `yaml:"x_channel"`
	YChannel int `yaml:"y_channel"`
	ZChannel int `yaml:"z_channel"`
	Deadzone int `yaml:"deadzone"` // raw counts around the baseline (default 50)
}

// PIDConfig holds the position controller tuning.
type PIDConfig struct {
	Kp       float64 `yaml:"kp"`
	Ki       float64 `yaml:"ki"`
	Kd       float64 `yaml:"kd"`
	SampleMs int     `yaml:"sample_ms"` // default 25
}

// MotionConfig holds the motor speeds, in steps/s.
type MotionConfig struct {
	MaxSpeed    int `yaml:"max_speed"`    // autonomous and clamp (default 9000)
	Speed       int `yaml:"speed"`        // teleoperation (default 5000)
	HomingSpeed int `yaml:"homing_speed"` // calibration (default 2000)
	Accel       int `yaml:"accel"`        // steps/s², Tic only (default 25000)
}

// AutonomousConfig drives the demo target cycle.
type AutonomousConfig struct {
	InitialTarget int `yaml:"initial_target"` // default 700
	TargetMin     int `yaml:"target_min"`     // inclusive, default 220
	TargetMax     int `yaml:"target_max"`     // exclusive, default 511
	MinMove       int `yaml:"min_move"`       // default 10
	DwellMs       int `yaml:"dwell_ms"`       // default 1000
}

// Band is an inclusive range of degrees.
type Band struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

func (b Band) isZero() bool { return b.Min == 0 && b.Max == 0 }

// SafetyConfig holds the interlock parameters.
type SafetyConfig struct {
	EstopPin        int  `yaml:"estop_pin"`         // pendant panic button, pulled up. 0 = none.
	EstopDebounceMs int  `yaml:"estop_debounce_ms"` // default 10
	EndstopBand     Band `yaml:"endstop_band"`      // default -106..103
	HomeBand        Band `yaml:"home_band"`         // default -5..8
	VerifyWindow    Band `yaml:"verify_window"`     // default -4..8
}

// HardwareConfig selects the backends.
type HardwareConfig struct {
	GPIO     string `yaml:"gpio"`      // "mock", "rpio" or "gpiocdev"
	GPIOChip string `yaml:"gpio_chip"` // gpiocdev only, default "gpiochip0"
	ADC      string `yaml:"adc"`       // "mock" or "mcp3008"
	SPIPort  string `yaml:"spi_port"`  // "" = first available
	I2CBus   string `yaml:"i2c_bus"`   // "" = first available
}

// DiagnosticsConfig mirrors the log onto a serial line.
type DiagnosticsConfig struct {
	SerialDevice string `yaml:"serial_device"` // "" = disabled
	SerialBaud   int    `yaml:"serial_baud"`   // default 115200
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel         int  `yaml:"debug_level"`             // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	CycleMs            int  `yaml:"cycle_ms"`                // control loop period (default 5)
	HomingPhaseTimeout int  `yaml:"homing_phase_timeout_ms"` // 0 = no timeout
	LockMemory         bool `yaml:"lock_memory"`             // mlockall at startup
}

// Config aggregates all application configuration.
type Config struct {
	Axes        []AxisConfig      `yaml:"axes"`
	Joystick    JoystickConfig    `yaml:"joystick"`
	PID         PIDConfig         `yaml:"pid"`
	Motion      MotionConfig      `yaml:"motion"`
	Autonomous  AutonomousConfig  `yaml:"autonomous"`
	Safety      SafetyConfig      `yaml:"safety"`
	Hardware    HardwareConfig    `yaml:"hardware"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Defaults    DefaultsConfig    `yaml:"defaults"`
}

// ValidateConfigPath checks that path names a .yaml file directly inside a
// configs/ directory and does not climb out of it.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	for _, elem := range strings.Split(filepath.ToSlash(path), "/") {
		if elem == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Axes {
		a := &c.Axes[i]
		if a.Driver == "" {
			a.Driver = DriverGPIO
		}
		if a.HomeDebounceMs <= 0 {
			a.HomeDebounceMs = 10
		}
		if a.EndstopDebounceMs <= 0 {
			a.EndstopDebounceMs = 30
		}
		if a.Microstepping <= 0 {
			a.Microstepping = 1
		}
		if a.StepsPerRev <= 0 {
			a.StepsPerRev = 200
		}
	}

	if c.Joystick.Deadzone == 0 {
		c.Joystick.Deadzone = 50
	}

	if c.PID.Kp == 0 && c.PID.Ki == 0 && c.PID.Kd == 0 {
		c.PID.Kp, c.PID.Kd = 0.022, 0.0001
	}
	if c.PID.SampleMs <= 0 {
		c.PID.SampleMs = 25
	}

	if c.Motion.MaxSpeed <= 0 {
		c.Motion.MaxSpeed = 9000
	}
	if c.Motion.Speed <= 0 {
		c.Motion.Speed = 5000
	}
	if c.Motion.HomingSpeed <= 0 {
		c.Motion.HomingSpeed = 2000
	}
	if c.Motion.Accel <= 0 {
		c.Motion.Accel = 25000
	}

	if c.Autonomous.InitialTarget == 0 {
		c.Autonomous.InitialTarget = 700
	}
	if c.Autonomous.TargetMin == 0 && c.Autonomous.TargetMax == 0 {
		c.Autonomous.TargetMin, c.Autonomous.TargetMax = 220, 511
	}
	if c.Autonomous.MinMove <= 0 {
		c.Autonomous.MinMove = 10
	}
	if c.Autonomous.DwellMs <= 0 {
		c.Autonomous.DwellMs = 1000
	}

	if c.Safety.EstopDebounceMs <= 0 {
		c.Safety.EstopDebounceMs = 10
	}
	if c.Safety.EndstopBand.isZero() {
		c.Safety.EndstopBand = Band{Min: -106, Max: 103}
	}
	if c.Safety.HomeBand.isZero() {
		c.Safety.HomeBand = Band{Min: -5, Max: 8}
	}
	if c.Safety.VerifyWindow.isZero() {
		c.Safety.VerifyWindow = Band{Min: -4, Max: 8}
	}

	if c.Hardware.GPIO == "" {
		c.Hardware.GPIO = "mock"
	}
	if c.Hardware.GPIOChip == "" {
		c.Hardware.GPIOChip = "gpiochip0"
	}
	if c.Hardware.ADC == "" {
		c.Hardware.ADC = "mock"
	}

	if c.Diagnostics.SerialBaud <= 0 {
		c.Diagnostics.SerialBaud = 115200
	}

	if c.Defaults.CycleMs <= 0 {
		c.Defaults.CycleMs = 5
	}
}

// Validate checks a configuration whose defaults have been applied.
func (c *Config) Validate() error {
	if len(c.Axes) == 0 {
		return fmt.Errorf("axes: at least one axis is required")
	}
	names := make(map[string]bool)
	sticks := make(map[string]string)
	for i, a := range c.Axes {
		if a.Name == "" {
			return fmt.Errorf("axes[%d].name is required", i)
		}
		if names[a.Name] {
			return fmt.Errorf("axes: duplicate axis name %q", a.Name)
		}
		names[a.Name] = true

		switch a.Driver {
		case DriverGPIO:
			if a.StepPin <= 0 || a.DirPin <= 0 {
				return fmt.Errorf("axis %s: step_pin and dir_pin are required for the gpio driver", a.Name)
			}
		case DriverTic:
			if v := strings.ToLower(a.TicVariant); v != "" && !slices.Contains([]string{"t825", "t834", "t500", "t249", "36v4"}, v) {
				return fmt.Errorf("axis %s: unknown tic_variant %q", a.Name, a.TicVariant)
			}
		default:
			return fmt.Errorf("axis %s: unknown driver %q", a.Name, a.Driver)
		}

		if a.HasSensor() && (a.Sensor() < 0 || a.Sensor() > 7) {
			return fmt.Errorf("axis %s: sensor_channel must be between 0 and 7, got %d", a.Name, a.Sensor())
		}
		if a.Autonomous && !a.HasSensor() {
			return fmt.Errorf("axis %s: autonomous control needs a sensor_channel", a.Name)
		}

		if a.StickAxis != "" {
			if !slices.Contains([]string{"x", "y", "z"}, a.StickAxis) {
				return fmt.Errorf("axis %s: stick_axis must be x, y or z, got %q", a.Name, a.StickAxis)
			}
			if other, ok := sticks[a.StickAxis]; ok {
				return fmt.Errorf("axis %s: stick axis %q already drives %s", a.Name, a.StickAxis, other)
			}
			sticks[a.StickAxis] = a.Name
		}
	}

	if c.Joystick.Deadzone < 0 || c.Joystick.Deadzone > 511 {
		return fmt.Errorf("joystick.deadzone must be between 0 and 511, got %d", c.Joystick.Deadzone)
	}

	if c.Motion.Speed > c.Motion.MaxSpeed {
		return fmt.Errorf("motion.speed (%d) must be <= motion.max_speed (%d)", c.Motion.Speed, c.Motion.MaxSpeed)
	}

	au := c.Autonomous
	if au.TargetMin < 0 || au.TargetMax > 1023 || au.TargetMin >= au.TargetMax {
		return fmt.Errorf("autonomous: target range [%d, %d) is invalid", au.TargetMin, au.TargetMax)
	}
	if au.InitialTarget < 0 || au.InitialTarget > 1023 {
		return fmt.Errorf("autonomous.initial_target must be between 0 and 1023, got %d", au.InitialTarget)
	}
	if au.MinMove*2 >= au.TargetMax-au.TargetMin {
		return fmt.Errorf("autonomous.min_move (%d) too large for target range [%d, %d)", au.MinMove, au.TargetMin, au.TargetMax)
	}

	for name, b := range map[string]Band{
		"endstop_band":  c.Safety.EndstopBand,
		"home_band":     c.Safety.HomeBand,
		"verify_window": c.Safety.VerifyWindow,
	} {
		if b.Min > b.Max {
			return fmt.Errorf("safety.%s: min (%d) must be <= max (%d)", name, b.Min, b.Max)
		}
	}

	switch c.Hardware.GPIO {
	case "mock", "rpio", "gpiocdev":
	default:
		return fmt.Errorf("hardware.gpio: unknown backend %q", c.Hardware.GPIO)
	}
	switch c.Hardware.ADC {
	case "mock", "mcp3008":
	default:
		return fmt.Errorf("hardware.adc: unknown converter %q", c.Hardware.ADC)
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// Axis returns the configuration of the named axis.
func (c *Config) Axis(name string) (AxisConfig, bool) {
	for _, a := range c.Axes {
		if a.Name == name {
			return a, true
		}
	}
	return AxisConfig{}, false
}

// CycleTime returns the control loop period.
func (c *Config) CycleTime() time.Duration {
	return time.Duration(c.Defaults.CycleMs) * time.Millisecond
}

// SampleTime returns the PID sample period.
func (c *Config) SampleTime() time.Duration {
	return time.Duration(c.PID.SampleMs) * time.Millisecond
}

// Dwell returns the pause at a reached target.
func (c *Config) Dwell() time.Duration {
	return time.Duration(c.Autonomous.DwellMs) * time.Millisecond
}

// EstopDebounce returns the panic button debounce interval.
func (c *Config) EstopDebounce() time.Duration {
	return time.Duration(c.Safety.EstopDebounceMs) * time.Millisecond
}

// HomingPhaseTimeout returns the per-phase calibration timeout, 0 if none.
func (c *Config) HomingPhaseTimeout() time.Duration {
	return time.Duration(c.Defaults.HomingPhaseTimeout) * time.Millisecond
}
