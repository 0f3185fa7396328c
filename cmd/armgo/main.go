package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/cjeanneret/ArmGo/internal/config"
	"github.com/cjeanneret/ArmGo/internal/debug"
	"github.com/cjeanneret/ArmGo/internal/hw/rt"
	"github.com/cjeanneret/ArmGo/internal/hw/serialdiag"
	"github.com/cjeanneret/ArmGo/internal/logic/arm"
	"github.com/cjeanneret/ArmGo/internal/logic/homing"
	"github.com/cjeanneret/ArmGo/internal/logic/joystick"
	"github.com/cjeanneret/ArmGo/internal/web"
)

// Overrides holds command-line values that replace config settings.
// Zero means "use the config value".
type Overrides struct {
	Deadzone int
	Speed    int
}

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start the read-only monitor on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	homeAxis := flag.String("home", "", "calibrate the named axis (shoulder, elbow, wrist) and exit")
	deadzone := flag.Int("deadzone", 0, "override the joystick deadzone in raw counts (1-511)")
	speed := flag.Int("speed", 0, "override the teleoperation speed in steps/s")
	flag.Parse()

	if err := run(*cfgPath, webPort.port(), *homeAxis, Overrides{Deadzone: *deadzone, Speed: *speed}); err != nil {
		log.Fatal(err)
	}
}

// run brings the arm up and drives it until a signal arrives. Cleanups are
// deferred so the motors are released on every error path.
func run(cfgPath string, port int, homeAxis string, ov Overrides) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(cfgPath); err != nil {
		return fmt.Errorf("invalid config path: %w", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}

	// Validate CLI overrides (only non-zero values are applied; zero means "use config default")
	if err := validateCLIOverrides(ov.Deadzone, ov.Speed); err != nil {
		return fmt.Errorf("invalid CLI override: %w", err)
	}
	applyOverrides(cfg, ov)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid CLI override: %w", err)
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	sinks := []io.Writer{os.Stdout}
	if dev := cfg.Diagnostics.SerialDevice; dev != "" {
		sink, err := serialdiag.Open(serialdiag.Config{Device: dev, Baud: cfg.Diagnostics.SerialBaud})
		if err != nil {
			return fmt.Errorf("serial diagnostics: %w", err)
		}
		defer sink.Close()
		sinks = append(sinks, sink)
		debug.Value("Serial diagnostics", dev)
	}
	var broadcaster *web.StatusBroadcaster
	if port > 0 {
		broadcaster = web.NewStatusBroadcaster()
		sinks = append(sinks, web.BroadcastWriter(broadcaster))
	}
	if len(sinks) > 1 {
		debug.SetOutput(io.MultiWriter(sinks...))
	}

	if cfg.Defaults.LockMemory {
		if err := rt.LockMemory(); err != nil {
			debug.Warn("lock memory: %v (continuing)", err)
		} else {
			debug.Info("Memory locked")
		}
	}

	hw, err := openHardware(cfg)
	if err != nil {
		return fmt.Errorf("init hardware failed: %w", err)
	}
	defer hw.Close()

	machine, err := buildMachine(ctx, cfg, hw)
	if err != nil {
		return fmt.Errorf("build arm failed: %w", err)
	}
	defer machine.shutdown()

	if homeAxis != "" {
		if err := runHoming(ctx, cfg, machine, homeAxis); err != nil {
			return fmt.Errorf("homing failed: %w", err)
		}
		return nil
	}

	if broadcaster != nil {
		srv, err := web.NewServer(fmt.Sprintf(":%d", port), broadcaster, machine.loop)
		if err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		go func() {
			if err := srv.Run(ctx); err != nil {
				debug.Error(fmt.Errorf("web server: %w", err))
			}
		}()
	}

	if err := machine.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		debug.Error(err)
	}
	return nil
}

// runHoming calibrates one axis and reports the result.
func runHoming(ctx context.Context, cfg *config.Config, m *machine, name string) error {
	id, err := arm.ParseAxisID(name)
	if err != nil {
		return err
	}
	ax := m.loop.Axis(id)
	if ax == nil {
		return fmt.Errorf("axis %s is not configured", id)
	}
	if !ax.HasEncoder() {
		return fmt.Errorf("axis %s has no encoder", id)
	}
	cal, err := homing.New(homing.Axis{
		Name:     id.String(),
		Actuator: ax.Actuator,
		ADC:      m.hw.adc,
		Channel:  ax.Channel,
		Home:     ax.Home,
		Endstop:  ax.Endstop,
	}, homing.Config{
		Speed:        cfg.Motion.HomingSpeed,
		VerifyWindow: geometryBand(cfg.Safety.VerifyWindow),
		PhaseTimeout: cfg.HomingPhaseTimeout(),
	})
	if err != nil {
		return err
	}

	res, err := cal.Run(ctx)
	debug.Summary("Homing " + id.String())
	debug.PrintStruct("Result", res)
	if err != nil {
		return err
	}
	debug.Info("%s homed: middle %d, position zeroed", id, res.HomeRangeMiddle)
	return nil
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(deadzone, speed int) error {
	if deadzone != 0 && (deadzone < 1 || deadzone >= int(joystick.FullScale)) {
		return fmt.Errorf("deadzone must be between 1 and %d, got %d", int(joystick.FullScale)-1, deadzone)
	}
	if speed < 0 {
		return fmt.Errorf("speed must be positive, got %d", speed)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, overrides Overrides) {
	if overrides.Deadzone > 0 {
		cfg.Joystick.Deadzone = overrides.Deadzone
	}
	if overrides.Speed > 0 {
		cfg.Motion.Speed = overrides.Speed
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
