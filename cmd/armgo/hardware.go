package main

import (
	"context"
	"errors"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/cjeanneret/ArmGo/internal/config"
	"github.com/cjeanneret/ArmGo/internal/debug"
	"github.com/cjeanneret/ArmGo/internal/hw/adc"
	"github.com/cjeanneret/ArmGo/internal/hw/debounce"
	"github.com/cjeanneret/ArmGo/internal/hw/gpio"
	"github.com/cjeanneret/ArmGo/internal/hw/stepper"
	"github.com/cjeanneret/ArmGo/internal/hw/tic"
	"github.com/cjeanneret/ArmGo/internal/logic/arm"
	"github.com/cjeanneret/ArmGo/internal/logic/geometry"
	"github.com/cjeanneret/ArmGo/internal/logic/joystick"
	"github.com/cjeanneret/ArmGo/internal/logic/pid"
	"github.com/cjeanneret/ArmGo/internal/logic/position"
	"github.com/cjeanneret/ArmGo/internal/logic/safety"
)

// hardware holds the opened buses and drivers.
type hardware struct {
	gpio    gpio.Driver
	adc     adc.Reader
	i2c     i2c.Bus
	closers []func() error
}

// Close releases everything openHardware opened, last first.
func (h *hardware) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	h.closers = nil
	return errors.Join(errs...)
}

func needsI2C(cfg *config.Config) bool {
	for _, a := range cfg.Axes {
		if a.Driver == config.DriverTic {
			return true
		}
	}
	return false
}

// openHardware initialises the GPIO backend, the converter and, when a Tic
// drives an axis, the I²C bus.
func openHardware(cfg *config.Config) (*hardware, error) {
	h := &hardware{}

	debug.Step(1, "Initializing GPIO driver")
	debug.Value("GPIO backend", cfg.Hardware.GPIO)
	g, err := gpio.NewDriver(cfg.Hardware.GPIO, cfg.Hardware.GPIOChip)
	if err != nil {
		return nil, fmt.Errorf("init GPIO: %w", err)
	}
	h.gpio = g
	h.closers = append(h.closers, g.Close)

	periph := cfg.Hardware.ADC == "mcp3008" || needsI2C(cfg)
	if periph {
		if _, err := host.Init(); err != nil {
			h.Close()
			return nil, fmt.Errorf("init periph host: %w", err)
		}
	}

	debug.Step(2, "Initializing converter")
	debug.Value("ADC", cfg.Hardware.ADC)
	switch cfg.Hardware.ADC {
	case "mcp3008":
		port, err := spireg.Open(cfg.Hardware.SPIPort)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("open SPI port %q: %w", cfg.Hardware.SPIPort, err)
		}
		h.closers = append(h.closers, port.Close)
		dev, err := adc.NewMCP3008(port)
		if err != nil {
			h.Close()
			return nil, err
		}
		h.adc = dev
	default:
		h.adc = adc.NewMock()
	}

	if needsI2C(cfg) {
		bus, err := i2creg.Open(cfg.Hardware.I2CBus)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("open I²C bus %q: %w", cfg.Hardware.I2CBus, err)
		}
		h.closers = append(h.closers, bus.Close)
		h.i2c = bus
		debug.Value("I2C bus", bus)
	}
	return h, nil
}

// motor is an actuator whose driver can be powered down.
type motor interface {
	stepper.Actuator
	Enable() error
	Disable() error
}

// machine is the assembled arm.
type machine struct {
	hw     *hardware
	loop   *arm.Loop
	motors []motor
	done   bool
}

// shutdown stops and de-energises every motor. It is safe to call twice.
func (m *machine) shutdown() {
	if m.done {
		return
	}
	m.done = true
	debug.Section("Shutdown")
	if m.loop != nil {
		if err := m.loop.StopAll(); err != nil {
			debug.Error(err)
		}
	}
	for _, mo := range m.motors {
		if m.loop == nil {
			if err := mo.Stop(); err != nil {
				debug.Error(err)
			}
		}
		if err := mo.Disable(); err != nil {
			debug.Error(err)
		}
	}
}

func geometryBand(b config.Band) geometry.Band {
	return geometry.Band{Min: b.Min, Max: b.Max}
}

func newMotor(ctx context.Context, cfg *config.Config, a config.AxisConfig, h *hardware) (motor, error) {
	switch a.Driver {
	case config.DriverTic:
		t, err := tic.New(h.i2c, tic.Config{
			Name:     a.Name,
			Variant:  a.TicVariant,
			Addr:     a.TicAddr,
			MaxSpeed: cfg.Motion.MaxSpeed,
			Accel:    cfg.Motion.Accel,
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		s := stepper.NewStepper(h.gpio, stepper.Config{
			Name:          a.Name,
			StepPin:       a.StepPin,
			DirPin:        a.DirPin,
			EnablePin:     a.EnablePin,
			StepsPerRev:   a.StepsPerRev,
			Microstepping: a.Microstepping,
			MaxSpeed:      cfg.Motion.MaxSpeed,
			InvertDir:     a.InvertDir,
		})
		s.Start(ctx)
		return s, nil
	}
}

// buildMachine wires the control loop from cfg: actuators, switches,
// pendant, interlocks and position controllers.
func buildMachine(ctx context.Context, cfg *config.Config, h *hardware) (_ *machine, err error) {
	debug.Step(3, "Initializing axes")
	state := safety.NewState()
	sup := safety.NewSupervisor(state, safety.Bands{
		Endstop: geometryBand(cfg.Safety.EndstopBand),
		Home:    geometryBand(cfg.Safety.HomeBand),
	})

	m := &machine{hw: h}
	// Motors already energised are released if assembly fails.
	defer func() {
		if err != nil {
			m.shutdown()
		}
	}()
	var axes []*arm.Axis
	for _, ac := range cfg.Axes {
		id, err := arm.ParseAxisID(ac.Name)
		if err != nil {
			return nil, err
		}
		mo, err := newMotor(ctx, cfg, ac, h)
		if err != nil {
			return nil, fmt.Errorf("axis %s: %w", ac.Name, err)
		}
		m.motors = append(m.motors, mo)

		ax := &arm.Axis{ID: id, Actuator: mo, Channel: ac.Sensor()}
		if ac.HomePin > 0 {
			sw, err := debounce.New(h.gpio, debounce.Config{
				Name: ac.Name + " home", Pin: ac.HomePin, Mode: gpio.Input, Interval: ac.HomeDebounce(),
			})
			if err != nil {
				return nil, err
			}
			ax.Home = sw
		}
		if ac.EndstopPin > 0 {
			sw, err := debounce.New(h.gpio, debounce.Config{
				Name: ac.Name + " endstop", Pin: ac.EndstopPin, Mode: gpio.InputPullUp, Interval: ac.EndstopDebounce(),
			})
			if err != nil {
				return nil, err
			}
			ax.Endstop = sw
		}
		if ac.StickAxis != "" {
			stick, err := joystick.ParseStickAxis(ac.StickAxis)
			if err != nil {
				return nil, err
			}
			ax.Teleop, ax.Stick = true, stick
		}
		if ac.Autonomous {
			pc, err := position.New(ac.Name, mo, position.Config{
				Gains:     pid.Gains{Kp: cfg.PID.Kp, Ki: cfg.PID.Ki, Kd: cfg.PID.Kd},
				Sample:    cfg.SampleTime(),
				MaxSpeed:  cfg.Motion.MaxSpeed,
				Setpoint:  cfg.Autonomous.InitialTarget,
				TargetMin: cfg.Autonomous.TargetMin,
				TargetMax: cfg.Autonomous.TargetMax,
				MinMove:   cfg.Autonomous.MinMove,
				Dwell:     cfg.Dwell(),
			})
			if err != nil {
				return nil, err
			}
			ax.Position = pc
		}
		if ac.StepsPerRev > 0 {
			debug.Value(ac.Name+" steps/degree", geometry.NewStepsCalculator(ac).StepsPerDegree())
		}
		debug.PrintStruct(ac.Name, ac)
		axes = append(axes, ax)
	}

	debug.Step(4, "Capturing joystick baseline")
	stick := joystick.New(h.adc, joystick.Channels{
		X: cfg.Joystick.XChannel,
		Y: cfg.Joystick.YChannel,
		Z: cfg.Joystick.ZChannel,
	}, cfg.Joystick.Deadzone)
	if err := stick.CaptureBaseline(); err != nil {
		return nil, err
	}

	var estop *safety.PanicButton
	if pin := cfg.Safety.EstopPin; pin > 0 {
		sw, err := debounce.New(h.gpio, debounce.Config{
			Name: "estop", Pin: pin, Mode: gpio.InputPullUp, Interval: cfg.EstopDebounce(),
		})
		if err != nil {
			return nil, err
		}
		estop = safety.NewPanicButton(sw, state)
	}

	loop, err := arm.New(arm.Config{Speed: cfg.Motion.Speed, CycleTime: cfg.CycleTime()}, arm.Parts{
		Encoders:   h.adc,
		Stick:      stick,
		Supervisor: sup,
		Panic:      estop,
		Axes:       axes,
	})
	if err != nil {
		return nil, err
	}
	m.loop = loop
	return m, nil
}
