package hardware

import (
	"fmt"
	"sort"
	"sync"

	deverr "github.com/CodedInternet/gorover/onboard/errors"
)

// PwmOutput drives a pulse width modulated pin. Duty cycle is 0..1.
type PwmOutput interface {
	SetDutyCycle(dutyCycle float64) error
}

type DigitalOutput interface {
	Write(value bool) error
}

// DigitalInput is a pin that also counts the pulses it sees, the way the motor
// encoders are wired.
type DigitalInput interface {
	Read() (bool, error)
	PulseCount() (uint32, error)
	ClearPulseCount() error
}

// PulseTaker is implemented by inputs that can read and clear their pulse count
// in a single operation.
type PulseTaker interface {
	TakePulseCount() (uint32, error)
}

type AnalogInput interface {
	Voltage() (float64, error)
}

// Port is a connected I/O board. Channels are opened once and stay valid across
// reconnects of the board.
type Port interface {
	OpenPwmOutput(pin, frequencyHz int) (PwmOutput, error)
	OpenDigitalOutput(pin int) (DigitalOutput, error)
	OpenDigitalInput(pin int) (DigitalInput, error)
	OpenAnalogInput(pin int) (AnalogInput, error)
	IsConnected() bool
}

type PinMode uint8

const (
	PinModePwm PinMode = iota + 1
	PinModeDigitalOut
	PinModeDigitalIn
	PinModeAnalogIn
)

func (m PinMode) String() string {
	switch m {
	case PinModePwm:
		return "pwm"
	case PinModeDigitalOut:
		return "digital-out"
	case PinModeDigitalIn:
		return "digital-in"
	case PinModeAnalogIn:
		return "analog-in"
	default:
		return "unknown"
	}
}

type pinConfig struct {
	Pin       int
	Mode      PinMode
	Frequency int
}

type pulseOp uint8

const (
	pulseRead pulseOp = iota
	pulseClear
	pulseTake
)

// pinDriver is what a board backend has to provide for the shared channel
// handles to work on top of it.
type pinDriver interface {
	configure(cfg pinConfig) error
	setDutyCycle(pin int, duty float64) error
	writeDigital(pin int, value bool) error
	readDigital(pin int) (bool, error)
	pulses(pin int, op pulseOp) (uint32, error)
	readAnalog(pin int) (float64, error)
}

// pinRegistry remembers every opened pin so a board can be reconfigured after it
// reconnects.
type pinRegistry struct {
	lock sync.Mutex
	pins map[int]pinConfig
}

func (r *pinRegistry) open(drv pinDriver, cfg pinConfig, connected bool) (*channel, error) {
	if cfg.Pin < 0 {
		return nil, deverr.PinNameError{Pin: cfg.Pin}
	}

	r.lock.Lock()
	if r.pins == nil {
		r.pins = make(map[int]pinConfig)
	}
	if existing, ok := r.pins[cfg.Pin]; ok && existing.Mode != cfg.Mode {
		r.lock.Unlock()
		return nil, deverr.IncorrectPinModeError{
			Pin:    cfg.Pin,
			Mode:   existing.Mode.String(),
			Action: "open as " + cfg.Mode.String(),
		}
	}
	r.pins[cfg.Pin] = cfg
	r.lock.Unlock()

	if connected {
		if err := drv.configure(cfg); err != nil {
			return nil, err
		}
	}

	return &channel{drv: drv, cfg: cfg}, nil
}

func (r *pinRegistry) replay(drv pinDriver) error {
	r.lock.Lock()
	cfgs := make([]pinConfig, 0, len(r.pins))
	for _, cfg := range r.pins {
		cfgs = append(cfgs, cfg)
	}
	r.lock.Unlock()

	sort.Slice(cfgs, func(i, j int) bool { return cfgs[i].Pin < cfgs[j].Pin })
	for _, cfg := range cfgs {
		if err := drv.configure(cfg); err != nil {
			return fmt.Errorf("configure pin %d as %s: %w", cfg.Pin, cfg.Mode, err)
		}
	}
	return nil
}

// channel is the handle returned for every opened pin, whatever its mode.
type channel struct {
	drv pinDriver
	cfg pinConfig
}

func (c *channel) check(mode PinMode, action string) error {
	if c.cfg.Mode != mode {
		return deverr.IncorrectPinModeError{Pin: c.cfg.Pin, Mode: c.cfg.Mode.String(), Action: action}
	}
	return nil
}

func (c *channel) SetDutyCycle(dutyCycle float64) error {
	if err := c.check(PinModePwm, "set duty cycle"); err != nil {
		return err
	}
	if dutyCycle < 0 {
		dutyCycle = 0
	} else if dutyCycle > 1 {
		dutyCycle = 1
	}
	return c.drv.setDutyCycle(c.cfg.Pin, dutyCycle)
}

func (c *channel) Write(value bool) error {
	if err := c.check(PinModeDigitalOut, "write"); err != nil {
		return err
	}
	return c.drv.writeDigital(c.cfg.Pin, value)
}

func (c *channel) Read() (bool, error) {
	if err := c.check(PinModeDigitalIn, "read"); err != nil {
		return false, err
	}
	return c.drv.readDigital(c.cfg.Pin)
}

func (c *channel) PulseCount() (uint32, error) {
	if err := c.check(PinModeDigitalIn, "read pulse count"); err != nil {
		return 0, err
	}
	return c.drv.pulses(c.cfg.Pin, pulseRead)
}

func (c *channel) ClearPulseCount() error {
	if err := c.check(PinModeDigitalIn, "clear pulse count"); err != nil {
		return err
	}
	_, err := c.drv.pulses(c.cfg.Pin, pulseClear)
	return err
}

func (c *channel) TakePulseCount() (uint32, error) {
	if err := c.check(PinModeDigitalIn, "take pulse count"); err != nil {
		return 0, err
	}
	return c.drv.pulses(c.cfg.Pin, pulseTake)
}

func (c *channel) Voltage() (float64, error) {
	if err := c.check(PinModeAnalogIn, "read voltage"); err != nil {
		return 0, err
	}
	return c.drv.readAnalog(c.cfg.Pin)
}
