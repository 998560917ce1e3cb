package onboard

import (
	"context"
	"sync"
	"time"

	"github.com/CodedInternet/gorover/onboard/drive"
	deverr "github.com/CodedInternet/gorover/onboard/errors"
	"github.com/CodedInternet/gorover/onboard/hardware"
)

const (
	SIM_INTERVAL     = drive.TickPeriod
	SIM_VOLTS_AT_MAX = 1.8 // current sense output at full duty cycle
)

type simPin struct {
	mode   hardware.PinMode
	duty   float64
	value  bool
	pulses uint32
	volts  float64
}

// SimulatedPort is an in process board with two motors attached. Each motor
// spins at duty * MaxSpeedPerInterval clicks per interval unless braked and
// feeds both of its encoder pins.
type SimulatedPort struct {
	lock      sync.Mutex
	connected bool
	pins      map[int]*simPin
	wheels    [2]hardware.WheelPins
	gain      [2]float64
	remainder [2]float64
}

func NewSimulatedPort(left, right hardware.WheelPins, gain [2]float64) *SimulatedPort {
	return &SimulatedPort{
		connected: true,
		pins:      make(map[int]*simPin),
		wheels:    [2]hardware.WheelPins{left, right},
		gain:      gain,
	}
}

func (s *SimulatedPort) IsConnected() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.connected
}

func (s *SimulatedPort) SetConnected(connected bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.connected = connected
}

// Run advances the motors every SIM_INTERVAL until ctx is done.
func (s *SimulatedPort) Run(ctx context.Context) error {
	ticker := time.NewTicker(SIM_INTERVAL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Step()
		}
	}
}

// Step advances both motors by one interval.
func (s *SimulatedPort) Step() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.connected {
		return
	}

	for i, w := range s.wheels {
		duty := s.get(w.Pwm).duty
		if s.get(w.Brake).value {
			duty = 0
		}
		if w.Current != 0 {
			s.get(w.Current).volts = duty * SIM_VOLTS_AT_MAX
		}

		s.remainder[i] += duty * drive.MaxSpeedPerInterval * s.gain[i]
		clicks := uint32(s.remainder[i])
		s.remainder[i] -= float64(clicks)

		// the two phases of a quadrature encoder see the same number of edges
		s.get(w.Encoders[0]).pulses += clicks / 2
		s.get(w.Encoders[1]).pulses += clicks - clicks/2
	}
}

// SetOverheated raises the thermal flag of a motor driver.
func (s *SimulatedPort) SetOverheated(w hardware.Wheel, hot bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if pin := s.wheels[w].ThermalFlag; pin != 0 {
		s.get(pin).value = hot
	}
}

// get returns the state of a pin, creating it if the pin was never opened.
func (s *SimulatedPort) get(pin int) *simPin {
	p, ok := s.pins[pin]
	if !ok {
		p = new(simPin)
		s.pins[pin] = p
	}
	return p
}

func (s *SimulatedPort) open(pin int, mode hardware.PinMode) (*simHandle, error) {
	if pin < 0 {
		return nil, deverr.PinNameError{Pin: pin}
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	p := s.get(pin)
	if p.mode != 0 && p.mode != mode {
		return nil, deverr.IncorrectPinModeError{Pin: pin, Mode: p.mode.String(), Action: "open as " + mode.String()}
	}
	p.mode = mode

	return &simHandle{port: s, pin: pin, mode: mode}, nil
}

func (s *SimulatedPort) OpenPwmOutput(pin, frequencyHz int) (hardware.PwmOutput, error) {
	return s.open(pin, hardware.PinModePwm)
}

func (s *SimulatedPort) OpenDigitalOutput(pin int) (hardware.DigitalOutput, error) {
	return s.open(pin, hardware.PinModeDigitalOut)
}

func (s *SimulatedPort) OpenDigitalInput(pin int) (hardware.DigitalInput, error) {
	return s.open(pin, hardware.PinModeDigitalIn)
}

func (s *SimulatedPort) OpenAnalogInput(pin int) (hardware.AnalogInput, error) {
	return s.open(pin, hardware.PinModeAnalogIn)
}

type simHandle struct {
	port *SimulatedPort
	pin  int
	mode hardware.PinMode
}

// with runs fn on the pin state while the port is connected.
func (h *simHandle) with(mode hardware.PinMode, action string, fn func(p *simPin)) error {
	if h.mode != mode {
		return deverr.IncorrectPinModeError{Pin: h.pin, Mode: h.mode.String(), Action: action}
	}

	h.port.lock.Lock()
	defer h.port.lock.Unlock()

	if !h.port.connected {
		return deverr.HardwareDisconnectedError{Device: "simulator"}
	}
	fn(h.port.get(h.pin))
	return nil
}

func (h *simHandle) SetDutyCycle(dutyCycle float64) error {
	return h.with(hardware.PinModePwm, "set duty cycle", func(p *simPin) {
		p.duty = drive.Clamp(dutyCycle, 0, 1)
	})
}

func (h *simHandle) Write(value bool) error {
	return h.with(hardware.PinModeDigitalOut, "write", func(p *simPin) {
		p.value = value
	})
}

func (h *simHandle) Read() (value bool, err error) {
	err = h.with(hardware.PinModeDigitalIn, "read", func(p *simPin) {
		value = p.value
	})
	return
}

func (h *simHandle) PulseCount() (n uint32, err error) {
	err = h.with(hardware.PinModeDigitalIn, "read pulse count", func(p *simPin) {
		n = p.pulses
	})
	return
}

func (h *simHandle) ClearPulseCount() error {
	return h.with(hardware.PinModeDigitalIn, "clear pulse count", func(p *simPin) {
		p.pulses = 0
	})
}

func (h *simHandle) TakePulseCount() (n uint32, err error) {
	err = h.with(hardware.PinModeDigitalIn, "take pulse count", func(p *simPin) {
		n = p.pulses
		p.pulses = 0
	})
	return
}

func (h *simHandle) Voltage() (v float64, err error) {
	err = h.with(hardware.PinModeAnalogIn, "read voltage", func(p *simPin) {
		v = p.volts
	})
	return
}
