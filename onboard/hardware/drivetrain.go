package hardware

import (
	"fmt"

	"go.uber.org/multierr"
)

type wheelChannels struct {
	pwm       PwmOutput
	direction DigitalOutput
	brake     DigitalOutput
	encoders  [2]DigitalInput
	thermal   DigitalInput // nil when not wired
	current   AnalogInput  // nil when not wired
}

// DriveTrain holds the bound channels of both motors.
type DriveTrain struct {
	port   Port
	wheels [2]wheelChannels
}

// BindDriveTrain opens every channel the two motor drivers are wired to.
func BindDriveTrain(port Port, left, right WheelPins, pwmFrequency int) (dt *DriveTrain, err error) {
	dt = &DriveTrain{port: port}

	for i, pins := range [2]WheelPins{left, right} {
		if dt.wheels[i], err = bindWheel(port, pins, pwmFrequency); err != nil {
			return nil, fmt.Errorf("bind %s wheel: %w", Wheels[i], err)
		}
	}

	return
}

func bindWheel(port Port, pins WheelPins, pwmFrequency int) (w wheelChannels, err error) {
	if w.pwm, err = port.OpenPwmOutput(pins.Pwm, pwmFrequency); err != nil {
		return
	}
	if w.direction, err = port.OpenDigitalOutput(pins.Direction); err != nil {
		return
	}
	if w.brake, err = port.OpenDigitalOutput(pins.Brake); err != nil {
		return
	}
	for i, pin := range pins.Encoders {
		if w.encoders[i], err = port.OpenDigitalInput(pin); err != nil {
			return
		}
	}
	if pins.ThermalFlag != 0 {
		if w.thermal, err = port.OpenDigitalInput(pins.ThermalFlag); err != nil {
			return
		}
	}
	if pins.Current != 0 {
		if w.current, err = port.OpenAnalogInput(pins.Current); err != nil {
			return
		}
	}
	return
}

func (dt *DriveTrain) IsConnected() bool {
	return dt.port.IsConnected()
}

func (dt *DriveTrain) SetDutyCycle(w Wheel, dutyCycle float64) error {
	return dt.wheels[w].pwm.SetDutyCycle(dutyCycle)
}

func (dt *DriveTrain) SetDirection(w Wheel, forward bool) error {
	return dt.wheels[w].direction.Write(forward)
}

// SetBrakes writes both brake outputs, attempting the second even if the first fails.
func (dt *DriveTrain) SetBrakes(engaged bool) (err error) {
	for _, w := range Wheels {
		err = multierr.Append(err, dt.wheels[w].brake.Write(engaged))
	}
	return
}

// TakeClicks returns the pulses counted on both encoder phases of a wheel since
// the last call and resets the counters.
func (dt *DriveTrain) TakeClicks(w Wheel) (clicks uint32, err error) {
	for _, enc := range dt.wheels[w].encoders {
		n, takeErr := takePulses(enc)
		if takeErr != nil {
			return clicks, takeErr
		}
		clicks += n
	}
	return
}

func (dt *DriveTrain) ClearClicks() (err error) {
	for _, w := range Wheels {
		for _, enc := range dt.wheels[w].encoders {
			err = multierr.Append(err, enc.ClearPulseCount())
		}
	}
	return
}

// Diagnostics reads the thermal flag and current sense of both drivers. Channels
// that are not wired read as zero values.
func (dt *DriveTrain) Diagnostics() (states [2]MotorState, err error) {
	for _, w := range Wheels {
		ch := dt.wheels[w]
		if ch.thermal != nil {
			hot, readErr := ch.thermal.Read()
			err = multierr.Append(err, readErr)
			states[w].Overheated = hot
		}
		if ch.current != nil {
			volts, readErr := ch.current.Voltage()
			err = multierr.Append(err, readErr)
			states[w].Current = volts
		}
	}
	return
}

func takePulses(in DigitalInput) (uint32, error) {
	if taker, ok := in.(PulseTaker); ok {
		return taker.TakePulseCount()
	}

	n, err := in.PulseCount()
	if err != nil {
		return 0, err
	}
	return n, in.ClearPulseCount()
}
