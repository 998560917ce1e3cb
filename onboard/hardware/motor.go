package hardware

// Wheel identifies one side of the differential drive.
type Wheel int

const (
	LeftWheel Wheel = iota
	RightWheel
)

// Wheels lists both sides, left first.
var Wheels = [2]Wheel{LeftWheel, RightWheel}

func (w Wheel) String() string {
	switch w {
	case LeftWheel:
		return "left"
	case RightWheel:
		return "right"
	default:
		return "unknown"
	}
}

// WheelPins are the board pins one motor driver channel is wired to.
// ThermalFlag and Current are optional, 0 means not wired.
type WheelPins struct {
	Pwm         int
	Direction   int
	Brake       int
	Encoders    [2]int // both quadrature phases, summed as a plain click counter
	ThermalFlag int
	Current     int
}

// MotorState is the diagnostic readout of one motor driver.
type MotorState struct {
	Overheated bool
	Current    float64 // sense voltage, volts
}
