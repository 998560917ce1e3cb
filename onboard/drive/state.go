package drive

import (
	"time"

	"github.com/CodedInternet/gorover/onboard/hardware"
)

// MotionTarget is the distance each wheel has to cover for the current
// movement. Zero means no limit.
type MotionTarget struct {
	LeftClicks  uint32
	RightClicks uint32
}

func (t MotionTarget) clicks(w hardware.Wheel) uint32 {
	if w == hardware.LeftWheel {
		return t.LeftClicks
	}
	return t.RightClicks
}

func (t MotionTarget) limited() bool {
	return t.LeftClicks > 0 || t.RightClicks > 0
}

type WheelState struct {
	Velocity    float64 // percent of full duty cycle, 0..100
	ClicksMoved uint64
	Forward     bool
}

type ControlLoopState struct {
	Integral      float64
	IntegralError float64
	LeftError     float64
	RightError    float64

	DesiredVelocityClicks int32
	DesiredBiasClicks     int32

	PIDEnabled   bool
	SpeedReduced bool
	Moving       bool
}

type StopReason string

const (
	StopNone          StopReason = ""
	StopCommanded     StopReason = "commanded"
	StopBrakes        StopReason = "brakes"
	StopTargetReached StopReason = "target"
	StopTimeout       StopReason = "timeout"
	StopShutdown      StopReason = "shutdown"
)

// Status is a snapshot of the control loop taken after every command and tick.
type Status struct {
	MovementID string
	Velocity   int
	Bias       int
	Target     MotionTarget
	Wheels     [2]WheelState
	Loop       ControlLoopState
	Brakes     bool
	Ticks      int
	Connected  bool
	Pending    bool
	StopReason StopReason
}

// Sample is what one tick measured on the encoders.
type Sample struct {
	Clicks  [2]uint32
	Forward [2]bool
	Period  time.Duration
}

// TickObserver receives every sample taken by the control loop. Observers run
// on the loop goroutine and must return quickly.
type TickObserver func(Sample)
