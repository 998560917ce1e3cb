package drive

import (
	"math"
	"time"
)

// Calibration of the drive train. These encode the physical wheel and encoder
// geometry and must not be tuned independently.
const (
	ClicksPerTurnDegree = 4.85
	CentimetersPerClick = 0.0459

	MaxSpeedPerInterval  = 68 // clicks per tick at full speed
	MaxMotorSpeed        = 100
	SlowPositioningSpeed = 25

	TickPeriod = 50 * time.Millisecond
)

// Correction loop tuning.
const (
	IntegralLimit       = 1000
	IntegralErrorGain   = 0.1
	ProportionalGain    = 0.1
	FinalApproachClicks = 100
)

// DegreesToClicks is the number of clicks each wheel travels during a point
// turn of the given angle. The sign is ignored.
func DegreesToClicks(degrees float64) uint32 {
	return toClicks(math.Abs(degrees) * ClicksPerTurnDegree)
}

// CentimetersToClicks is the number of clicks a wheel travels over the given
// distance. The sign is ignored.
func CentimetersToClicks(cm float64) uint32 {
	return toClicks(math.Abs(cm) / CentimetersPerClick)
}

func ClicksToCentimeters(clicks float64) float64 {
	return clicks * CentimetersPerClick
}

func ClicksToDegrees(clicks float64) float64 {
	return clicks / ClicksPerTurnDegree
}

func toClicks(v float64) uint32 {
	v = math.Round(v)
	if math.IsNaN(v) {
		return 0
	}
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}
