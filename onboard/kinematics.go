package onboard

import (
	"math"
	"sync"

	"github.com/CodedInternet/gorover/onboard/drive"
	"github.com/CodedInternet/gorover/onboard/hardware"
	"github.com/go-gl/mathgl/mgl64"
)

// TRACK_WIDTH is the distance between the wheels in cm. It follows from the
// turn calibration: during a point turn of θ each wheel covers the arc
// θ * TRACK_WIDTH / 2.
var TRACK_WIDTH = 2 * drive.ClicksPerTurnDegree * drive.CentimetersPerClick * 180 / math.Pi

type Pose struct {
	Position mgl64.Vec2 // cm from the starting point, x ahead at start
	Heading  float64    // radians, counter clockwise positive
}

func (p Pose) HeadingDegrees() float64 {
	return mgl64.RadToDeg(p.Heading)
}

// Odometer integrates the encoder samples of the control loop into a pose
// estimate. It is dead reckoning only and drifts with wheel slip.
type Odometer struct {
	lock     sync.RWMutex
	pose     Pose
	distance float64
}

func NewOdometer() *Odometer {
	return new(Odometer)
}

// Observe is a drive.TickObserver.
func (o *Odometer) Observe(s drive.Sample) {
	left := wheelTravel(s, hardware.LeftWheel)
	right := wheelTravel(s, hardware.RightWheel)

	o.lock.Lock()
	defer o.lock.Unlock()

	o.advance(left, right)
}

func wheelTravel(s drive.Sample, w hardware.Wheel) float64 {
	cm := drive.ClicksToCentimeters(float64(s.Clicks[w]))
	if !s.Forward[w] {
		cm = -cm
	}
	return cm
}

// advance moves the pose along the arc described by the two wheel distances.
func (o *Odometer) advance(left, right float64) {
	travel := (left + right) / 2
	turn := (right - left) / TRACK_WIDTH

	// use the heading half way through the arc
	rotate := mgl64.Rotate2D(o.pose.Heading + turn/2)
	o.pose.Position = o.pose.Position.Add(rotate.Mul2x1(mgl64.Vec2{travel, 0}))
	o.pose.Heading = normalizeAngle(o.pose.Heading + turn)
	o.distance += math.Abs(travel)
}

func (o *Odometer) Pose() Pose {
	o.lock.RLock()
	defer o.lock.RUnlock()

	return o.pose
}

// Distance is the total distance travelled in cm, regardless of direction.
func (o *Odometer) Distance() float64 {
	o.lock.RLock()
	defer o.lock.RUnlock()

	return o.distance
}

func (o *Odometer) Reset() {
	o.lock.Lock()
	defer o.lock.Unlock()

	o.pose = Pose{}
	o.distance = 0
}

func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a > math.Pi {
		a -= 2 * math.Pi
	} else if a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
