package drive

import (
	"errors"
	"testing"

	deverr "github.com/CodedInternet/gorover/onboard/errors"
	"github.com/CodedInternet/gorover/onboard/hardware"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
)

const (
	left  = hardware.LeftWheel
	right = hardware.RightWheel
)

func newTestMotion() (*motion, *fakeTrain) {
	train := newFakeTrain()
	return newMotion(train, zap.NewNop()), train
}

func TestMove(t *testing.T) {
	Convey("velocity and bias are clamped", t, func() {
		m, _ := newTestMotion()

		for v := -150; v <= 150; v += 10 {
			for b := -150; b <= 150; b += 10 {
				So(m.move(v, b), ShouldBeNil)
				So(m.velocity, ShouldBeBetweenOrEqual, -100, 100)
				So(m.bias, ShouldBeBetweenOrEqual, -100, 100)
				So(m.loop.DesiredVelocityClicks, ShouldBeLessThanOrEqualTo, MaxSpeedPerInterval)
				for _, w := range hardware.Wheels {
					So(m.wheels[w].Velocity, ShouldBeBetweenOrEqual, 0, 100)
				}
			}
		}

		So(m.move(150, -150), ShouldBeNil)
		So(m.velocity, ShouldEqual, 100)
		So(m.bias, ShouldEqual, -100)
		So(m.wheels[left].Velocity, ShouldEqual, 0.0)
		So(m.wheels[right].Velocity, ShouldEqual, 100.0)
	})

	Convey("desired clicks per tick truncate", t, func() {
		m, _ := newTestMotion()

		So(m.move(33, 15), ShouldBeNil)
		So(m.loop.DesiredVelocityClicks, ShouldEqual, int32(22))
		So(m.loop.DesiredBiasClicks, ShouldEqual, int32(10))
	})

	Convey("a move arms the loop and drives the outputs", t, func() {
		m, train := newTestMotion()
		train.spin(5, 5)

		So(m.move(40, 10), ShouldBeNil)

		So(m.loop.Moving, ShouldBeTrue)
		So(m.loop.PIDEnabled, ShouldBeTrue)
		So(m.loop.SpeedReduced, ShouldBeFalse)
		So(m.target, ShouldResemble, MotionTarget{})
		So(m.id.String(), ShouldNotBeEmpty)

		s := train.snapshot()
		So(s.clicks, ShouldResemble, [2]uint32{0, 0})
		So(s.duty[left], ShouldAlmostEqual, 0.5)
		So(s.duty[right], ShouldAlmostEqual, 0.3)
		So(s.forward, ShouldResemble, [2]bool{true, true})
		So(s.brakes, ShouldBeFalse)

		Convey("a backward move reverses both wheels", func() {
			So(m.move(-40, 10), ShouldBeNil)
			So(train.snapshot().forward, ShouldResemble, [2]bool{false, false})
		})

		Convey("a zero move does not count as moving", func() {
			So(m.move(0, 0), ShouldBeNil)
			So(m.loop.Moving, ShouldBeFalse)
		})
	})

	Convey("turning targets both wheels and spins them against each other", t, func() {
		m, train := newTestMotion()

		So(m.turn(180, 50), ShouldBeNil)
		So(m.target, ShouldResemble, MotionTarget{LeftClicks: 873, RightClicks: 873})
		So(m.velocity, ShouldEqual, 0)
		So(m.bias, ShouldEqual, 50)
		So(train.snapshot().forward, ShouldResemble, [2]bool{true, false})
	})

	Convey("moving a distance targets both wheels", t, func() {
		m, train := newTestMotion()

		So(m.moveDistance(120, -50), ShouldBeNil)
		So(m.target, ShouldResemble, MotionTarget{LeftClicks: 2614, RightClicks: 2614})
		So(m.velocity, ShouldEqual, -50)
		So(train.snapshot().forward, ShouldResemble, [2]bool{false, false})
	})
}

func TestStop(t *testing.T) {
	Convey("stopping twice leaves the same state as once", t, func() {
		m, train := newTestMotion()
		So(m.move(60, 0), ShouldBeNil)

		So(m.stopMotors(StopCommanded), ShouldBeNil)
		once := m.status(true)
		So(m.stopMotors(StopCommanded), ShouldBeNil)
		twice := m.status(true)

		So(twice, ShouldResemble, once)
		So(twice.Loop.Moving, ShouldBeFalse)
		So(twice.Brakes, ShouldBeTrue)
		So(twice.Wheels[left].Velocity, ShouldEqual, 0.0)
		So(twice.Wheels[right].Velocity, ShouldEqual, 0.0)
		So(twice.StopReason, ShouldEqual, StopCommanded)

		s := train.snapshot()
		So(s.brakes, ShouldBeTrue)
		So(s.duty, ShouldResemble, [2]float64{0, 0})
	})

	Convey("releasing the brakes leaves the wheels alone", t, func() {
		m, train := newTestMotion()

		So(m.setBrakesEnabled(false), ShouldBeNil)
		So(train.snapshot().brakes, ShouldBeFalse)
		So(m.loop.Moving, ShouldBeFalse)
	})

	Convey("engaging the brakes stops a movement", t, func() {
		m, _ := newTestMotion()
		So(m.move(60, 0), ShouldBeNil)

		So(m.setBrakesEnabled(true), ShouldBeNil)
		So(m.loop.Moving, ShouldBeFalse)
		So(m.reason, ShouldEqual, StopBrakes)
	})
}

func TestControlLoop(t *testing.T) {
	Convey("moving a limited distance", t, func() {
		m, train := newTestMotion()
		So(m.moveDistance(22.95, 50), ShouldBeNil)
		So(m.target.LeftClicks, ShouldEqual, uint32(500))

		var last uint64
		run := func(ticks int) {
			for i := 0; i < ticks; i++ {
				train.spin(60, 60)
				_, _, err := m.tick()
				So(err, ShouldBeNil)
				So(m.wheels[left].ClicksMoved, ShouldBeGreaterThanOrEqualTo, last)
				last = m.wheels[left].ClicksMoved
			}
		}

		run(6)
		So(m.wheels[left].ClicksMoved, ShouldEqual, uint64(360))
		So(m.loop.SpeedReduced, ShouldBeFalse)
		So(m.loop.PIDEnabled, ShouldBeTrue)

		Convey("slows down for the last clicks", func() {
			run(1)
			So(m.loop.SpeedReduced, ShouldBeTrue)
			So(m.loop.PIDEnabled, ShouldBeFalse)
			So(m.wheels[left].Velocity, ShouldBeLessThanOrEqualTo, SlowPositioningSpeed)
			So(m.wheels[right].Velocity, ShouldBeLessThanOrEqualTo, SlowPositioningSpeed)
			So(train.snapshot().duty[left], ShouldAlmostEqual, 0.25)

			Convey("and stops once the target is crossed", func() {
				run(2)
				So(m.wheels[left].ClicksMoved, ShouldEqual, uint64(540))
				So(m.loop.Moving, ShouldBeFalse)
				So(m.reason, ShouldEqual, StopTargetReached)
				s := train.snapshot()
				So(s.brakes, ShouldBeTrue)
				So(s.duty, ShouldResemble, [2]float64{0, 0})

				Convey("with no further writes until the next command", func() {
					writes, takes := train.writes(), train.snapshot().takes
					for i := 0; i < 5; i++ {
						train.spin(60, 60)
						_, sampled, err := m.tick()
						So(err, ShouldBeNil)
						So(sampled, ShouldBeFalse)
					}
					So(train.writes(), ShouldEqual, writes)
					So(train.snapshot().takes, ShouldEqual, takes)
				})
			})

			Convey("and a forced velocity is allowed to exceed the slow speed", func() {
				So(m.setVelocity(left, 80), ShouldBeNil)
				run(1)
				So(m.loop.SpeedReduced, ShouldBeTrue)
				So(m.wheels[left].Velocity, ShouldEqual, 80.0)
				So(train.snapshot().duty[left], ShouldAlmostEqual, 0.8)

				Convey("until the next movement resets the latch", func() {
					So(m.move(50, 0), ShouldBeNil)
					So(m.loop.SpeedReduced, ShouldBeFalse)
					So(m.loop.PIDEnabled, ShouldBeTrue)
				})
			})
		})
	})

	Convey("the correction reacts to the left wheel outrunning the right", t, func() {
		m, train := newTestMotion()
		So(m.move(50, 0), ShouldBeNil)

		train.spin(68, 60)
		_, sampled, err := m.tick()
		So(err, ShouldBeNil)
		So(sampled, ShouldBeTrue)
		So(m.loop.Integral, ShouldEqual, 8.0)
		So(m.loop.LeftError, ShouldAlmostEqual, -3.48, 0.0001)
		So(m.loop.RightError, ShouldAlmostEqual, -2.52, 0.0001)

		previous := m.loop.Integral
		for i := 1; i < 20; i++ {
			train.spin(68, 60)
			_, _, err := m.tick()
			So(err, ShouldBeNil)
			So(m.loop.Integral, ShouldBeGreaterThan, previous)
			So(m.loop.LeftError, ShouldBeLessThan, m.loop.RightError)
			previous = m.loop.Integral
		}

		So(m.loop.Integral, ShouldEqual, 160.0)
		So(m.wheels[left].Velocity, ShouldBeLessThan, m.wheels[right].Velocity)
		So(m.wheels[left].Velocity, ShouldBeGreaterThanOrEqualTo, 0)
		So(m.loop.Moving, ShouldBeTrue)
	})

	Convey("the integral is bounded", t, func() {
		m, train := newTestMotion()
		So(m.move(100, 0), ShouldBeNil)

		for i := 0; i < 30; i++ {
			train.spin(68, 0)
			m.tick()
		}
		So(m.loop.Integral, ShouldEqual, float64(IntegralLimit))
	})

	Convey("a movement that stalls is stopped after the tick limit", t, func() {
		m, train := newTestMotion()
		m.maxTicks = 5
		So(m.moveDistance(100, 50), ShouldBeNil)

		for i := 0; i < 5; i++ {
			train.spin(10, 10)
			m.tick()
		}
		So(m.loop.Moving, ShouldBeFalse)
		So(m.reason, ShouldEqual, StopTimeout)
		So(train.snapshot().brakes, ShouldBeTrue)
	})

	Convey("a free movement is never limited", t, func() {
		m, train := newTestMotion()
		m.maxTicks = 5
		So(m.move(50, 0), ShouldBeNil)

		for i := 0; i < 10; i++ {
			train.spin(34, 34)
			m.tick()
		}
		So(m.loop.Moving, ShouldBeTrue)
		So(m.ticks, ShouldEqual, 10)
	})
}

func TestDisconnectedPort(t *testing.T) {
	Convey("a move while disconnected is armed and applied on reconnect", t, func() {
		m, train := newTestMotion()
		train.setConnected(false)

		So(m.move(50, 0), ShouldBeNil)
		So(m.loop.Moving, ShouldBeTrue)
		So(m.pending, ShouldBeTrue)
		So(train.writes(), ShouldEqual, 0)

		_, sampled, err := m.tick()
		So(err, ShouldBeNil)
		So(sampled, ShouldBeFalse)
		So(train.snapshot().takes, ShouldEqual, 0)

		train.setConnected(true)
		train.spin(20, 20)
		_, sampled, err = m.tick()
		So(err, ShouldBeNil)
		So(sampled, ShouldBeTrue)
		So(m.pending, ShouldBeFalse)

		s := train.snapshot()
		So(s.clears, ShouldEqual, 1)
		So(s.brakes, ShouldBeFalse)
		So(m.wheels[left].ClicksMoved, ShouldEqual, uint64(0))
	})

	Convey("a failing write is reported and idles the next tick", t, func() {
		m, train := newTestMotion()
		train.failNextWrite(errors.New("bus error"))

		err := m.move(50, 0)
		var transportErr *deverr.TransportError
		So(errors.As(err, &transportErr), ShouldBeTrue)
		So(transportErr.Op, ShouldEqual, "move")
		So(m.loop.Moving, ShouldBeTrue)

		_, sampled, err := m.tick()
		So(err, ShouldBeNil)
		So(sampled, ShouldBeFalse)
		So(train.snapshot().takes, ShouldEqual, 0)

		_, sampled, err = m.tick()
		So(err, ShouldBeNil)
		So(sampled, ShouldBeTrue)
		So(train.snapshot().duty[left], ShouldAlmostEqual, 0.534, 0.0001)
	})

	Convey("a write that finds the port gone is held without an error", t, func() {
		m, train := newTestMotion()
		train.failNextWrite(deverr.HardwareDisconnectedError{Device: "test"})

		So(m.move(50, 0), ShouldBeNil)
		So(m.pending, ShouldBeTrue)
		So(m.skipTick, ShouldBeFalse)
	})

	Convey("a failed encoder read keeps what the other wheel counted", t, func() {
		m, train := newTestMotion()
		So(m.move(50, 0), ShouldBeNil)

		train.spin(30, 40)
		train.failNextTake(right, errors.New("bus error"))

		_, sampled, err := m.tick()
		var transportErr *deverr.TransportError
		So(errors.As(err, &transportErr), ShouldBeTrue)
		So(sampled, ShouldBeFalse)
		So(m.wheels[left].ClicksMoved, ShouldEqual, uint64(30))
		So(m.wheels[right].ClicksMoved, ShouldEqual, uint64(0))

		// idle after the failure, then the right wheel catches up
		_, sampled, _ = m.tick()
		So(sampled, ShouldBeFalse)
		_, sampled, err = m.tick()
		So(err, ShouldBeNil)
		So(sampled, ShouldBeTrue)
		So(m.wheels[left].ClicksMoved, ShouldEqual, uint64(30))
		So(m.wheels[right].ClicksMoved, ShouldEqual, uint64(40))
	})
}

func TestForcedVelocity(t *testing.T) {
	Convey("a forced velocity", t, func() {
		m, train := newTestMotion()

		Convey("is rejected for a wheel that does not exist", func() {
			So(m.move(50, 0), ShouldBeNil)
			So(m.setVelocity(hardware.Wheel(2), 50), ShouldEqual, ErrUnknownWheel)
			So(m.setVelocity(hardware.Wheel(-1), 50), ShouldEqual, ErrUnknownWheel)
			So(m.wheels[left].Velocity, ShouldEqual, 50.0)
		})

		Convey("does not restart a stopped robot", func() {
			So(m.move(50, 0), ShouldBeNil)
			So(m.stopMotors(StopCommanded), ShouldBeNil)
			writes := train.writes()

			So(m.setVelocity(left, 60), ShouldEqual, ErrNotMoving)
			So(m.loop.Moving, ShouldBeFalse)
			So(m.brakes, ShouldBeTrue)
			So(m.wheels[left].Velocity, ShouldEqual, 0.0)
			So(train.snapshot().duty, ShouldResemble, [2]float64{0, 0})
			So(train.writes(), ShouldEqual, writes)
		})

		Convey("is not accepted before any movement", func() {
			So(m.setVelocity(right, 30), ShouldEqual, ErrNotMoving)
			So(m.wheels[right].Velocity, ShouldEqual, 0.0)
		})
	})
}
