package onboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CodedInternet/gorover/onboard/drive"
	"github.com/CodedInternet/gorover/onboard/hardware"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRobot(t *testing.T) {
	Convey("a simulated robot", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		robot, err := NewRobot(ctx, DefaultConfig(), nil)
		So(err, ShouldBeNil)
		defer robot.Close()

		So(robot.Port.IsConnected(), ShouldBeTrue)
		So(robot.Heartbeat, ShouldNotBeNil)

		runCtx, stop := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			done <- robot.Run(runCtx)
		}()

		Convey("drives a short distance", func() {
			So(robot.Drive.MoveDistance(ctx, 5, 100), ShouldBeNil)
			So(robot.Drive.IsRobotMoving(), ShouldBeTrue)
			So(robot.Drive.WaitUntilStopped(ctx, 10*time.Millisecond), ShouldBeNil)

			status := robot.Drive.Status()
			So(status.StopReason, ShouldEqual, drive.StopTargetReached)
			So(status.Wheels[hardware.LeftWheel].ClicksMoved, ShouldBeGreaterThanOrEqualTo, uint64(109))
			So(robot.Odometer.Pose().Position.X(), ShouldBeGreaterThan, 2.5)

			stop()
			So(errors.Is(<-done, context.Canceled), ShouldBeTrue)
		})

		Convey("reports the motor drivers", func() {
			states, err := robot.Diagnostics()
			So(err, ShouldBeNil)
			So(states[hardware.LeftWheel].Overheated, ShouldBeFalse)
			So(states[hardware.RightWheel].Current, ShouldEqual, 0.0)

			stop()
			<-done
		})

		Convey("finds its routines", func() {
			r, err := robot.Routine("demo")
			So(err, ShouldBeNil)
			So(r.Steps, ShouldResemble, DemoRoutine())

			_, err = robot.Routine("dance")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldEqual, "unable to find routine 'dance'")

			stop()
			<-done
		})
	})

	Convey("a robot is not built from a bad config", t, func() {
		config := DefaultConfig()
		config.Version = 2

		robot, err := NewRobot(context.Background(), config, nil)
		So(err, ShouldNotBeNil)
		So(robot, ShouldBeNil)
	})

	Convey("a robot on a missing serial board waits for it", t, func() {
		config := DefaultConfig()
		config.Backend = BackendSerial
		config.Serial.Device = "/dev/gorover-does-not-exist"

		robot, err := NewRobot(context.Background(), config, nil)
		So(err, ShouldBeNil)
		So(robot.Port.IsConnected(), ShouldBeFalse)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- robot.Run(ctx)
		}()

		So(robot.Drive.Move(ctx, 50, 0), ShouldBeNil)
		So(robot.Drive.Status().Pending, ShouldBeTrue)
		So(robot.Drive.IsRobotMoving(), ShouldBeTrue)

		cancel()
		So(errors.Is(<-done, context.Canceled), ShouldBeTrue)
		So(robot.Close(), ShouldBeNil)
	})
}
