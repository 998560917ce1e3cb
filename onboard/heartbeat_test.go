package onboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CodedInternet/gorover/onboard/hardware"
	. "github.com/smartystreets/goconvey/convey"
)

func TestHeartbeat(t *testing.T) {
	Convey("a heartbeat on a simulated board", t, func() {
		pins := DefaultConfig().Pins
		sim := NewSimulatedPort(pins.Left.WheelPins, pins.Right.WheelPins, [2]float64{1, 1})

		hb, err := NewHeartbeat(sim, pins.LED, time.Millisecond, nil)
		So(err, ShouldBeNil)

		Convey("toggles the LED", func() {
			hb.blink()
			So(sim.pins[pins.LED].value, ShouldBeTrue)
			hb.blink()
			So(sim.pins[pins.LED].value, ShouldBeFalse)
			So(hb.blinks, ShouldEqual, 2)
		})

		Convey("stays dark while the board is gone", func() {
			sim.SetConnected(false)
			hb.blink()
			So(sim.pins[pins.LED].value, ShouldBeFalse)
			So(hb.blinks, ShouldEqual, 0)
		})

		Convey("runs until cancelled", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			So(errors.Is(hb.Run(ctx), context.DeadlineExceeded), ShouldBeTrue)
			So(hb.blinks, ShouldBeGreaterThan, 0)
		})
	})

	Convey("the LED pin cannot be shared with a motor pin", t, func() {
		pins := DefaultConfig().Pins
		sim := NewSimulatedPort(pins.Left.WheelPins, pins.Right.WheelPins, [2]float64{1, 1})
		_, err := hardware.BindDriveTrain(sim, pins.Left.WheelPins, pins.Right.WheelPins, 1000)
		So(err, ShouldBeNil)

		_, err = NewHeartbeat(sim, pins.Left.Encoders[0], time.Second, nil)
		So(err, ShouldNotBeNil)
	})
}
