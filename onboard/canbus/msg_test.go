package canbus

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"go.einride.tech/can"
)

func TestCANMsg_Frame(t *testing.T) {
	Convey("Standard frame format encodes correctly", t, func() {
		msg := CANMsg{
			ID:   0x123,
			Cmd:  0x0050,
			Data: []byte{0x06, 0x34, 0x12},
		}
		frame, err := msg.Frame()
		So(err, ShouldBeNil)

		Convey("ID is kept as a standard id", func() {
			So(frame.ID, ShouldEqual, 0x123)
			So(frame.IsExtended, ShouldBeFalse)
		})

		Convey("Data length includes the command bytes", func() {
			So(frame.Length, ShouldEqual, 5)
		})

		Convey("Command precedes the payload", func() {
			So(frame.Data[:], ShouldResemble, []byte{0x50, 0x00, 0x06, 0x34, 0x12, 0x00, 0x00, 0x00})
		})

		Convey("Decoding gives the message back", func() {
			back, err := MsgFromFrame(frame)
			So(err, ShouldBeNil)
			So(back, ShouldResemble, msg)
		})
	})

	Convey("Ids above the standard range use the extended format", t, func() {
		frame, err := CANMsg{ID: 0x12345}.Frame()
		So(err, ShouldBeNil)
		So(frame.IsExtended, ShouldBeTrue)
	})

	Convey("Payloads over six bytes are refused", t, func() {
		_, err := CANMsg{ID: 0x7ff, Data: make([]byte, 7)}.Frame()
		So(err, ShouldEqual, ERR_DATA_TOO_LONG)
	})

	Convey("Frames without a command are refused", t, func() {
		_, err := MsgFromFrame(can.Frame{ID: 0x10, Length: 1})
		So(err, ShouldEqual, ERR_NO_COMMAND)
	})
}

func BenchmarkCANMsg_Frame(b *testing.B) {
	msg := CANMsg{
		ID:   0x7ff,
		Cmd:  0x0040,
		Data: []byte{0x0e},
	}

	for n := 0; n < b.N; n++ {
		msg.Frame()
	}
}
