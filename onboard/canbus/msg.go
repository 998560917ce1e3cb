package canbus

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.einride.tech/can"
)

const (
	CANHostFlag = 0x0400
	CANSFFMask  = 0x000007FF
	CANEFFMask  = 0x1FFFFFFF
	CANCMDMask  = 0xFFFF

	// two bytes of every frame carry the command
	MaxDataLength = 6
)

// errors
var (
	ERR_DATA_TOO_LONG = errors.New("data length exceeds 6 bytes")
	ERR_NO_COMMAND    = errors.New("frame is too short to carry a command")
)

type CANMsg struct {
	ID   uint32 // node ID this is being issued for
	Cmd  uint16 // command being issued in this message
	Data []byte // raw data up to six bytes. DLC is taken from len(Data) + 2.
}

// Frame lays the message out as an einride frame: command little endian in the
// first two bytes followed by the payload.
func (msg CANMsg) Frame() (frame can.Frame, err error) {
	if len(msg.Data) > MaxDataLength {
		return frame, ERR_DATA_TOO_LONG
	}

	frame.ID = msg.ID & CANEFFMask
	frame.IsExtended = frame.ID > CANSFFMask
	frame.Length = uint8(2 + len(msg.Data))
	binary.LittleEndian.PutUint16(frame.Data[0:2], msg.Cmd)
	copy(frame.Data[2:], msg.Data)

	if err = frame.Validate(); err != nil {
		return frame, fmt.Errorf("invalid frame for node 0x%x: %w", msg.ID, err)
	}

	return
}

// MsgFromFrame is the reverse of CANMsg.Frame.
func MsgFromFrame(frame can.Frame) (msg CANMsg, err error) {
	if frame.Length < 2 {
		return msg, ERR_NO_COMMAND
	}

	if frame.IsExtended {
		msg.ID = frame.ID & CANEFFMask
	} else {
		msg.ID = frame.ID & CANSFFMask
	}
	msg.Cmd = binary.LittleEndian.Uint16(frame.Data[0:2])
	msg.Data = make([]byte, frame.Length-2)
	copy(msg.Data, frame.Data[2:frame.Length])

	return
}
