package errors

import "fmt"

// HardwareDisconnectedError is reported when a channel is used while the board
// behind the port is not connected.
type HardwareDisconnectedError struct {
	Device string
}

func (err HardwareDisconnectedError) Error() string {
	if len(err.Device) == 0 {
		err.Device = "UNKNOWN"
	}

	return fmt.Sprintf("hardware %s is not connected", err.Device)
}

// Is matches any HardwareDisconnectedError regardless of the device name.
func (err HardwareDisconnectedError) Is(target error) bool {
	_, ok := target.(HardwareDisconnectedError)
	return ok
}

// ErrDisconnected can be used with errors.Is to detect a disconnected board.
var ErrDisconnected = HardwareDisconnectedError{}

// TransportError wraps a failure of the port itself in the middle of an operation.
type TransportError struct {
	Op  string
	Err error
}

func (err *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", err.Op, err.Err)
}

func (err *TransportError) Unwrap() error {
	return err.Err
}

type PinNameError struct {
	Pin int
}

func (err PinNameError) Error() string {
	return fmt.Sprintf("no such pin %d", err.Pin)
}

type IncorrectPinModeError struct {
	Pin    int
	Mode   string
	Action string
}

func (err IncorrectPinModeError) Error() string {
	if len(err.Action) == 0 {
		err.Action = "UNKOWN"
	}
	if len(err.Mode) == 0 {
		err.Mode = "UNKOWN"
	}

	return fmt.Sprintf("incorrect pin mode; pin %d opened as %s is unable to perform action %s", err.Pin, err.Mode, err.Action)
}
