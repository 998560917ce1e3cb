package hardware

import (
	"errors"
	"sync"
	"time"

	"github.com/CodedInternet/gorover/onboard/canbus"
)

const (
	CMD_ALLSTOP      = 0x0000
	CMD_OPEN_PIN     = 0x0010
	CMD_SET_PWM      = 0x0020
	CMD_SET_DIGITAL  = 0x0030
	CMD_GET_DIGITAL  = 0x0040
	CMD_GET_PULSES   = 0x0050
	CMD_CLEAR_PULSES = 0x0060
	CMD_TAKE_PULSES  = 0x0070
	CMD_GET_ANALOG   = 0x0080
	CMD_VERSION      = 0x03E0

	CMD_MAX_RETRIES = 5
	CMD_TIMEOUT     = 5 * time.Millisecond
)

var (
	ERR_MAX_RETRIES = errors.New("CMD_MAX_RETRIES reached while attempting to send")
	ERR_SEND_ABORT  = errors.New("send has been aborted")
)

type BaseCommand struct {
	node      *IONode
	msg       canbus.CANMsg
	ack       chan canbus.CANMsg
	abort     chan struct{}
	abortOnce sync.Once
}

func newPinCommand(node *IONode, cmd uint16, pin int, payload ...byte) *BaseCommand {
	return &BaseCommand{
		node: node,
		msg: canbus.CANMsg{
			ID:   node.id,
			Cmd:  cmd,
			Data: append([]byte{byte(pin)}, payload...),
		},
	}
}

// Sends the current command and waits for a response/acknowledgment from the node.
// Will retry commands that are not acknowledged within CMD_TIMEOUT up to CMD_MAX_RETRIES.
// Can be canceled with Abort.
// Returns the response to the message for upstream processing should it be necessary
// Returns an error if the maximum retries are reached without an acknowledgement.
func (c *BaseCommand) Process() (resp canbus.CANMsg, err error) {
	if c.ack == nil {
		c.ack = make(chan canbus.CANMsg, 1)
	}

	if c.abort == nil {
		c.abort = make(chan struct{})
	}

	// register the callback with the node
	c.node.register(c)
	defer c.node.unregister(c)

	// attempt initial sending
	err = c.node.SendMsg(c.msg)
	if err != nil {
		return resp, err
	}

	for i := 1; ; i++ {
		if c.await(&resp) {
			return resp, nil
		}
		select {
		case <-c.abort:
			return canbus.CANMsg{}, ERR_SEND_ABORT
		default:
		}

		if i == CMD_MAX_RETRIES {
			// we have exhausted MAX_RETRIES
			return canbus.CANMsg{}, ERR_MAX_RETRIES
		}
		err = c.node.SendMsg(c.msg)
		if err != nil {
			return canbus.CANMsg{}, err
		}
	}
}

// await waits one CMD_TIMEOUT for a matching acknowledgement. Echoes that do
// not match are dropped without ending the wait.
func (c *BaseCommand) await(resp *canbus.CANMsg) bool {
	timeout := time.NewTimer(CMD_TIMEOUT)
	defer timeout.Stop()

	for {
		select {
		case msg := <-c.ack:
			if c.verify(msg) {
				*resp = msg
				return true
			}

		case <-c.abort:
			return false

		case <-timeout.C:
			return false
		}
	}
}

// the node echoes the command and the pin it acts on
func (c *BaseCommand) verify(msg canbus.CANMsg) bool {
	if msg.Cmd != c.msg.Cmd {
		return false
	}
	if !isPinCommand(c.msg.Cmd) || len(c.msg.Data) == 0 {
		return true
	}
	return len(msg.Data) > 0 && msg.Data[0] == c.msg.Data[0]
}

// ID keys pending commands by command and pin so commands on different pins can
// be in flight at the same time.
func (c *BaseCommand) ID() uint32 {
	return commandKey(c.msg)
}

func commandKey(msg canbus.CANMsg) uint32 {
	key := uint32(msg.Cmd) << 8
	if isPinCommand(msg.Cmd) && len(msg.Data) > 0 {
		key |= uint32(msg.Data[0])
	}
	return key
}

func isPinCommand(cmd uint16) bool {
	return cmd != CMD_VERSION && cmd != CMD_ALLSTOP
}

func (c *BaseCommand) Msg() canbus.CANMsg {
	return c.msg
}

func (c *BaseCommand) Abort() error {
	if c.abort == nil {
		return errors.New("send not yet attempted")
	}

	c.abortOnce.Do(func() { close(c.abort) })
	return nil
}

func (c *BaseCommand) Ack(msg canbus.CANMsg) {
	select {
	case c.ack <- msg:
	default:
	}
}
