package hardware

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodedInternet/gorover/onboard/canbus"
	deverr "github.com/CodedInternet/gorover/onboard/errors"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// IONode is an I/O board that sits on a CAN bus. Every channel operation is a
// command frame the node acknowledges.
type IONode struct {
	id          uint32
	bus         canbus.CANBusInterface
	log         *zap.Logger
	lock        *sync.Mutex
	pendingLock sync.Mutex
	pendingCmd  map[uint32]*BaseCommand
	rx          chan canbus.CANMsg
	pins        pinRegistry
	connected   atomic.Bool
	closed      chan struct{}
	closeOnce   sync.Once
}

// NewIONode listens for the node on the bus and performs the version handshake.
// A node that does not answer yet is returned disconnected, Watch brings it up
// once it appears. An incompatible firmware is an error.
func NewIONode(bus canbus.CANBusInterface, id uint32, log *zap.Logger) (n *IONode, err error) {
	n = newIONode(bus, id, log)

	err = n.handshake()
	if errors.Is(err, ERR_MAX_RETRIES) {
		n.log.Warn("node did not answer, waiting for it to come up")
		return n, nil
	}
	if err != nil {
		n.Close()
		return nil, err
	}

	return n, nil
}

func newIONode(bus canbus.CANBusInterface, id uint32, log *zap.Logger) *IONode {
	if log == nil {
		log = zap.NewNop()
	}

	n := &IONode{
		id:         id,
		bus:        bus,
		log:        log.With(zap.String("node", fmt.Sprintf("0x%x", id))),
		lock:       new(sync.Mutex),
		pendingCmd: make(map[uint32]*BaseCommand),
		rx:         make(chan canbus.CANMsg, 8),
		closed:     make(chan struct{}),
	}

	go n.listen()

	return n
}

func (n *IONode) SendMsg(msg canbus.CANMsg) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	return n.bus.SendMsg(msg)
}

func (n *IONode) IsConnected() bool {
	return n.connected.Load()
}

func (n *IONode) OpenPwmOutput(pin, frequencyHz int) (PwmOutput, error) {
	return n.pins.open(n, pinConfig{Pin: pin, Mode: PinModePwm, Frequency: frequencyHz}, n.IsConnected())
}

func (n *IONode) OpenDigitalOutput(pin int) (DigitalOutput, error) {
	return n.pins.open(n, pinConfig{Pin: pin, Mode: PinModeDigitalOut}, n.IsConnected())
}

func (n *IONode) OpenDigitalInput(pin int) (DigitalInput, error) {
	return n.pins.open(n, pinConfig{Pin: pin, Mode: PinModeDigitalIn}, n.IsConnected())
}

func (n *IONode) OpenAnalogInput(pin int) (AnalogInput, error) {
	return n.pins.open(n, pinConfig{Pin: pin, Mode: PinModeAnalogIn}, n.IsConnected())
}

// Watch re-probes the node while it is lost, until ctx is done.
func (n *IONode) Watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.closed:
			return nil
		case <-ticker.C:
			if n.IsConnected() {
				continue
			}
			if err := n.handshake(); err != nil {
				n.log.Debug("node still unavailable", zap.Error(err))
			}
		}
	}
}

// Close stops all outputs on the node and stops listening.
func (n *IONode) Close() error {
	var err error
	n.closeOnce.Do(func() {
		if n.IsConnected() {
			_, err = (&BaseCommand{node: n, msg: canbus.CANMsg{ID: n.id, Cmd: CMD_ALLSTOP}}).Process()
		}
		n.connected.Store(false)
		n.abortPending()
		close(n.closed)
	})
	return err
}

func (n *IONode) handshake() error {
	vc := &BaseCommand{
		node: n,
		msg: canbus.CANMsg{
			ID:  n.id,
			Cmd: CMD_VERSION,
		},
	}

	resp, err := vc.Process()
	if err != nil {
		return err
	}

	if err = checkFirmware(string(resp.Data), NODE_VERSION); err != nil {
		return fmt.Errorf("unable to use node %d: %w", n.id, err)
	}

	if err = n.pins.replay(n); err != nil {
		return err
	}

	n.connected.Store(true)
	n.log.Info("node connected", zap.String("firmware", string(resp.Data)))
	return nil
}

// exec runs a pin command while the node is connected. A node that stops
// acknowledging is marked lost.
func (n *IONode) exec(cmd uint16, pin int, payload ...byte) (canbus.CANMsg, error) {
	if !n.IsConnected() {
		return canbus.CANMsg{}, deverr.HardwareDisconnectedError{Device: fmt.Sprintf("node 0x%x", n.id)}
	}

	resp, err := newPinCommand(n, cmd, pin, payload...).Process()
	if err != nil {
		if errors.Is(err, ERR_MAX_RETRIES) || errors.Is(err, deverr.ErrDisconnected) {
			if n.connected.CompareAndSwap(true, false) {
				n.log.Warn("node lost", zap.Error(err))
			}
		}
		return resp, pkgerrors.Wrapf(err, "node 0x%x cmd 0x%04x pin %d", n.id, cmd, pin)
	}
	return resp, nil
}

func (n *IONode) configure(cfg pinConfig) error {
	payload := make([]byte, 3)
	payload[0] = byte(cfg.Mode)
	binary.LittleEndian.PutUint16(payload[1:], uint16(cfg.Frequency))

	// configure also runs during the handshake, before the node counts as connected
	_, err := newPinCommand(n, CMD_OPEN_PIN, cfg.Pin, payload...).Process()
	return err
}

func (n *IONode) setDutyCycle(pin int, duty float64) error {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, uint16(duty*0xFFFF))
	_, err := n.exec(CMD_SET_PWM, pin, payload...)
	return err
}

func (n *IONode) writeDigital(pin int, value bool) error {
	var b byte
	if value {
		b = 1
	}
	_, err := n.exec(CMD_SET_DIGITAL, pin, b)
	return err
}

func (n *IONode) readDigital(pin int) (bool, error) {
	resp, err := n.exec(CMD_GET_DIGITAL, pin)
	if err != nil {
		return false, err
	}
	if len(resp.Data) < 2 {
		return false, fmt.Errorf("short digital read from node 0x%x pin %d", n.id, pin)
	}
	return resp.Data[1] != 0, nil
}

func (n *IONode) pulses(pin int, op pulseOp) (uint32, error) {
	cmd := uint16(CMD_GET_PULSES)
	switch op {
	case pulseClear:
		_, err := n.exec(CMD_CLEAR_PULSES, pin)
		return 0, err
	case pulseTake:
		cmd = CMD_TAKE_PULSES
	}

	resp, err := n.exec(cmd, pin)
	if err != nil {
		return 0, err
	}
	if len(resp.Data) < 5 {
		return 0, fmt.Errorf("short pulse count from node 0x%x pin %d", n.id, pin)
	}
	return binary.LittleEndian.Uint32(resp.Data[1:5]), nil
}

// analog readings are reported in millivolts
func (n *IONode) readAnalog(pin int) (float64, error) {
	resp, err := n.exec(CMD_GET_ANALOG, pin)
	if err != nil {
		return 0, err
	}
	if len(resp.Data) < 3 {
		return 0, fmt.Errorf("short analog read from node 0x%x pin %d", n.id, pin)
	}
	return float64(binary.LittleEndian.Uint16(resp.Data[1:3])) / 1000, nil
}

func (n *IONode) listen() {
	n.bus.AddListener(n.id, n.rx)

	for {
		select {
		case msg := <-n.rx:
			n.routeACK(msg)
		case <-n.closed:
			return
		}
	}
}

func (n *IONode) register(c *BaseCommand) {
	n.pendingLock.Lock()
	defer n.pendingLock.Unlock()

	n.pendingCmd[c.ID()] = c
}

func (n *IONode) unregister(c *BaseCommand) {
	n.pendingLock.Lock()
	defer n.pendingLock.Unlock()

	if n.pendingCmd[c.ID()] == c {
		delete(n.pendingCmd, c.ID())
	}
}

func (n *IONode) abortPending() {
	n.pendingLock.Lock()
	defer n.pendingLock.Unlock()

	for _, cmd := range n.pendingCmd {
		cmd.Abort()
	}
}

func (n *IONode) routeACK(resp canbus.CANMsg) {
	n.pendingLock.Lock()
	cmd, ok := n.pendingCmd[commandKey(resp)]
	n.pendingLock.Unlock()

	if ok {
		cmd.Ack(resp)
	}
}
