//go:build linux

package canbus

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	deverr "github.com/CodedInternet/gorover/onboard/errors"
	pkgerrors "github.com/pkg/errors"
	"go.einride.tech/can/pkg/socketcan"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const sendTimeout = 20 * time.Millisecond

type CANBus struct {
	ifname string
	conn   net.Conn
	tx     *socketcan.Transmitter
	rx     *socketcan.Receiver
	log    *zap.Logger

	lock      sync.RWMutex
	listeners map[uint32]chan CANMsg
	down      atomic.Bool
}

func NewCANBus(ctx context.Context, ifname string, log *zap.Logger) (bus *CANBus, err error) {
	if log == nil {
		log = zap.NewNop()
	}

	conn, err := socketcan.DialContext(ctx, "can", ifname)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "socketcan dial %s", ifname)
	}

	bus = &CANBus{
		ifname:    ifname,
		conn:      conn,
		tx:        socketcan.NewTransmitter(conn),
		rx:        socketcan.NewReceiver(conn),
		log:       log.With(zap.String("bus", ifname)),
		listeners: make(map[uint32]chan CANMsg),
	}

	go bus.reader()

	return
}

func (c *CANBus) AddListener(nodeId uint32, rxchan chan CANMsg) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.listeners[nodeId] = rxchan
}

func (c *CANBus) SendMsg(msg CANMsg) error {
	frame, err := msg.Frame()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err = c.tx.TransmitFrame(ctx, frame); err != nil {
		if linkDown(err) {
			c.down.Store(true)
			return pkgerrors.Wrap(deverr.HardwareDisconnectedError{Device: c.ifname}, err.Error())
		}
		return pkgerrors.Wrapf(err, "transmit %s", frame.String())
	}

	c.down.Store(false)
	return nil
}

// Down reports whether the last transmit found the interface without a link.
func (c *CANBus) Down() bool {
	return c.down.Load()
}

func (c *CANBus) Close() error {
	return c.conn.Close()
}

func (c *CANBus) reader() {
	for c.rx.Receive() {
		frame := c.rx.Frame()
		msg, err := MsgFromFrame(frame)
		if err != nil {
			c.log.Debug("dropping frame", zap.Stringer("frame", frame), zap.Error(err))
			continue
		}

		c.lock.RLock()
		rx, ok := c.listeners[msg.ID]
		c.lock.RUnlock()
		if !ok {
			continue
		}

		select {
		case rx <- msg:
		default:
			c.log.Warn("listener busy, dropping frame", zap.Stringer("frame", frame))
		}
	}

	if err := c.rx.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.log.Error("receiver stopped", zap.Error(err))
	}
	c.down.Store(true)
}

func linkDown(err error) bool {
	return errors.Is(err, unix.ENETDOWN) || errors.Is(err, unix.ENODEV) || errors.Is(err, unix.ENXIO)
}
