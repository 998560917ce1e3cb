package hardware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	deverr "github.com/CodedInternet/gorover/onboard/errors"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	SERIAL_BAUD    = 115200
	SERIAL_TIMEOUT = 250 * time.Millisecond
)

var ERR_SERIAL_TIMEOUT = errors.New("no response from serial board")

// SerialBoard is an I/O board attached over a USB serial line. Each request is a
// single line and the board answers with "OK [values]" or "ERR message".
//
//	V                 firmware version
//	O <pin> <mode> <hz>  open pin
//	W <pin> <duty>    pwm duty cycle 0..1
//	D <pin> <0|1>     write digital
//	R <pin>           read digital
//	C <pin>           pulse count
//	X <pin>           take pulse count
//	Z <pin>           clear pulse count
//	A <pin>           analog volts
//	S                 stop all outputs
type SerialBoard struct {
	device    string
	open      func() (io.ReadWriteCloser, error)
	log       *zap.Logger
	lock      sync.Mutex
	port      io.ReadWriteCloser
	rbuf      []byte
	pins      pinRegistry
	connected atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once
}

// OpenSerialBoard opens the board on the given serial device. A device that is
// not present yet gives a disconnected board that Watch keeps retrying, an
// incompatible firmware is an error.
func OpenSerialBoard(device string, baud int, log *zap.Logger) (*SerialBoard, error) {
	if baud == 0 {
		baud = SERIAL_BAUD
	}

	b := newSerialBoard(device, func() (io.ReadWriteCloser, error) {
		port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
		if err != nil {
			return nil, err
		}
		if err = port.SetReadTimeout(SERIAL_TIMEOUT); err != nil {
			port.Close()
			return nil, err
		}
		return port, nil
	}, log)

	err := b.connect()
	var transportErr *deverr.TransportError
	if errors.As(err, &transportErr) {
		b.log.Warn("serial board unavailable, waiting for it", zap.Error(err))
		return b, nil
	}
	if err != nil {
		return nil, err
	}

	return b, nil
}

func newSerialBoard(device string, open func() (io.ReadWriteCloser, error), log *zap.Logger) *SerialBoard {
	if log == nil {
		log = zap.NewNop()
	}

	return &SerialBoard{
		device: device,
		open:   open,
		log:    log.With(zap.String("device", device)),
		closed: make(chan struct{}),
	}
}

func (b *SerialBoard) IsConnected() bool {
	return b.connected.Load()
}

func (b *SerialBoard) OpenPwmOutput(pin, frequencyHz int) (PwmOutput, error) {
	return b.pins.open(b, pinConfig{Pin: pin, Mode: PinModePwm, Frequency: frequencyHz}, b.IsConnected())
}

func (b *SerialBoard) OpenDigitalOutput(pin int) (DigitalOutput, error) {
	return b.pins.open(b, pinConfig{Pin: pin, Mode: PinModeDigitalOut}, b.IsConnected())
}

func (b *SerialBoard) OpenDigitalInput(pin int) (DigitalInput, error) {
	return b.pins.open(b, pinConfig{Pin: pin, Mode: PinModeDigitalIn}, b.IsConnected())
}

func (b *SerialBoard) OpenAnalogInput(pin int) (AnalogInput, error) {
	return b.pins.open(b, pinConfig{Pin: pin, Mode: PinModeAnalogIn}, b.IsConnected())
}

// Watch reopens the device while the board is lost, until ctx is done.
func (b *SerialBoard) Watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.closed:
			return nil
		case <-ticker.C:
			if b.IsConnected() {
				continue
			}
			if err := b.connect(); err != nil {
				b.log.Debug("serial board still unavailable", zap.Error(err))
			}
		}
	}
}

func (b *SerialBoard) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if b.IsConnected() {
			_, err = b.request("S")
		}
		b.drop()
		close(b.closed)
	})
	return err
}

func (b *SerialBoard) connect() error {
	port, err := b.open()
	if err != nil {
		return &deverr.TransportError{Op: "open " + b.device, Err: err}
	}

	b.lock.Lock()
	b.port = port
	b.rbuf = nil
	b.lock.Unlock()

	fields, err := b.request("V")
	if err != nil {
		b.drop()
		return err
	}

	version := strings.Join(fields, " ")
	if err = checkFirmware(version, SERIAL_VERSION); err != nil {
		b.drop()
		return fmt.Errorf("unable to use serial board %s: %w", b.device, err)
	}

	if err = b.pins.replay(b); err != nil {
		b.drop()
		return err
	}

	b.connected.Store(true)
	b.log.Info("serial board connected", zap.String("firmware", version))
	return nil
}

// drop closes the port and marks the board disconnected.
func (b *SerialBoard) drop() {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.dropLocked()
}

func (b *SerialBoard) dropLocked() {
	if b.port != nil {
		b.port.Close()
		b.port = nil
	}
	if b.connected.CompareAndSwap(true, false) {
		b.log.Warn("serial board lost")
	}
}

// request writes a single command line and waits for the reply. The values
// following OK are returned. A failing line drops the connection.
func (b *SerialBoard) request(format string, args ...interface{}) ([]string, error) {
	line := fmt.Sprintf(format, args...)

	b.lock.Lock()
	defer b.lock.Unlock()

	if b.port == nil {
		return nil, deverr.HardwareDisconnectedError{Device: b.device}
	}

	if _, err := io.WriteString(b.port, line+"\n"); err != nil {
		b.dropLocked()
		return nil, &deverr.TransportError{Op: line, Err: err}
	}

	reply, err := b.readLine()
	if err != nil {
		b.dropLocked()
		return nil, &deverr.TransportError{Op: line, Err: err}
	}

	fields := strings.Fields(reply)
	switch {
	case len(fields) > 0 && fields[0] == "OK":
		return fields[1:], nil
	case len(fields) > 0 && fields[0] == "ERR":
		return nil, fmt.Errorf("serial board rejected %q: %s", line, strings.Join(fields[1:], " "))
	default:
		return nil, fmt.Errorf("unexpected reply %q to %q", reply, line)
	}
}

func (b *SerialBoard) readLine() (string, error) {
	deadline := time.Now().Add(SERIAL_TIMEOUT)
	chunk := make([]byte, 64)

	for {
		if i := bytes.IndexByte(b.rbuf, '\n'); i >= 0 {
			line := strings.TrimSpace(string(b.rbuf[:i]))
			b.rbuf = b.rbuf[i+1:]
			return line, nil
		}
		if time.Now().After(deadline) {
			return "", ERR_SERIAL_TIMEOUT
		}

		// reads return empty once the port read timeout passes
		n, err := b.port.Read(chunk)
		b.rbuf = append(b.rbuf, chunk[:n]...)
		if err != nil {
			return "", err
		}
	}
}

func (b *SerialBoard) exec(format string, args ...interface{}) ([]string, error) {
	if !b.IsConnected() {
		return nil, deverr.HardwareDisconnectedError{Device: b.device}
	}
	return b.request(format, args...)
}

func (b *SerialBoard) configure(cfg pinConfig) error {
	_, err := b.request("O %d %d %d", cfg.Pin, uint8(cfg.Mode), cfg.Frequency)
	return err
}

func (b *SerialBoard) setDutyCycle(pin int, duty float64) error {
	_, err := b.exec("W %d %.4f", pin, duty)
	return err
}

func (b *SerialBoard) writeDigital(pin int, value bool) error {
	v := 0
	if value {
		v = 1
	}
	_, err := b.exec("D %d %d", pin, v)
	return err
}

func (b *SerialBoard) readDigital(pin int) (bool, error) {
	fields, err := b.exec("R %d", pin)
	if err != nil {
		return false, err
	}
	if len(fields) < 1 {
		return false, fmt.Errorf("short digital read from %s pin %d", b.device, pin)
	}
	return fields[0] == "1", nil
}

func (b *SerialBoard) pulses(pin int, op pulseOp) (uint32, error) {
	cmd := "C"
	switch op {
	case pulseClear:
		_, err := b.exec("Z %d", pin)
		return 0, err
	case pulseTake:
		cmd = "X"
	}

	fields, err := b.exec("%s %d", cmd, pin)
	if err != nil {
		return 0, err
	}
	if len(fields) < 1 {
		return 0, fmt.Errorf("short pulse count from %s pin %d", b.device, pin)
	}
	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad pulse count from %s pin %d: %w", b.device, pin, err)
	}
	return uint32(n), nil
}

func (b *SerialBoard) readAnalog(pin int) (float64, error) {
	fields, err := b.exec("A %d", pin)
	if err != nil {
		return 0, err
	}
	if len(fields) < 1 {
		return 0, fmt.Errorf("short analog read from %s pin %d", b.device, pin)
	}
	return strconv.ParseFloat(fields[0], 64)
}
