package onboard

import (
	"context"
	"time"

	"github.com/CodedInternet/gorover/onboard/hardware"
	"go.uber.org/zap"
)

// Heartbeat blinks the board LED while the board is connected.
type Heartbeat struct {
	port     hardware.Port
	led      hardware.DigitalOutput
	interval time.Duration
	log      *zap.Logger
	on       bool
	blinks   int
}

func NewHeartbeat(port hardware.Port, pin int, interval time.Duration, log *zap.Logger) (*Heartbeat, error) {
	led, err := port.OpenDigitalOutput(pin)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Heartbeat{
		port:     port,
		led:      led,
		interval: interval,
		log:      log,
	}, nil
}

func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.blink()
		}
	}
}

func (h *Heartbeat) blink() {
	if !h.port.IsConnected() {
		return
	}

	h.on = !h.on
	if err := h.led.Write(h.on); err != nil {
		h.log.Debug("heartbeat write failed", zap.Error(err))
		return
	}
	h.blinks++
}
