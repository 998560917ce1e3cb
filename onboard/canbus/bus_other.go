//go:build !linux

package canbus

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

type CANBus struct{}

func NewCANBus(ctx context.Context, ifname string, log *zap.Logger) (*CANBus, error) {
	return nil, errors.New("socketcan is only available on linux")
}

func (c *CANBus) AddListener(nodeId uint32, rxchan chan CANMsg) {}

func (c *CANBus) SendMsg(msg CANMsg) error {
	return errors.New("socketcan is only available on linux")
}

func (c *CANBus) Down() bool { return true }

func (c *CANBus) Close() error { return nil }
