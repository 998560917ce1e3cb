package drive

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodedInternet/gorover/onboard/hardware"
	"go.uber.org/zap"
)

var (
	ErrConnectionLost    = errors.New("drive train disconnected for too long")
	ErrControllerStopped = errors.New("drive controller is not running")
	ErrAlreadyRunning    = errors.New("drive controller is already running")
	ErrUnknownWheel      = errors.New("unknown wheel")
	ErrNotMoving         = errors.New("robot is not moving")
)

type command struct {
	name  string
	apply func(m *motion) error
	reply chan error
}

// Controller runs the control loop of a differential drive. All state is owned
// by the goroutine inside Run, commands are handed to it through a queue and
// applied between ticks.
type Controller struct {
	train  Train
	motion *motion
	log    *zap.Logger

	cmds              chan command
	ticks             <-chan time.Time
	observers         []TickObserver
	disconnectTimeout time.Duration

	statusLock sync.RWMutex
	status     Status

	running atomic.Bool
	done    chan struct{}
}

type Option func(c *Controller)

func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// WithTicks replaces the internal ticker, every value received runs one tick.
func WithTicks(ticks <-chan time.Time) Option {
	return func(c *Controller) {
		c.ticks = ticks
	}
}

// WithMaxMoveTicks stops movements with a target that have not reached it after
// n ticks. Zero disables the limit.
func WithMaxMoveTicks(n int) Option {
	return func(c *Controller) {
		c.motion.maxTicks = n
	}
}

func WithTickObserver(observer TickObserver) Option {
	return func(c *Controller) {
		c.observers = append(c.observers, observer)
	}
}

// WithDisconnectTimeout makes Run return ErrConnectionLost once the drive train
// has been disconnected for longer than d.
func WithDisconnectTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.disconnectTimeout = d
	}
}

// NewController prepares a controller for train. Commands are served by Run:
// until Run is started a command waits for it, bounded only by the context
// the command was given. Queries such as Status answer right away.
func NewController(train Train, opts ...Option) *Controller {
	c := &Controller{
		train:  train,
		motion: newMotion(train, nil),
		log:    zap.NewNop(),
		cmds:   make(chan command),
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	c.motion.log = c.log
	c.status = c.motion.status(train.IsConnected())

	return c
}

// Run executes commands and ticks until ctx is done or the drive train stays
// disconnected past the disconnect timeout. A moving robot is stopped on the
// way out.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	ticks := c.ticks
	if ticks == nil {
		ticker := time.NewTicker(TickPeriod)
		defer ticker.Stop()
		ticks = ticker.C
	}

	c.log.Info("control loop started", zap.Duration("period", TickPeriod))

	var lostSince time.Time
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()

		case cmd := <-c.cmds:
			err := cmd.apply(c.motion)
			if err != nil {
				c.log.Warn("command failed", zap.String("command", cmd.name), zap.Error(err))
			}
			c.publish()
			cmd.reply <- err

		case now := <-ticks:
			sample, sampled, err := c.motion.tick()
			if err != nil {
				c.log.Warn("tick failed", zap.Error(err))
			}
			if sampled {
				for _, observe := range c.observers {
					observe(sample)
				}
			}
			c.publish()

			if c.disconnectTimeout <= 0 {
				continue
			}
			if c.train.IsConnected() {
				lostSince = time.Time{}
			} else if lostSince.IsZero() {
				lostSince = now
			} else if now.Sub(lostSince) >= c.disconnectTimeout {
				c.log.Error("drive train lost", zap.Duration("after", now.Sub(lostSince)))
				return ErrConnectionLost
			}
		}
	}
}

func (c *Controller) shutdown() {
	if !c.motion.loop.Moving {
		return
	}
	if err := c.motion.stopMotors(StopShutdown); err != nil {
		c.log.Warn("unable to stop motors on shutdown", zap.Error(err))
	}
	c.publish()
}

func (c *Controller) publish() {
	s := c.motion.status(c.train.IsConnected())

	c.statusLock.Lock()
	c.status = s
	c.statusLock.Unlock()
}

// do hands apply to the loop goroutine and waits for its result.
func (c *Controller) do(ctx context.Context, name string, apply func(m *motion) error) error {
	cmd := command{name: name, apply: apply, reply: make(chan error, 1)}

	select {
	case c.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrControllerStopped
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Move drives with velocity and bias in percent, -100..100. There is no
// distance limit, the robot moves until told otherwise.
func (c *Controller) Move(ctx context.Context, velocity, bias int) error {
	return c.do(ctx, "move", func(m *motion) error {
		return m.move(velocity, bias)
	})
}

// Turn rotates on the spot by degrees. The sign of velocity sets the direction,
// positive turns clockwise.
func (c *Controller) Turn(ctx context.Context, degrees float64, velocity int) error {
	return c.do(ctx, "turn", func(m *motion) error {
		return m.turn(degrees, velocity)
	})
}

// MoveDistance travels cm centimeters. The sign of velocity sets the direction.
func (c *Controller) MoveDistance(ctx context.Context, cm float64, velocity int) error {
	return c.do(ctx, "move distance", func(m *motion) error {
		return m.moveDistance(cm, velocity)
	})
}

func (c *Controller) Stop(ctx context.Context) error {
	return c.do(ctx, "stop", func(m *motion) error {
		m.target = MotionTarget{}
		return m.stopMotors(StopCommanded)
	})
}

func (c *Controller) SetBrakesEnabled(ctx context.Context, enabled bool) error {
	return c.do(ctx, "brakes", func(m *motion) error {
		return m.setBrakesEnabled(enabled)
	})
}

// SetWheelVelocity forces the velocity of a single wheel in percent, 0..100.
// A running correction keeps adjusting from the new value. A stopped robot
// stays stopped and ErrNotMoving is returned.
func (c *Controller) SetWheelVelocity(ctx context.Context, w hardware.Wheel, velocity float64) error {
	if w != hardware.LeftWheel && w != hardware.RightWheel {
		return ErrUnknownWheel
	}
	return c.do(ctx, "wheel velocity", func(m *motion) error {
		return m.setVelocity(w, velocity)
	})
}

func (c *Controller) Status() Status {
	c.statusLock.RLock()
	defer c.statusLock.RUnlock()

	return c.status
}

func (c *Controller) IsRobotMoving() bool {
	return c.Status().Loop.Moving
}

func (c *Controller) LeftVelocity() float64 {
	return c.Status().Wheels[hardware.LeftWheel].Velocity
}

func (c *Controller) RightVelocity() float64 {
	return c.Status().Wheels[hardware.RightWheel].Velocity
}

// WaitUntilStopped polls until the robot is no longer moving.
func (c *Controller) WaitUntilStopped(ctx context.Context, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for c.IsRobotMoving() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrControllerStopped
		case <-ticker.C:
		}
	}
	return nil
}
