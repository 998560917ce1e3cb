package onboard

import (
	"context"
	"fmt"
	"io"

	"github.com/CodedInternet/gorover/onboard/canbus"
	"github.com/CodedInternet/gorover/onboard/drive"
	"github.com/CodedInternet/gorover/onboard/hardware"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Robot is the assembled rover: a board backend, the drive train bound to it
// and the controller driving it.
type Robot struct {
	Config    RobotConfig
	Port      hardware.Port
	Train     *hardware.DriveTrain
	Drive     *drive.Controller
	Odometer  *Odometer
	Heartbeat *Heartbeat

	log     *zap.Logger
	tasks   []func(ctx context.Context) error
	closers []io.Closer
}

func NewRobot(ctx context.Context, config RobotConfig, log *zap.Logger) (r *Robot, err error) {
	if err = config.Validate(); err != nil {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}

	r = &Robot{
		Config:   config,
		Odometer: NewOdometer(),
		log:      log,
	}
	defer func() {
		if err != nil {
			r.Close()
			r = nil
		}
	}()

	if err = r.connect(ctx); err != nil {
		return
	}

	r.Train, err = hardware.BindDriveTrain(r.Port, config.Pins.Left.WheelPins, config.Pins.Right.WheelPins, config.PwmFrequency)
	if err != nil {
		return
	}

	r.Drive = drive.NewController(r.Train,
		drive.WithLogger(log.Named("drive")),
		drive.WithMaxMoveTicks(config.Control.MaxMoveTicks),
		drive.WithDisconnectTimeout(config.Control.DisconnectTimeout),
		drive.WithTickObserver(r.Odometer.Observe),
	)
	r.tasks = append(r.tasks, r.Drive.Run)

	if config.Heartbeat.Interval > 0 {
		r.Heartbeat, err = NewHeartbeat(r.Port, config.Pins.LED, config.Heartbeat.Interval, log.Named("heartbeat"))
		if err != nil {
			return
		}
		r.tasks = append(r.tasks, r.Heartbeat.Run)
	}

	return
}

func (r *Robot) connect(ctx context.Context) error {
	config := r.Config

	switch config.Backend {
	case BackendSimulator:
		sim := NewSimulatedPort(config.Pins.Left.WheelPins, config.Pins.Right.WheelPins, config.Simulator.Gain)
		r.Port = sim
		r.tasks = append(r.tasks, sim.Run)

	case BackendCAN:
		bus, err := canbus.NewCANBus(ctx, config.CAN.Bus, r.log.Named("canbus"))
		if err != nil {
			return err
		}
		r.closers = append(r.closers, bus)

		node, err := hardware.NewIONode(bus, config.CAN.Node, r.log.Named("node"))
		if err != nil {
			return err
		}
		r.Port = node
		r.closers = append(r.closers, node)
		r.tasks = append(r.tasks, func(ctx context.Context) error {
			return node.Watch(ctx, config.Control.ReconnectInterval)
		})

	case BackendSerial:
		board, err := hardware.OpenSerialBoard(config.Serial.Device, config.Serial.Baud, r.log.Named("serial"))
		if err != nil {
			return err
		}
		r.Port = board
		r.closers = append(r.closers, board)
		r.tasks = append(r.tasks, func(ctx context.Context) error {
			return board.Watch(ctx, config.Control.ReconnectInterval)
		})

	default:
		return fmt.Errorf("unknown backend %q", config.Backend)
	}

	r.log.Info("board backend ready", zap.String("backend", config.Backend), zap.Bool("connected", r.Port.IsConnected()))
	return nil
}

// Run runs the control loop and every supporting task until ctx is done or one
// of them fails.
func (r *Robot) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, task := range r.tasks {
		task := task
		g.Go(func() error {
			return task(ctx)
		})
	}
	return g.Wait()
}

// Diagnostics reads the motor driver sense lines.
func (r *Robot) Diagnostics() ([2]hardware.MotorState, error) {
	return r.Train.Diagnostics()
}

// Routine looks up a named routine from the config.
func (r *Robot) Routine(name string) (*Routine, error) {
	steps, ok := r.Config.Routines[name]
	if !ok {
		return nil, fmt.Errorf("unable to find routine '%s'", name)
	}
	return NewRoutine(name, steps, r.log.Named("routine")), nil
}

// Close releases the board, closers run in reverse order of opening.
func (r *Robot) Close() (err error) {
	for i := len(r.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, r.closers[i].Close())
	}
	r.closers = nil
	return
}
