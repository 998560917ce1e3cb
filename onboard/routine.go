package onboard

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	ROUTINE_POLL   = time.Second
	ROUTINE_SETTLE = 1500 * time.Millisecond
)

// Driver is what a routine needs from the drive.
type Driver interface {
	Move(ctx context.Context, velocity, bias int) error
	Turn(ctx context.Context, degrees float64, velocity int) error
	MoveDistance(ctx context.Context, cm float64, velocity int) error
	Stop(ctx context.Context) error
	WaitUntilStopped(ctx context.Context, poll time.Duration) error
}

// RoutineStep is one step of a scripted drive. Action is one of move_distance,
// turn, move, pause or stop.
type RoutineStep struct {
	Action   string        `yaml:"action"`
	Distance float64       `yaml:"distance,omitempty"`
	Degrees  float64       `yaml:"degrees,omitempty"`
	Velocity int           `yaml:"velocity,omitempty"`
	Bias     int           `yaml:"bias,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty"`
}

func (s RoutineStep) Validate() error {
	switch s.Action {
	case "move_distance", "turn", "move", "stop":
	case "pause":
		if s.Duration <= 0 {
			return fmt.Errorf("pause needs a duration")
		}
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
	return nil
}

func (s RoutineStep) String() string {
	switch s.Action {
	case "move_distance":
		return fmt.Sprintf("move %.1fcm at %d%%", s.Distance, s.Velocity)
	case "turn":
		return fmt.Sprintf("turn %.1f° at %d%%", s.Degrees, s.Velocity)
	case "move":
		return fmt.Sprintf("move at %d%% bias %d%%", s.Velocity, s.Bias)
	case "pause":
		return fmt.Sprintf("pause %s", s.Duration)
	default:
		return s.Action
	}
}

// DemoRoutine drives forward, spins a full turn each way and drives back.
func DemoRoutine() []RoutineStep {
	return []RoutineStep{
		{Action: "move_distance", Distance: 120, Velocity: 50},
		{Action: "turn", Degrees: 360, Velocity: 50},
		{Action: "pause", Duration: ROUTINE_SETTLE},
		{Action: "turn", Degrees: 360, Velocity: -50},
		{Action: "pause", Duration: ROUTINE_SETTLE},
		{Action: "move_distance", Distance: 120, Velocity: 50},
		{Action: "move_distance", Distance: 120, Velocity: -50},
	}
}

// Routine runs steps one after another. Each limited motion is followed by a
// wait until the robot has stopped.
type Routine struct {
	Name  string
	Steps []RoutineStep
	Poll  time.Duration
	log   *zap.Logger
}

func NewRoutine(name string, steps []RoutineStep, log *zap.Logger) *Routine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Routine{
		Name:  name,
		Steps: steps,
		Poll:  ROUTINE_POLL,
		log:   log.With(zap.String("routine", name)),
	}
}

// Run stops the robot if ctx ends in the middle of the routine.
func (r *Routine) Run(ctx context.Context, d Driver) (err error) {
	defer func() {
		if ctx.Err() != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			d.Stop(stopCtx)
		}
	}()

	for i, step := range r.Steps {
		r.log.Info("step", zap.Int("index", i+1), zap.Stringer("step", step))

		if err = r.step(ctx, d, step); err != nil {
			return fmt.Errorf("routine %s step %d (%s): %w", r.Name, i+1, step, err)
		}
	}

	r.log.Info("routine finished")
	return nil
}

func (r *Routine) step(ctx context.Context, d Driver, step RoutineStep) error {
	switch step.Action {
	case "move_distance":
		if err := d.MoveDistance(ctx, step.Distance, step.Velocity); err != nil {
			return err
		}
		return d.WaitUntilStopped(ctx, r.Poll)
	case "turn":
		if err := d.Turn(ctx, step.Degrees, step.Velocity); err != nil {
			return err
		}
		return d.WaitUntilStopped(ctx, r.Poll)
	case "move":
		return d.Move(ctx, step.Velocity, step.Bias)
	case "stop":
		return d.Stop(ctx)
	case "pause":
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step.Duration):
			return nil
		}
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}
