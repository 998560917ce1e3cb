package drive

import (
	"errors"

	deverr "github.com/CodedInternet/gorover/onboard/errors"
	"github.com/CodedInternet/gorover/onboard/hardware"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Train is the part of the drive train the control loop drives.
type Train interface {
	IsConnected() bool
	SetDutyCycle(w hardware.Wheel, dutyCycle float64) error
	SetDirection(w hardware.Wheel, forward bool) error
	SetBrakes(engaged bool) error
	TakeClicks(w hardware.Wheel) (uint32, error)
	ClearClicks() error
}

// motion holds all mutable state of the drive. It is owned by the controller
// goroutine and never touched from anywhere else.
type motion struct {
	train Train
	log   *zap.Logger

	id       uuid.UUID
	velocity int
	bias     int
	target   MotionTarget
	wheels   [2]WheelState
	loop     ControlLoopState
	brakes   bool
	ticks    int
	maxTicks int
	reason   StopReason

	// outputs on the port are stale and are rewritten on the next connected tick
	pending      bool
	pendingReset bool
	// a port operation failed, the next tick is idle
	skipTick bool
}

func newMotion(train Train, log *zap.Logger) *motion {
	return &motion{
		train:  train,
		log:    log,
		brakes: true,
	}
}

func (m *motion) turn(degrees float64, velocity int) error {
	clicks := DegreesToClicks(degrees)
	err := m.move(0, velocity)
	m.target = MotionTarget{LeftClicks: clicks, RightClicks: clicks}
	m.log.Info("turn", zap.Stringer("movement", m.id), zap.Float64("degrees", degrees), zap.Uint32("clicks", clicks))
	return err
}

func (m *motion) moveDistance(cm float64, velocity int) error {
	clicks := CentimetersToClicks(cm)
	err := m.move(velocity, 0)
	m.target = MotionTarget{LeftClicks: clicks, RightClicks: clicks}
	m.log.Info("move distance", zap.Stringer("movement", m.id), zap.Float64("cm", cm), zap.Uint32("clicks", clicks))
	return err
}

// move arms a new movement. Velocity carries forward/backward travel and bias
// the differential between the wheels, both in percent.
func (m *motion) move(velocity, bias int) error {
	velocity = clampInt(velocity, -MaxMotorSpeed, MaxMotorSpeed)
	bias = clampInt(bias, -MaxMotorSpeed, MaxMotorSpeed)

	m.id = uuid.New()
	m.velocity, m.bias = velocity, bias
	m.target = MotionTarget{}
	m.ticks = 0
	m.reason = StopNone
	m.loop = ControlLoopState{
		DesiredVelocityClicks: int32(MaxSpeedPerInterval * absInt(velocity) / 100),
		DesiredBiasClicks:     int32(MaxSpeedPerInterval * absInt(bias) / 100),
		PIDEnabled:            true,
		Moving:                velocity != 0 || bias != 0,
	}
	m.wheels[hardware.LeftWheel] = WheelState{
		Velocity: Clamp(float64(MaxMotorSpeed*absInt(velocity+bias)/100), 0, MaxMotorSpeed),
		Forward:  velocity+bias >= 0,
	}
	m.wheels[hardware.RightWheel] = WheelState{
		Velocity: Clamp(float64(MaxMotorSpeed*absInt(velocity-bias)/100), 0, MaxMotorSpeed),
		Forward:  velocity-bias >= 0,
	}
	m.brakes = false

	m.log.Info("move",
		zap.Stringer("movement", m.id),
		zap.Int("velocity", velocity),
		zap.Int("bias", bias),
		zap.Float64("left", m.wheels[hardware.LeftWheel].Velocity),
		zap.Float64("right", m.wheels[hardware.RightWheel].Velocity),
	)

	m.pendingReset = true
	return m.output("move", m.flush)
}

func (m *motion) stopMotors(reason StopReason) error {
	if m.loop.Moving {
		m.reason = reason
		m.log.Info("stop",
			zap.Stringer("movement", m.id),
			zap.String("reason", string(reason)),
			zap.Uint64("left_clicks", m.wheels[hardware.LeftWheel].ClicksMoved),
			zap.Uint64("right_clicks", m.wheels[hardware.RightWheel].ClicksMoved),
			zap.Int("ticks", m.ticks),
		)
	}
	m.loop.Moving = false
	return m.setBrakesEnabled(true)
}

// setBrakesEnabled engaging the brakes also stops both wheels.
func (m *motion) setBrakesEnabled(enabled bool) error {
	m.brakes = enabled
	if enabled {
		if m.loop.Moving {
			m.reason = StopBrakes
		}
		m.loop.Moving = false
		m.wheels[hardware.LeftWheel].Velocity = 0
		m.wheels[hardware.RightWheel].Velocity = 0
	}

	return m.output("brakes", func() error {
		err := m.train.SetBrakes(enabled)
		if enabled {
			err = multierr.Combine(err,
				m.train.SetDutyCycle(hardware.LeftWheel, 0),
				m.train.SetDutyCycle(hardware.RightWheel, 0),
			)
		}
		return err
	})
}

// slowMotorsForFinalPositioning latches the final approach: the correction is
// switched off and neither wheel runs faster than SlowPositioningSpeed.
func (m *motion) slowMotorsForFinalPositioning() error {
	m.loop.SpeedReduced = true
	m.loop.PIDEnabled = false

	var slowed []hardware.Wheel
	for _, w := range hardware.Wheels {
		if m.wheels[w].Velocity > SlowPositioningSpeed {
			m.wheels[w].Velocity = SlowPositioningSpeed
			slowed = append(slowed, w)
		}
	}
	if len(slowed) == 0 {
		return nil
	}

	m.log.Debug("final positioning", zap.Stringer("movement", m.id))
	return m.output("slow", func() (err error) {
		for _, w := range slowed {
			err = multierr.Append(err, m.train.SetDutyCycle(w, SlowPositioningSpeed/100.0))
		}
		return
	})
}

// setVelocity forces the velocity of one wheel of a running movement. The
// slow-down latch of the movement is left as it is.
func (m *motion) setVelocity(w hardware.Wheel, velocity float64) error {
	if w != hardware.LeftWheel && w != hardware.RightWheel {
		return ErrUnknownWheel
	}
	if !m.loop.Moving {
		return ErrNotMoving
	}
	return m.setVelocities(map[hardware.Wheel]float64{w: velocity}, "velocity")
}

func (m *motion) setVelocities(velocities map[hardware.Wheel]float64, op string) error {
	for w, v := range velocities {
		m.wheels[w].Velocity = Clamp(v, 0, MaxMotorSpeed)
	}

	return m.output(op, func() (err error) {
		for _, w := range hardware.Wheels {
			if _, ok := velocities[w]; ok {
				err = multierr.Append(err, m.train.SetDutyCycle(w, m.wheels[w].Velocity/100))
			}
		}
		return
	})
}

// flush writes the complete output state of both wheels.
func (m *motion) flush() error {
	var err error
	if m.pendingReset {
		err = m.train.ClearClicks()
	}
	for _, w := range hardware.Wheels {
		err = multierr.Append(err, m.train.SetDutyCycle(w, m.wheels[w].Velocity/100))
		err = multierr.Append(err, m.train.SetDirection(w, m.wheels[w].Forward))
	}
	return multierr.Append(err, m.train.SetBrakes(m.brakes))
}

// output applies write to the port. While the port is disconnected the state
// is only recorded and rewritten once it is back.
func (m *motion) output(op string, write func() error) error {
	if !m.train.IsConnected() {
		m.pending = true
		m.log.Warn("port not connected, holding outputs until it reconnects",
			zap.String("op", op), zap.Stringer("movement", m.id))
		return nil
	}

	if m.pending {
		write = m.flush
	}

	if err := write(); err != nil {
		m.pending = true
		if errors.Is(err, deverr.ErrDisconnected) {
			m.log.Warn("port disconnected during write", zap.String("op", op), zap.Error(err))
			return nil
		}
		m.skipTick = true
		m.log.Error("port write failed", zap.String("op", op), zap.Error(err))
		return &deverr.TransportError{Op: op, Err: err}
	}

	m.pending = false
	m.pendingReset = false
	return nil
}

// tick runs one period of the control loop. ok reports whether the encoders
// were sampled.
func (m *motion) tick() (sample Sample, ok bool, err error) {
	if m.skipTick {
		m.skipTick = false
		return
	}
	if !m.train.IsConnected() {
		return
	}
	if m.pending {
		if err = m.output("resume", m.flush); err != nil || m.pending {
			return
		}
		m.log.Info("outputs restored", zap.Stringer("movement", m.id))
	}
	if !m.loop.Moving {
		return
	}

	left, leftErr := m.train.TakeClicks(hardware.LeftWheel)
	right, rightErr := m.train.TakeClicks(hardware.RightWheel)
	if err = multierr.Combine(leftErr, rightErr); err != nil {
		// a successful take has already reset the board counter
		if leftErr == nil {
			m.wheels[hardware.LeftWheel].ClicksMoved += uint64(left)
		}
		if rightErr == nil {
			m.wheels[hardware.RightWheel].ClicksMoved += uint64(right)
		}
		if errors.Is(err, deverr.ErrDisconnected) {
			return sample, false, nil
		}
		m.skipTick = true
		return sample, false, &deverr.TransportError{Op: "sample encoders", Err: err}
	}

	m.ticks++
	m.wheels[hardware.LeftWheel].ClicksMoved += uint64(left)
	m.wheels[hardware.RightWheel].ClicksMoved += uint64(right)
	sample = Sample{
		Clicks:  [2]uint32{left, right},
		Forward: [2]bool{m.wheels[hardware.LeftWheel].Forward, m.wheels[hardware.RightWheel].Forward},
		Period:  TickPeriod,
	}

	m.log.Debug("tick",
		zap.Stringer("movement", m.id),
		zap.Uint32("left", left),
		zap.Uint32("right", right),
		zap.Uint64("left_moved", m.wheels[hardware.LeftWheel].ClicksMoved),
		zap.Uint64("right_moved", m.wheels[hardware.RightWheel].ClicksMoved),
	)

	if m.loop.PIDEnabled {
		err = multierr.Append(err, m.correct(left, right))
	}
	err = multierr.Append(err, m.evaluate())

	return sample, true, err
}

// correct adjusts both wheel velocities towards the desired click rate. The
// integral couples the wheels so accumulated drift between them is driven out.
func (m *motion) correct(left, right uint32) error {
	l := &m.loop
	l.Integral = Clamp(l.Integral+float64(left)-float64(right), -IntegralLimit, IntegralLimit)
	l.IntegralError = IntegralErrorGain * l.Integral

	desired := float64(l.DesiredVelocityClicks + l.DesiredBiasClicks)
	l.LeftError = ProportionalGain * (desired - float64(left) - l.IntegralError)
	l.RightError = ProportionalGain * (desired - float64(right) + l.IntegralError)

	return m.setVelocities(map[hardware.Wheel]float64{
		hardware.LeftWheel:  corrected(m.wheels[hardware.LeftWheel].Velocity, l.LeftError),
		hardware.RightWheel: corrected(m.wheels[hardware.RightWheel].Velocity, l.RightError),
	}, "correct")
}

func corrected(velocity, e float64) float64 {
	pct := velocity*100/MaxMotorSpeed + e
	return Clamp(MaxMotorSpeed*pct/100, 0, MaxMotorSpeed)
}

// evaluate stops or slows the movement as the wheels approach their targets.
func (m *motion) evaluate() (err error) {
	for _, w := range hardware.Wheels {
		target := uint64(m.target.clicks(w))
		if target == 0 {
			continue
		}

		moved := m.wheels[w].ClicksMoved
		if moved >= target {
			err = multierr.Append(err, m.stopMotors(StopTargetReached))
		} else if !m.loop.SpeedReduced && moved+FinalApproachClicks >= target {
			err = multierr.Append(err, m.slowMotorsForFinalPositioning())
		}
	}

	if m.reached(hardware.LeftWheel) && m.reached(hardware.RightWheel) {
		err = multierr.Append(err, m.stopMotors(StopTargetReached))
	}

	if m.maxTicks > 0 && m.loop.Moving && m.target.limited() && m.ticks >= m.maxTicks {
		m.log.Warn("movement did not reach its target in time",
			zap.Stringer("movement", m.id), zap.Int("ticks", m.ticks))
		err = multierr.Append(err, m.stopMotors(StopTimeout))
	}

	return
}

func (m *motion) reached(w hardware.Wheel) bool {
	target := m.target.clicks(w)
	return target > 0 && m.wheels[w].ClicksMoved >= uint64(target)
}

func (m *motion) status(connected bool) Status {
	s := Status{
		Velocity:   m.velocity,
		Bias:       m.bias,
		Target:     m.target,
		Wheels:     m.wheels,
		Loop:       m.loop,
		Brakes:     m.brakes,
		Ticks:      m.ticks,
		Connected:  connected,
		Pending:    m.pending,
		StopReason: m.reason,
	}
	if m.id != uuid.Nil {
		s.MovementID = m.id.String()
	}
	return s
}
