package drive

import (
	"sync"

	"github.com/CodedInternet/gorover/onboard/hardware"
)

// fakeTrain is a drive train whose encoders count whatever the test feeds them.
type fakeTrain struct {
	lock sync.Mutex
	trainState

	failWrites error
	failTakes  [2]error
}

type trainState struct {
	connected  bool
	duty       [2]float64
	forward    [2]bool
	brakes     bool
	clicks     [2]uint32
	dutyWrites int
	takes      int
	clears     int
}

func newFakeTrain() *fakeTrain {
	return &fakeTrain{trainState: trainState{connected: true, brakes: true}}
}

func (f *fakeTrain) IsConnected() bool {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.connected
}

func (f *fakeTrain) setConnected(connected bool) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.connected = connected
}

func (f *fakeTrain) failNextWrite(err error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.failWrites = err
}

func (f *fakeTrain) failNextTake(w hardware.Wheel, err error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.failTakes[w] = err
}

func (f *fakeTrain) SetDutyCycle(w hardware.Wheel, dutyCycle float64) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if err := f.failWrites; err != nil {
		f.failWrites = nil
		return err
	}
	f.duty[w] = dutyCycle
	f.dutyWrites++
	return nil
}

func (f *fakeTrain) SetDirection(w hardware.Wheel, forward bool) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.forward[w] = forward
	return nil
}

func (f *fakeTrain) SetBrakes(engaged bool) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.brakes = engaged
	return nil
}

func (f *fakeTrain) TakeClicks(w hardware.Wheel) (uint32, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if err := f.failTakes[w]; err != nil {
		f.failTakes[w] = nil
		return 0, err
	}
	n := f.clicks[w]
	f.clicks[w] = 0
	f.takes++
	return n, nil
}

func (f *fakeTrain) ClearClicks() error {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.clicks = [2]uint32{}
	f.clears++
	return nil
}

// spin adds clicks to the encoders as if the wheels turned for one tick.
func (f *fakeTrain) spin(left, right uint32) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.clicks[hardware.LeftWheel] += left
	f.clicks[hardware.RightWheel] += right
}

func (f *fakeTrain) writes() int {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.dutyWrites
}

func (f *fakeTrain) snapshot() trainState {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.trainState
}
