package asyncfsm

import "time"

// parkDuration is the deadline used while no timeout is armed. The timer is
// pushed far into the future instead of being stopped and recreated.
const parkDuration = 100 * 365 * 24 * time.Hour

// stateTimer is the single timer owned by a running instance. It is created
// once and only ever reset.
type stateTimer struct {
	timer *time.Timer
	armed bool
}

func newStateTimer() *stateTimer {
	return &stateTimer{timer: time.NewTimer(parkDuration)}
}

// C is the expiry channel. Since Go 1.23 Reset guarantees no stale value is
// delivered after the call.
func (t *stateTimer) C() <-chan time.Time {
	return t.timer.C
}

// arm restarts the timer to fire after d
func (t *stateTimer) arm(d time.Duration) {
	t.timer.Reset(d)
	t.armed = true
}

// park disarms the timer by moving its deadline out of reach
func (t *stateTimer) park() {
	t.timer.Reset(parkDuration)
	t.armed = false
}

// Armed reports whether a timeout is pending
func (t *stateTimer) Armed() bool {
	return t.armed
}

func (t *stateTimer) stop() {
	t.timer.Stop()
	t.armed = false
}
