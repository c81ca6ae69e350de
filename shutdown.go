package asyncfsm

import "sync/atomic"

// shutdownSignal is set at most once; the first mode wins
type shutdownSignal struct {
	mode atomic.Int32
	done chan struct{}
}

func newShutdownSignal() *shutdownSignal {
	return &shutdownSignal{done: make(chan struct{})}
}

// set records mode if nothing was set before. It reports whether this call won.
func (s *shutdownSignal) set(mode ShutdownMode) bool {
	if !s.mode.CompareAndSwap(int32(ShutdownNone), int32(mode)) {
		return false
	}
	close(s.done)
	return true
}

// Mode returns the recorded mode, or ShutdownNone
func (s *shutdownSignal) Mode() ShutdownMode {
	return ShutdownMode(s.mode.Load())
}

// Done is closed once a mode has been set
func (s *shutdownSignal) Done() <-chan struct{} {
	return s.done
}
