package engine

import "time"

// retryTimer is the single transfer timer. Every arm or stop bumps the
// generation; a firing that carries an older generation is stale and
// must be ignored by the control loop.
type retryTimer struct {
	gen   uint64
	t     *time.Timer
	fire  chan<- uint64
	abort <-chan struct{}
}

func newRetryTimer(fire chan<- uint64, abort <-chan struct{}) *retryTimer {
	return &retryTimer{fire: fire, abort: abort}
}

func (rt *retryTimer) arm(d time.Duration) {
	rt.stop()
	gen := rt.gen
	rt.t = time.AfterFunc(d, func() {
		select {
		case rt.fire <- gen:
		case <-rt.abort:
		}
	})
}

func (rt *retryTimer) stop() {
	if rt.t != nil {
		rt.t.Stop()
		rt.t = nil
	}
	rt.gen++
}

// expire consumes a firing. It returns false for stale generations.
func (rt *retryTimer) expire(gen uint64) bool {
	if rt.t == nil || gen != rt.gen {
		return false
	}
	rt.t = nil
	return true
}

func (rt *retryTimer) armed() bool {
	return rt.t != nil
}
