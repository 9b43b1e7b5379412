package session

import (
	"sync"
	"time"
)

// watchdog raises a timeout event when no frame arrives for the configured
// idle period. It fires once per idle period; the next arriving frame re-arms
// it. A quiet connection is not an error, deciding what to do is on the
// subscriber (typically a reconnect).
type watchdog struct {
	fire func(idle time.Duration)

	mu      sync.Mutex
	d       time.Duration
	last    time.Time
	timer   *time.Timer
	fired   bool
	stopped bool
}

func newWatchdog(d time.Duration, fire func(idle time.Duration)) *watchdog {
	w := &watchdog{fire: fire, d: d, last: time.Now()}
	if d > 0 {
		w.timer = time.AfterFunc(d, w.expire)
	}
	return w
}

// kick records activity and re-arms the timer.
func (w *watchdog) kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.d <= 0 {
		return
	}
	w.last = time.Now()
	w.fired = false
	w.timer.Reset(w.d)
}

// rearm replaces the idle threshold. A zero duration disables the watchdog
// until the next rearm.
func (w *watchdog) rearm(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.d = d
	w.fired = false
	if w.timer != nil {
		w.timer.Stop()
	}
	if d <= 0 {
		return
	}
	w.last = time.Now()
	if w.timer == nil {
		w.timer = time.AfterFunc(d, w.expire)
	} else {
		w.timer.Reset(d)
	}
}

func (w *watchdog) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *watchdog) expire() {
	w.mu.Lock()
	if w.stopped || w.fired {
		w.mu.Unlock()
		return
	}
	w.fired = true
	idle := time.Since(w.last)
	w.mu.Unlock()
	w.fire(idle)
}
