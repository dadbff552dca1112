package cart

import (
	"sync"
	"time"
)

// debouncer coalesces a burst of schedule calls into one callback: each call
// cancels the previous timer and starts a new one, so only the last scheduled
// fn within the window runs. stop cancels the pending timer permanently;
// after stop, schedule is a no-op.
type debouncer struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func (d *debouncer) schedule(delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(delay, fn)
}

// cancel stops the pending timer without disabling future schedules.
func (d *debouncer) cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
