package calls

import (
	"sync"
	"time"
)

// DefaultRingTimeout is how long a call may ring before it becomes unanswered.
const DefaultRingTimeout = 30 * time.Second

// Timer is the part of *time.Timer the watcher needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules fn after d. time.AfterFunc satisfies it once wrapped.
type AfterFunc func(d time.Duration, fn func()) Timer

func realAfterFunc(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) }

// TimeoutWatcher keeps exactly one fire-once timer per ringing record.
//
// Firing only asks the expire callback to try ringing -> unanswered; the
// callback's conditional write makes a late timer harmless.
type TimeoutWatcher struct {
	window    time.Duration
	afterFunc AfterFunc
	clock     func() time.Time
	expire    func(id string)

	mu     sync.Mutex
	timers map[string]Timer
}

func NewTimeoutWatcher(window time.Duration, expire func(id string)) *TimeoutWatcher {
	if window <= 0 {
		window = DefaultRingTimeout
	}
	return &TimeoutWatcher{
		window:    window,
		afterFunc: realAfterFunc,
		clock:     time.Now,
		expire:    expire,
		timers:    make(map[string]Timer),
	}
}

// Window returns the configured ringing window.
func (w *TimeoutWatcher) Window() time.Duration { return w.window }

// Start arms the timer for id. The delay is measured from createdAt so that
// records re-armed after a restart keep their original deadline.
// Starting an id that already has a timer is a no-op.
func (w *TimeoutWatcher) Start(id string, createdAt time.Time) {
	delay := w.window
	if !createdAt.IsZero() {
		delay = createdAt.Add(w.window).Sub(w.clock())
	}
	if delay < 0 {
		delay = 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.timers[id]; ok {
		return
	}
	w.timers[id] = w.afterFunc(delay, func() { w.fire(id) })
}

// Stop cancels the timer for id, if any.
func (w *TimeoutWatcher) Stop(id string) {
	w.mu.Lock()
	t, ok := w.timers[id]
	delete(w.timers, id)
	w.mu.Unlock()
	if ok {
		t.Stop()
	}
}

// StopAll cancels every pending timer.
func (w *TimeoutWatcher) StopAll() {
	w.mu.Lock()
	timers := w.timers
	w.timers = make(map[string]Timer)
	w.mu.Unlock()
	for _, t := range timers {
		t.Stop()
	}
}

// Pending returns the number of armed timers.
func (w *TimeoutWatcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.timers)
}

func (w *TimeoutWatcher) fire(id string) {
	w.mu.Lock()
	_, armed := w.timers[id]
	delete(w.timers, id)
	w.mu.Unlock()
	if !armed || w.expire == nil {
		return
	}
	w.expire(id)
}
