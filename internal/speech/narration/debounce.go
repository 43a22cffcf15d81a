package narration

import (
	"sync"
	"time"
)

// DefaultDebounceDelay is the quiet period before a rate change takes effect
const DefaultDebounceDelay = 300 * time.Millisecond

// Timer is a pending scheduled callback
type Timer interface {
	Stop() bool
}

// Scheduler runs callbacks after a delay
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemScheduler schedules on the wall clock
type SystemScheduler struct{}

func (SystemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Debouncer collapses a burst of submitted values into one call of apply
// with the last value, once no value arrived for the quiet period.
type Debouncer[T any] struct {
	mu        sync.Mutex
	delay     time.Duration
	scheduler Scheduler
	apply     func(T)

	timer   Timer
	pending T
	gen     uint64
}

func NewDebouncer[T any](delay time.Duration, scheduler Scheduler, apply func(T)) *Debouncer[T] {
	if scheduler == nil {
		scheduler = SystemScheduler{}
	}
	return &Debouncer[T]{
		delay:     delay,
		scheduler: scheduler,
		apply:     apply,
	}
}

// Submit records v and restarts the quiet period
func (d *Debouncer[T]) Submit(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.pending = v
	d.timer = d.scheduler.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	// a timer that fired while being superseded must not apply
	if gen != d.gen || d.timer == nil {
		d.mu.Unlock()
		return
	}
	v := d.pending
	d.timer = nil
	d.mu.Unlock()

	d.apply(v)
}

// Cancel drops the pending value, if any
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

// Pending reports whether a value is waiting for its quiet period to end
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
