package autosave

import (
	"sync"
	"time"
)

type debounceOptions struct {
	leading  bool
	trailing bool
}

// DebounceOption configures a Debouncer.
type DebounceOption func(*debounceOptions)

// WithLeading makes the first call of a burst run immediately.
func WithLeading(leading bool) DebounceOption {
	return func(o *debounceOptions) { o.leading = leading }
}

// WithTrailing controls whether the last call of a burst runs once the quiet
// period elapses. Enabled by default.
func WithTrailing(trailing bool) DebounceOption {
	return func(o *debounceOptions) { o.trailing = trailing }
}

// Debouncer delays fn until delay has passed without another Invoke, then runs
// it once with the arguments of the latest call.
type Debouncer[T any] struct {
	clock Clock
	delay time.Duration
	fn    func(T)
	opts  debounceOptions

	mu      sync.Mutex
	timer   Timer
	gen     uint64
	pending bool
	// running counts calls of fn that have started and not returned yet.
	running  int
	args     T
	lastCall time.Time
}

func NewDebouncer[T any](clock Clock, delay time.Duration, fn func(T), opts ...DebounceOption) *Debouncer[T] {
	if clock == nil {
		clock = SystemClock()
	}
	o := debounceOptions{trailing: true}
	for _, opt := range opts {
		opt(&o)
	}
	return &Debouncer[T]{
		clock: clock,
		delay: delay,
		fn:    fn,
		opts:  o,
	}
}

// Invoke (re)starts the quiet period with args as the latest arguments.
func (d *Debouncer[T]) Invoke(args T) {
	d.mu.Lock()
	now := d.clock.Now()
	quiet := d.lastCall.IsZero() || now.Sub(d.lastCall) >= d.delay
	d.lastCall = now

	runNow := d.opts.leading && d.timer == nil && quiet
	if runNow {
		var zero T
		d.args = zero
		d.pending = false
	} else {
		d.args = args
		d.pending = d.opts.trailing
	}
	d.restartLocked()
	if runNow {
		d.running++
	}
	d.mu.Unlock()

	if runNow {
		d.call(args)
	}
}

// Cancel drops the pending call, if any. Safe to call at any time.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	var zero T
	d.args = zero
	d.pending = false
}

// Flush runs the pending trailing call immediately. It returns false when
// nothing was pending.
func (d *Debouncer[T]) Flush() bool {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return false
	}
	args := d.args
	var zero T
	d.args = zero
	d.pending = false
	d.stopLocked()
	d.running++
	d.mu.Unlock()

	d.call(args)
	return true
}

// Pending reports whether a trailing call is scheduled or fn is still
// running with the arguments of a previous one.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending || d.running > 0
}

// call runs fn and drops the running count taken by the caller.
func (d *Debouncer[T]) call(args T) {
	defer func() {
		d.mu.Lock()
		d.running--
		d.mu.Unlock()
	}()
	if d.fn != nil {
		d.fn(args)
	}
}

func (d *Debouncer[T]) restartLocked() {
	d.stopLocked()
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer[T]) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	// a callback that already started waiting on mu sees the bump and bails
	d.gen++
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	if !d.pending {
		d.mu.Unlock()
		return
	}
	args := d.args
	var zero T
	d.args = zero
	d.pending = false
	d.running++
	d.mu.Unlock()

	d.call(args)
}
