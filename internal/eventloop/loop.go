// Package eventloop provides the single goroutine that owns all tracker
// state. Transport readers, timers and request handlers never touch that
// state directly; they post closures onto the loop and the loop runs them one
// at a time, in order.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/signalsfoundry/sattrack/timectrl"
)

// ErrClosed is returned when work is submitted to a loop that has exited.
var ErrClosed = errors.New("eventloop: closed")

const defaultQueueSize = 256

// Loop serialises posted closures and due timers onto one goroutine.
type Loop struct {
	sched *eventScheduler
	queue chan func()
	wake  chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// Option customises a Loop.
type Option func(*Loop)

// WithQueueSize sets how many posted closures may be buffered before Post
// blocks.
func WithQueueSize(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.queue = make(chan func(), n)
		}
	}
}

// New constructs a loop whose timers read time from clock.
func New(clock timectrl.Clock, opts ...Option) *Loop {
	l := &Loop{
		sched: newEventScheduler(clock),
		queue: make(chan func(), defaultQueueSize),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Post queues f to run on the loop. It reports false if the loop has exited.
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- f:
		return true
	case <-l.done:
		return false
	}
}

// Do runs f on the loop and waits for it to finish. It must not be called
// from the loop goroutine itself.
func (l *Loop) Do(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		f()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Schedule implements Timers. Callbacks run on the loop goroutine.
func (l *Loop) Schedule(at time.Time, f func()) string {
	id := l.sched.Schedule(at, f)
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return id
}

// Cancel implements Timers.
func (l *Loop) Cancel(id string) { l.sched.Cancel(id) }

// Now implements Timers.
func (l *Loop) Now() time.Time { return l.sched.Now() }

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Run processes posted closures and timers until ctx is cancelled. Pending
// work is dropped on exit.
func (l *Loop) Run(ctx context.Context) error {
	defer l.closeOnce.Do(func() { close(l.done) })

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		l.sched.RunDue()

		var timerC <-chan time.Time
		if next, ok := l.sched.NextDue(); ok {
			d := next.Sub(l.sched.Now())
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			return nil
		case f := <-l.queue:
			if f != nil {
				f()
			}
		case <-l.wake:
		case <-timerC:
		}
		timer.Stop()
	}
}
