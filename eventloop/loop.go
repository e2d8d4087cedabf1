// Package eventloop provides the single-threaded scheduler the backup
// orchestrator runs on. Functions posted to a Loop, including timer
// callbacks, run one at a time on the goroutine that called Run.
package eventloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/valvemist/vmbackup/backup"
)

// ErrStopped is returned when work is posted to a loop that has exited.
const ErrStopped = errors.ConstError("event loop stopped")

// Loop is a cooperative event loop.
type Loop struct {
	clock clock.Clock

	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
}

// New returns a loop whose timers use clk.
func New(clk clock.Clock) *Loop {
	return &Loop{
		clock: clk,
		wake:  make(chan struct{}, 1),
	}
}

// Run executes posted functions until ctx is done. Work still queued when
// ctx is done is dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
	}()
	for {
		for f := l.next(); f != nil; f = l.next() {
			if ctx.Err() != nil {
				return nil
			}
			f()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	f := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return f
}

// Post queues f. It never blocks and returns false once the loop exited.
func (l *Loop) Post(f func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, f)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs f on the loop and waits for it to return.
func (l *Loop) Call(ctx context.Context, f func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		f()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc runs f on the loop once d has elapsed. It implements
// backup.Scheduler.
func (l *Loop) AfterFunc(d time.Duration, f func()) backup.Timer {
	t := &timer{}
	t.clockTimer = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped.Load() {
				return
			}
			t.ran.Store(true)
			f()
		})
	})
	return t
}

// timer is stoppable until its callback starts running on the loop, even
// when the clock already fired.
type timer struct {
	clockTimer clock.Timer
	stopped    atomic.Bool
	ran        atomic.Bool
}

// Stop is part of the backup.Timer interface.
func (t *timer) Stop() bool {
	if t.stopped.Swap(true) {
		return false
	}
	t.clockTimer.Stop()
	return !t.ran.Load()
}
