// Package loop implements the cooperative scheduler that serializes all
// watcher state transitions onto a single goroutine.
//
// Every timer callback and every fetch completion is posted onto the loop,
// so the code that mutates watcher state (delivered sets, conditional
// markers, the poller population) runs one callback at a time and needs no
// locks. Network requests themselves run on their own goroutines; only
// their completion handlers are serialized.
package loop

import (
	"context"
	"time"
)

// workBuffer bounds how many callbacks can be queued while the loop is
// busy. Posting from a loop callback must never fill this in practice:
// population sizes are tens to low hundreds of pollers, each queueing at
// most a couple of callbacks per cycle.
const workBuffer = 256

// Loop is a single-goroutine cooperative scheduler.
//
// Work posted via [Loop.Post] runs serially on the goroutine that called
// [Loop.Run]. State that is only touched from posted callbacks therefore
// never needs synchronization.
type Loop struct {
	work chan func()
	done chan struct{}
}

// New creates a Loop. It does nothing until [Loop.Run] is called.
func New() *Loop {
	return &Loop{
		work: make(chan func(), workBuffer),
		done: make(chan struct{}),
	}
}

// Run processes posted callbacks until ctx is cancelled.
//
// Run blocks; it is the loop goroutine. After Run returns, pending and
// future posts are dropped.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.work:
			fn()
		}
	}
}

// Post enqueues fn to run on the loop goroutine.
//
// Posts made after the loop has shut down are silently dropped; a
// completion handler arriving during teardown has nothing left to update.
func (l *Loop) Post(fn func()) {
	select {
	case l.work <- fn:
	case <-l.done:
	}
}

// After schedules fn to run on the loop goroutine once d has elapsed.
// The returned timer can be used to cancel the callback before it fires.
func (l *Loop) After(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() {
		l.Post(fn)
	})
}
