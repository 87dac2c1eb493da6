package server

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrStopped is returned for work posted to a loop that is no longer running.
var ErrStopped = errors.New("dispatch loop stopped")

// Loop runs posted closures one at a time on a single goroutine. Everything
// that touches the display or a manager goes through it.
type Loop struct {
	tasks chan func()
	done  chan struct{}
}

// NewLoop returns a loop accepting up to backlog pending closures before Post
// blocks.
func NewLoop(backlog int) *Loop {
	if backlog < 1 {
		backlog = 1
	}
	return &Loop{
		tasks: make(chan func(), backlog),
		done:  make(chan struct{}),
	}
}

// Run executes posted closures until ctx is cancelled. Closures still queued
// at that point are dropped.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Post queues fn. It reports false if the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for its result. It must not be called
// from the loop itself.
//
// If ctx ends while fn is still queued, fn is abandoned and never runs, so a
// context error always means nothing was done. Once fn has started, Do waits
// for it and returns its result.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	const (
		queued int32 = iota
		running
		abandoned
	)
	var state atomic.Int32
	errc := make(chan error, 1)

	task := func() {
		if !state.CompareAndSwap(queued, running) {
			return
		}
		errc <- fn()
	}
	if !l.Post(task) {
		return ErrStopped
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		if state.CompareAndSwap(queued, abandoned) {
			return ctx.Err()
		}
		return <-errc
	case <-l.done:
		if state.CompareAndSwap(queued, abandoned) {
			return ErrStopped
		}
		return <-errc
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
