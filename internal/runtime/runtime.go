// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

// Package runtime provides the single process-level scheduling context
// that every protocol engine is constructed with, replacing the
// Dispatcher::instance()/Proxy::instance() global singletons of the C++
// original with an explicitly-owned value (see DESIGN.md / DESIGN NOTES).
package runtime

import (
	"context"
	"sync"
	"time"
)

// Runtime is handed to every long-lived component (Dispatcher, Proxy,
// Voter, ...) at construction time. It serializes state-machine
// transitions onto a single task queue so that the ordering guarantees
// of §5 hold without every component sharing a lock, while still letting
// socket reads happen concurrently on their own goroutines.
type Runtime struct {
	ctx    context.Context
	cancel context.CancelFunc

	tasks chan func()

	wg sync.WaitGroup

	mu        sync.Mutex
	singleton map[string]bool
}

// New creates a Runtime bound to ctx. Cancelling ctx (or calling Stop)
// ends the scheduling goroutine once the task it is running, if any,
// returns; tasks still queued are not run.
func New(ctx context.Context) *Runtime {
	ctx, cancel := context.WithCancel(ctx)
	rt := &Runtime{
		ctx:       ctx,
		cancel:    cancel,
		tasks:     make(chan func(), 1024),
		singleton: make(map[string]bool),
	}
	rt.wg.Add(1)
	go rt.loop()
	return rt
}

func (rt *Runtime) loop() {
	defer rt.wg.Done()
	for {
		select {
		case <-rt.ctx.Done():
			return
		case task := <-rt.tasks:
			task()
		}
	}
}

// Context returns the Runtime's context, cancelled on Stop.
func (rt *Runtime) Context() context.Context {
	return rt.ctx
}

// Post queues task to run on the Runtime's single scheduling goroutine.
// Every state transition in the protocol engines goes through Post so
// two timers, or a timer and an inbound packet, never race on the same
// state.
func (rt *Runtime) Post(task func()) {
	select {
	case rt.tasks <- task:
	case <-rt.ctx.Done():
	}
}

// PostAndWait queues task and blocks until it has run, or the Runtime
// stops first.
func (rt *Runtime) PostAndWait(task func()) {
	done := make(chan struct{})
	rt.Post(func() {
		task()
		close(done)
	})
	select {
	case <-done:
	case <-rt.ctx.Done():
	}
}

// AfterFunc schedules task to run (via Post) once after d, unless the
// returned Timer is stopped first.
func (rt *Runtime) AfterFunc(d time.Duration, task func()) *Timer {
	t := &Timer{rt: rt, periodic: false}
	t.timer = time.AfterFunc(d, func() { rt.Post(task) })
	return t
}

// Every schedules task to run (via Post) every d until the returned
// Timer is stopped.
func (rt *Runtime) Every(d time.Duration, task func()) *Timer {
	t := &Timer{rt: rt, periodic: true, stop: make(chan struct{})}
	ticker := time.NewTicker(d)
	t.ticker = ticker
	go func() {
		for {
			select {
			case <-ticker.C:
				rt.Post(task)
			case <-t.stop:
				return
			case <-rt.ctx.Done():
				return
			}
		}
	}()
	return t
}

// AcquireSingleton panics if name is already held on this Runtime,
// enforcing the "exactly one dispatcher may exist" invariant without a
// package-level global.
func (rt *Runtime) AcquireSingleton(name string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.singleton[name] {
		panic("runtime: singleton " + name + " already constructed on this Runtime")
	}
	rt.singleton[name] = true
}

// ReleaseSingleton frees a name acquired by AcquireSingleton.
func (rt *Runtime) ReleaseSingleton(name string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.singleton, name)
}

// Stop cancels the Runtime's context and waits for its scheduling
// goroutine to exit.
func (rt *Runtime) Stop() {
	rt.cancel()
	rt.wg.Wait()
}

// Timer is a one-shot or periodic timer handle. Every session-owned
// timer must be Stop()-ed on transition to a terminal state (§5).
type Timer struct {
	rt       *Runtime
	periodic bool
	timer    *time.Timer
	ticker   *time.Ticker
	stop     chan struct{}
	once     sync.Once
}

// Stop releases the timer. Safe to call more than once and safe to call
// from any goroutine.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		if t.timer != nil {
			t.timer.Stop()
		}
		if t.ticker != nil {
			t.ticker.Stop()
		}
		if t.stop != nil {
			close(t.stop)
		}
	})
}
