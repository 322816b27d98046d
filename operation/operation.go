// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

// Package operation runs long-lived container work asynchronously and
// publishes its progress as an ordered event stream. The D-Bus façade
// submits work here and mirrors the events as signals; callers get an
// operation id back immediately and follow along.
package operation

import (
	"context"
	"sync"
)

// Kind names what an operation does to its target.
type Kind string

const (
	KindCreate Kind = "create"
	KindDelete Kind = "delete"
	KindStart  Kind = "start"
	KindStop   Kind = "stop"
	KindEnter  Kind = "enter"
)

// Status is an operation's lifecycle state. Pending and Running are
// transient; the other states are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Operation is one submitted unit of work. All methods are safe for
// concurrent use.
type Operation struct {
	id     string
	kind   Kind
	target string

	ctx    context.Context
	cancel context.CancelFunc

	// events is consumed by exactly one subscriber (the façade's
	// publisher goroutine) and closed after the Completed event.
	events chan Event

	// done closes when the operation reaches a terminal state. Unlike
	// events it has no consumption constraints, so anyone can block on
	// the outcome.
	done chan struct{}

	mu      sync.Mutex
	status  Status
	err     error
	log     []Event
	nextSub int
}

func (o *Operation) ID() string     { return o.id }
func (o *Operation) Kind() Kind     { return o.kind }
func (o *Operation) Target() string { return o.target }

// Status returns the current lifecycle state.
func (o *Operation) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Events returns the operation's event stream. Every event is delivered
// in order; the channel closes after Completed. Only one consumer may
// read it.
func (o *Operation) Events() <-chan Event { return o.events }

// Done returns a channel that closes when the operation reaches a
// terminal state. Safe for any number of waiters.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Err returns the work's error once the operation is terminal, nil
// before that and on success.
func (o *Operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Log returns a snapshot of every event emitted so far, in order. Late
// subscribers use it to catch up before following Events.
func (o *Operation) Log() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	snapshot := make([]Event, len(o.log))
	copy(snapshot, o.log)
	return snapshot
}

// Cancel requests cooperative cancellation. The work observes it at its
// next checkpoint or backend call; cancelling a terminal operation is a
// no-op.
func (o *Operation) Cancel() {
	o.cancel()
}

// emit appends to the retained log and delivers to the subscriber.
func (o *Operation) emit(event Event) {
	o.mu.Lock()
	o.log = append(o.log, event)
	o.mu.Unlock()
	o.events <- event
}

// nextSubID allocates a progress sub-operation id, unique within the
// operation.
func (o *Operation) nextSubID() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextSub++
	return o.nextSub
}

func (o *Operation) setStatus(status Status) {
	o.mu.Lock()
	o.status = status
	o.mu.Unlock()
}

// finish records the terminal outcome and releases Done waiters.
func (o *Operation) finish(status Status, err error) {
	o.mu.Lock()
	o.status = status
	o.err = err
	o.mu.Unlock()
	close(o.done)
}
