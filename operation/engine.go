// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package operation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kapsule-project/kapsule/lib/clock"
)

// ErrTargetBusy is returned by Submit when the target container already
// has an operation in flight. Mutations are serialized per target;
// operations on different targets run concurrently.
var ErrTargetBusy = errors.New("target busy")

// Work is the body of an operation. It runs on its own goroutine; the
// context is cancelled when the operation is cancelled, and the
// reporter publishes progress to the caller.
type Work func(ctx context.Context, r *Reporter) error

// defaultGrace is how long a terminal operation stays published so late
// observers can read its outcome.
const defaultGrace = 30 * time.Second

// EngineConfig configures an Engine. Zero fields get defaults, except
// Clock and Log which are required.
type EngineConfig struct {
	Clock clock.Clock
	Log   *slog.Logger
	// Grace is how long terminal operations stay readable.
	Grace time.Duration
	// NewID overrides operation id generation, for tests.
	NewID func() string
}

// Engine runs operations and tracks them by id until a grace period
// after completion.
type Engine struct {
	clock clock.Clock
	log   *slog.Logger
	grace time.Duration
	newID func() string

	mu          sync.Mutex
	ops         map[string]*Operation
	busy        map[string]string // target -> operation id
	onPublish   func(*Operation)
	onUnpublish func(*Operation)
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Engine{
		clock: cfg.Clock,
		log:   cfg.Log,
		grace: cfg.Grace,
		newID: cfg.NewID,
		ops:   map[string]*Operation{},
		busy:  map[string]string{},
	}
}

// OnPublish registers a hook called synchronously for every accepted
// submission, before its work starts. The façade uses it to export the
// D-Bus object and become the consumer of the event stream, whichever
// path submitted the operation. Must be set before the first Submit.
func (e *Engine) OnPublish(hook func(*Operation)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onPublish = hook
}

// OnUnpublish registers a hook called when a terminal operation's grace
// period expires and it stops being readable. The façade uses it to
// drop the D-Bus object. Must be set before the first Submit.
func (e *Engine) OnUnpublish(hook func(*Operation)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onUnpublish = hook
}

// Submit starts work against a target. It returns the published
// operation immediately; the work runs on its own goroutine. A target
// with an operation already in flight rejects the submission with
// ErrTargetBusy.
func (e *Engine) Submit(kind Kind, target string, work Work) (*Operation, error) {
	ctx, cancel := context.WithCancel(context.Background())
	op := &Operation{
		id:     e.newID(),
		kind:   kind,
		target: target,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, 128),
		done:   make(chan struct{}),
		status: StatusPending,
	}

	e.mu.Lock()
	if holder, taken := e.busy[target]; taken {
		e.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("%w: %q is locked by operation %s", ErrTargetBusy, target, holder)
	}
	e.busy[target] = op.id
	e.ops[op.id] = op
	publish := e.onPublish
	e.mu.Unlock()

	e.log.Info("operation submitted",
		"operation", op.id, "kind", kind, "target", target)
	if publish != nil {
		publish(op)
	}
	go e.run(op, work)
	return op, nil
}

// Get returns a published operation by id.
func (e *Engine) Get(id string) (*Operation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	op, ok := e.ops[id]
	return op, ok
}

func (e *Engine) run(op *Operation, work Work) {
	op.setStatus(StatusRunning)
	err := e.invoke(op, work)

	status := StatusSucceeded
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), op.ctx.Err() != nil:
		status = StatusCancelled
	default:
		status = StatusFailed
	}
	op.finish(status, err)
	op.cancel()

	// The target frees as soon as the work stops touching it; the
	// operation itself stays readable through the grace period.
	e.mu.Lock()
	delete(e.busy, op.target)
	e.mu.Unlock()

	completed := Completed{OK: status == StatusSucceeded}
	if err != nil {
		completed.Error = err.Error()
	}
	e.log.Info("operation finished",
		"operation", op.id, "kind", op.kind, "target", op.target,
		"status", status, "error", completed.Error)

	// Arm the retention timer before the Completed event goes out, so
	// anyone who has seen the outcome can rely on the grace period
	// having started.
	e.clock.AfterFunc(e.grace, func() { e.unpublishOp(op) })
	op.emit(completed)
	close(op.events)
}

// invoke runs the work, converting a panic into an error so one bad
// operation cannot take the daemon down.
func (e *Engine) invoke(op *Operation, work Work) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("operation panicked",
				"operation", op.id, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return work(op.ctx, &Reporter{op: op, clock: e.clock})
}

func (e *Engine) unpublishOp(op *Operation) {
	e.mu.Lock()
	delete(e.ops, op.id)
	hook := e.onUnpublish
	e.mu.Unlock()
	if hook != nil {
		hook(op)
	}
}
