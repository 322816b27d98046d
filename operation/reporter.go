// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package operation

import (
	"fmt"
	"time"

	"github.com/docker/go-units"

	"github.com/kapsule-project/kapsule/lib/clock"
)

// Reporter is how operation work publishes progress. It is not safe for
// concurrent use; work that fans out should give each goroutine its own
// progress handle and keep messages on one goroutine.
type Reporter struct {
	op     *Operation
	clock  clock.Clock
	indent int
}

// Checkpoint returns the cancellation error, if any. Work calls it
// between steps; cancellation is only ever observed here and inside
// context-aware backend calls, never mid-step.
func (r *Reporter) Checkpoint() error {
	return r.op.ctx.Err()
}

// Nested returns a reporter whose messages render one level deeper.
func (r *Reporter) Nested() *Reporter {
	return &Reporter{op: r.op, clock: r.clock, indent: r.indent + 1}
}

// Infof publishes an informational message.
func (r *Reporter) Infof(format string, args ...any) {
	r.message(SeverityInfo, format, args...)
}

// Warnf publishes a warning. Warnings do not fail the operation.
func (r *Reporter) Warnf(format string, args ...any) {
	r.message(SeverityWarning, format, args...)
}

// Errorf publishes an error message. The operation's outcome is carried
// by its returned error; this only narrates.
func (r *Reporter) Errorf(format string, args ...any) {
	r.message(SeverityError, format, args...)
}

func (r *Reporter) message(severity Severity, format string, args ...any) {
	r.op.emit(Message{
		Severity: severity,
		Text:     fmt.Sprintf(format, args...),
		Indent:   r.indent,
	})
}

// Progress opens a progress sub-operation measured in bytes, such as an
// image download. total is the expected size, or 0 when unknown.
func (r *Reporter) Progress(description string, total int64) *Progress {
	sub := r.op.nextSubID()
	r.op.emit(ProgressStarted{
		SubID:       sub,
		Description: description,
		Total:       total,
		Indent:      r.indent,
	})
	return &Progress{
		op:      r.op,
		sub:     sub,
		started: r.clock.Now(),
		clock:   r.clock,
	}
}

// Progress publishes updates for one sub-operation.
type Progress struct {
	op      *Operation
	sub     int
	clock   clock.Clock
	started time.Time
	done    bool
}

// Update publishes the current byte count with a humanized average
// rate.
func (p *Progress) Update(current int64) {
	rate := ""
	if elapsed := p.clock.Now().Sub(p.started); elapsed > 0 && current > 0 {
		rate = units.HumanSize(float64(current)/elapsed.Seconds()) + "/s"
	}
	p.op.emit(ProgressUpdate{SubID: p.sub, Current: current, Rate: rate})
}

// Complete closes the sub-operation successfully.
func (p *Progress) Complete(text string) {
	p.finish(true, text)
}

// Fail closes the sub-operation as failed.
func (p *Progress) Fail(text string) {
	p.finish(false, text)
}

func (p *Progress) finish(ok bool, text string) {
	if p.done {
		return
	}
	p.done = true
	p.op.emit(ProgressCompleted{SubID: p.sub, OK: ok, Text: text})
}
