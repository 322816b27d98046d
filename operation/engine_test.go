// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package operation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kapsule-project/kapsule/lib/clock"
	"github.com/kapsule-project/kapsule/lib/testutil"
)

const waitFor = 5 * time.Second

func testEngine(t *testing.T) (*Engine, *clock.FakeClock) {
	t.Helper()
	fakeClock := clock.Fake(time.Unix(1700000000, 0))
	engine := NewEngine(EngineConfig{
		Clock: fakeClock,
		Log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return engine, fakeClock
}

// drainUntilCompleted consumes events until the Completed event,
// which every operation emits exactly once, and returns it.
func drainUntilCompleted(t *testing.T, op *Operation) Completed {
	t.Helper()
	for {
		event := testutil.RequireReceive(t, op.Events(), waitFor, "waiting for Completed")
		if completed, ok := event.(Completed); ok {
			return completed
		}
	}
}

func TestSubmitRunsWorkToSuccess(t *testing.T) {
	engine, _ := testEngine(t)

	op, err := engine.Submit(KindCreate, "dev", func(ctx context.Context, r *Reporter) error {
		r.Infof("creating %s", "dev")
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if op.Kind() != KindCreate || op.Target() != "dev" {
		t.Errorf("op = %s/%s", op.Kind(), op.Target())
	}
	if op.ID() == "" {
		t.Error("empty operation id")
	}

	event := testutil.RequireReceive(t, op.Events(), waitFor, "first event")
	message, ok := event.(Message)
	if !ok || message.Text != "creating dev" || message.Severity != SeverityInfo {
		t.Errorf("first event = %#v", event)
	}

	completed := testutil.RequireReceive(t, op.Events(), waitFor, "completed event")
	if c, ok := completed.(Completed); !ok || !c.OK || c.Error != "" {
		t.Errorf("completed = %#v", completed)
	}
	if _, open := <-op.Events(); open {
		t.Error("events channel still open after Completed")
	}
	if op.Status() != StatusSucceeded {
		t.Errorf("status = %s", op.Status())
	}
}

func TestSubmitFailure(t *testing.T) {
	engine, _ := testEngine(t)

	op, err := engine.Submit(KindStart, "dev", func(ctx context.Context, r *Reporter) error {
		return errors.New("no such image")
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	completed := drainUntilCompleted(t, op)
	if completed.OK || completed.Error != "no such image" {
		t.Errorf("completed = %+v", completed)
	}
	if op.Status() != StatusFailed {
		t.Errorf("status = %s", op.Status())
	}
}

func TestTargetExclusivity(t *testing.T) {
	engine, _ := testEngine(t)
	release := make(chan struct{})

	first, err := engine.Submit(KindStop, "dev", func(ctx context.Context, r *Reporter) error {
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Same target: rejected while the first is in flight.
	if _, err := engine.Submit(KindDelete, "dev", func(context.Context, *Reporter) error { return nil }); !errors.Is(err, ErrTargetBusy) {
		t.Fatalf("second submit err = %v, want ErrTargetBusy", err)
	}

	// Different target: runs concurrently.
	other, err := engine.Submit(KindCreate, "work", func(context.Context, *Reporter) error { return nil })
	if err != nil {
		t.Fatalf("submit to other target: %v", err)
	}
	drainUntilCompleted(t, other)

	close(release)
	drainUntilCompleted(t, first)

	// The target frees once the operation reaches a terminal state.
	again, err := engine.Submit(KindDelete, "dev", func(context.Context, *Reporter) error { return nil })
	if err != nil {
		t.Fatalf("resubmit after completion: %v", err)
	}
	drainUntilCompleted(t, again)
}

func TestCancellationObservedAtCheckpoint(t *testing.T) {
	engine, _ := testEngine(t)
	entered := make(chan struct{})
	proceed := make(chan struct{})

	op, err := engine.Submit(KindCreate, "dev", func(ctx context.Context, r *Reporter) error {
		close(entered)
		<-proceed
		if err := r.Checkpoint(); err != nil {
			return err
		}
		t.Error("work ran past a cancelled checkpoint")
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	testutil.RequireClosed(t, entered, waitFor, "work started")
	op.Cancel()
	close(proceed)

	completed := drainUntilCompleted(t, op)
	if completed.OK {
		t.Error("cancelled operation reported success")
	}
	if op.Status() != StatusCancelled {
		t.Errorf("status = %s, want cancelled", op.Status())
	}

	// Cancelling a terminal operation is a no-op.
	op.Cancel()
	if op.Status() != StatusCancelled {
		t.Errorf("status changed by late cancel: %s", op.Status())
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	engine, _ := testEngine(t)

	op, err := engine.Submit(KindStart, "dev", func(ctx context.Context, r *Reporter) error {
		panic("nil map write")
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	completed := drainUntilCompleted(t, op)
	if completed.OK {
		t.Error("panicked operation reported success")
	}
	if completed.Error == "" {
		t.Error("panicked operation has no error text")
	}
	if op.Status() != StatusFailed {
		t.Errorf("status = %s", op.Status())
	}
}

func TestTerminalOperationUnpublishedAfterGrace(t *testing.T) {
	fakeClock := clock.Fake(time.Unix(1700000000, 0))
	engine := NewEngine(EngineConfig{
		Clock: fakeClock,
		Log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Grace: time.Minute,
	})
	unpublished := make(chan string, 1)
	engine.OnUnpublish(func(op *Operation) { unpublished <- op.ID() })

	op, err := engine.Submit(KindStop, "dev", func(context.Context, *Reporter) error { return nil })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drainUntilCompleted(t, op)

	// Readable through the grace period.
	if _, ok := engine.Get(op.ID()); !ok {
		t.Fatal("terminal operation not readable")
	}
	testutil.RequireNoReceive(t, unpublished, 50*time.Millisecond, "unpublished before grace expiry")

	fakeClock.Advance(time.Minute)
	id := testutil.RequireReceive(t, unpublished, waitFor, "unpublish hook")
	if id != op.ID() {
		t.Errorf("unpublished %s, want %s", id, op.ID())
	}
	if _, ok := engine.Get(op.ID()); ok {
		t.Error("operation still readable after grace expiry")
	}
}

func TestLogRetainsOrderedEvents(t *testing.T) {
	engine, _ := testEngine(t)

	op, err := engine.Submit(KindCreate, "dev", func(ctx context.Context, r *Reporter) error {
		r.Infof("step one")
		r.Nested().Warnf("sub-step grumble")
		r.Infof("step two")
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drainUntilCompleted(t, op)

	log := op.Log()
	if len(log) != 4 {
		t.Fatalf("log has %d events, want 4: %#v", len(log), log)
	}
	wantTexts := []string{"step one", "sub-step grumble", "step two"}
	for i, want := range wantTexts {
		message, ok := log[i].(Message)
		if !ok || message.Text != want {
			t.Errorf("log[%d] = %#v, want message %q", i, log[i], want)
		}
	}
	if nested := log[1].(Message); nested.Indent != 1 {
		t.Errorf("nested indent = %d", nested.Indent)
	}
	if _, ok := log[3].(Completed); !ok {
		t.Errorf("log[3] = %#v, want Completed", log[3])
	}
}

func TestStableIDs(t *testing.T) {
	fakeClock := clock.Fake(time.Unix(1700000000, 0))
	sequence := 0
	engine := NewEngine(EngineConfig{
		Clock: fakeClock,
		Log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewID: func() string { sequence++; return fmt.Sprintf("op-%d", sequence) },
	})

	op, err := engine.Submit(KindCreate, "dev", func(context.Context, *Reporter) error { return nil })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if op.ID() != "op-1" {
		t.Errorf("id = %q", op.ID())
	}
	if got, ok := engine.Get("op-1"); !ok || got != op {
		t.Error("Get did not return the submitted operation")
	}
	drainUntilCompleted(t, op)
}

func TestPublishHookSeesEverySubmission(t *testing.T) {
	engine, _ := testEngine(t)
	published := make(chan *Operation, 2)
	engine.OnPublish(func(op *Operation) { published <- op })

	proceed := make(chan struct{})
	op, err := engine.Submit(KindCreate, "dev", func(context.Context, *Reporter) error {
		<-proceed
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// The hook fires synchronously, before Submit returns, so the
	// consumer it hands the operation to never misses events.
	if got := testutil.RequireReceive(t, published, waitFor, "publish hook"); got != op {
		t.Errorf("hook saw %v, want %v", got, op)
	}

	// A rejected submission publishes nothing.
	if _, err := engine.Submit(KindStart, "dev", func(context.Context, *Reporter) error { return nil }); !errors.Is(err, ErrTargetBusy) {
		t.Fatalf("err = %v, want ErrTargetBusy", err)
	}
	testutil.RequireNoReceive(t, published, 50*time.Millisecond, "hook fired for a rejected submission")

	close(proceed)
	drainUntilCompleted(t, op)
}

func TestDoneAndErr(t *testing.T) {
	engine, _ := testEngine(t)

	op, err := engine.Submit(KindStop, "dev", func(context.Context, *Reporter) error {
		return errors.New("instance is wedged")
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drainUntilCompleted(t, op)

	testutil.RequireClosed(t, op.Done(), waitFor, "waiting for done channel")
	if got := op.Err(); got == nil || got.Error() != "instance is wedged" {
		t.Errorf("Err() = %v", got)
	}
}
