// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package operation

import (
	"context"
	"testing"
	"time"

	"github.com/kapsule-project/kapsule/lib/testutil"
)

func TestProgressEvents(t *testing.T) {
	engine, fakeClock := testEngine(t)

	op, err := engine.Submit(KindCreate, "dev", func(ctx context.Context, r *Reporter) error {
		download := r.Progress("downloading image", 100*1024*1024)
		fakeClock.Advance(time.Second)
		download.Update(10 * 1024 * 1024)
		download.Complete("done")
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	started := testutil.RequireReceive(t, op.Events(), waitFor, "progress started")
	begin, ok := started.(ProgressStarted)
	if !ok || begin.Description != "downloading image" || begin.Total != 100*1024*1024 {
		t.Fatalf("started = %#v", started)
	}
	if begin.SubID == 0 {
		t.Error("sub id not allocated")
	}

	updated := testutil.RequireReceive(t, op.Events(), waitFor, "progress update")
	update, ok := updated.(ProgressUpdate)
	if !ok || update.SubID != begin.SubID || update.Current != 10*1024*1024 {
		t.Fatalf("update = %#v", updated)
	}
	// 10 MiB over one second, humanized decimal.
	if update.Rate != "10.49MB/s" {
		t.Errorf("rate = %q", update.Rate)
	}

	finished := testutil.RequireReceive(t, op.Events(), waitFor, "progress completed")
	if end, ok := finished.(ProgressCompleted); !ok || !end.OK || end.SubID != begin.SubID {
		t.Fatalf("finished = %#v", finished)
	}
	drainUntilCompleted(t, op)
}

func TestProgressSubIDsAreDistinct(t *testing.T) {
	engine, _ := testEngine(t)

	op, err := engine.Submit(KindCreate, "dev", func(ctx context.Context, r *Reporter) error {
		first := r.Progress("first", 0)
		second := r.Progress("second", 0)
		first.Complete("")
		second.Fail("interrupted")
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drainUntilCompleted(t, op)

	log := op.Log()
	firstStart := log[0].(ProgressStarted)
	secondStart := log[1].(ProgressStarted)
	if firstStart.SubID == secondStart.SubID {
		t.Error("progress handles share a sub id")
	}
	if failed := log[3].(ProgressCompleted); failed.OK || failed.Text != "interrupted" {
		t.Errorf("failed sub-operation = %#v", failed)
	}
}

func TestProgressFinishIsIdempotent(t *testing.T) {
	engine, _ := testEngine(t)

	op, err := engine.Submit(KindCreate, "dev", func(ctx context.Context, r *Reporter) error {
		download := r.Progress("download", 0)
		download.Complete("done")
		download.Fail("too late") // swallowed
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drainUntilCompleted(t, op)

	completions := 0
	for _, event := range op.Log() {
		if _, ok := event.(ProgressCompleted); ok {
			completions++
		}
	}
	if completions != 1 {
		t.Errorf("ProgressCompleted emitted %d times, want 1", completions)
	}
}

func TestUpdateWithoutElapsedTimeHasNoRate(t *testing.T) {
	engine, _ := testEngine(t)

	op, err := engine.Submit(KindCreate, "dev", func(ctx context.Context, r *Reporter) error {
		download := r.Progress("download", 0)
		download.Update(512) // clock has not moved
		download.Complete("")
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drainUntilCompleted(t, op)

	update := op.Log()[1].(ProgressUpdate)
	if update.Rate != "" {
		t.Errorf("rate = %q, want empty with no elapsed time", update.Rate)
	}
}
