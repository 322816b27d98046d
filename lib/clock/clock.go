// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code injects
// Real(); tests inject Fake() and advance it deterministically. The
// operation engine's terminal-state grace period and the host resource
// probes are the main consumers.
package clock

import "time"

// Clock is the subset of the time package that kapsule components use.
// Anything that calls time.Now, time.After, or time.AfterFunc should
// take a Clock instead so tests do not depend on the wall clock.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. If d <= 0 the channel receives
	// immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for duration d, then calls f in its own
	// goroutine (real clock) or synchronously during Advance (fake
	// clock). The returned Timer can cancel the pending call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a scheduled AfterFunc call. Stop prevents it from firing.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. It returns true if the call
// stops the timer, false if the timer has already fired or been
// stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }
