// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts time operations for testability. Production code
// injects Real(); tests inject Fake() and drive time explicitly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. Equivalent to time.After. If d <= 0,
	// the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a Timer that delivers on its C channel after
	// duration d. The caller must call Stop when the timer is no
	// longer needed so its resources are released promptly.
	NewTimer(d time.Duration) *Timer

	// AfterFunc waits for duration d, then calls f. The returned
	// Timer can cancel the pending call with Stop; its C field is
	// nil, matching time.AfterFunc.
	AfterFunc(d time.Duration, f func()) *Timer

	// Sleep pauses the calling goroutine for at least duration d.
	// Equivalent to time.Sleep.
	Sleep(d time.Duration)
}

// Timer represents a single scheduled event. For timers created by
// NewTimer, C delivers the fire time. For timers created by AfterFunc,
// C is nil and the callback runs instead.
type Timer struct {
	// C delivers the timer event. Nil for AfterFunc timers.
	C <-chan time.Time

	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop prevents the Timer from firing. Returns true if the call stops
// the timer, false if the timer already fired or was stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Reset changes the timer to fire after duration d. Returns true if
// the timer was active before the reset.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }
