// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package patrol

import (
	"context"
	"time"

	"github.com/vigil-systems/vigil/lib/clock"
)

// waitOutcome is the result of a bounded wait.
type waitOutcome int

const (
	// waitReady: the channel delivered a value before the deadline.
	waitReady waitOutcome = iota

	// waitTimeout: the timeout elapsed first.
	waitTimeout

	// waitCancelled: the context was cancelled first.
	waitCancelled
)

// await races a channel receive against a timeout and the context.
// Every suspension point in the supervisor funnels through here, so
// cancellation and timeout always win promptly no matter what the
// loop is waiting on.
//
// The timer is released on every exit path via the deferred Stop. A
// timeout <= 0 disables the timer entirely (the wait is bounded by
// ctx alone). A nil channel makes await a pure cancellable sleep
// ending in waitTimeout.
func await[T any](ctx context.Context, clk clock.Clock, timeout time.Duration, ch <-chan T) (T, waitOutcome) {
	var zero T

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := clk.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case value := <-ch:
		return value, waitReady
	case <-timerC:
		return zero, waitTimeout
	case <-ctx.Done():
		return zero, waitCancelled
	}
}
