// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction so that code
// built on timeouts and backoff delays can be tested without real
// waiting.
//
// Production code accepts a Clock instead of calling time.Now,
// time.After, time.NewTimer, time.AfterFunc, or time.Sleep directly.
// Real() supplies standard library behavior; Fake() supplies a
// deterministic clock that moves only when a test calls Advance.
//
// The stream engine leans on two properties of this package:
//
//   - NewTimer returns a stoppable Timer, so every timed wait can
//     release its timer with a deferred Stop on all exit paths.
//   - FakeClock.WaitForTimers lets a test block until the engine has
//     registered its timer before advancing time, removing the race
//     between timer registration and advancement.
package clock
