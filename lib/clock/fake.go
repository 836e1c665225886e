// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance is called. Timer, sleep, and AfterFunc
// operations register pending waiters that fire when the clock moves
// past their deadline.
//
// FakeClock is safe for concurrent use by multiple goroutines.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{current: initial}
	fake.waitersChanged = sync.NewCond(&fake.mu)
	return fake
}

// FakeClock is a deterministic Clock for testing. Time advances only
// through Advance. Pending waiters block until the clock passes their
// deadline.
//
// AfterFunc callbacks run synchronously inside Advance, in deadline
// order. Do not call Advance or Sleep from within a callback — that
// deadlocks.
type FakeClock struct {
	mu             sync.Mutex
	current        time.Time
	waiters        []*fakeWaiter
	waitersChanged *sync.Cond
}

// fakeWaiter is one pending timer, sleep, or AfterFunc registration.
type fakeWaiter struct {
	deadline time.Time

	// channel receives the fire time for After, Sleep, and NewTimer
	// waiters. Nil for AfterFunc waiters.
	channel chan time.Time

	// callback runs synchronously during Advance for AfterFunc
	// waiters. Nil otherwise.
	callback func()

	// stopped is set by Timer.Stop. Stopped waiters never fire and
	// are dropped on the next Advance sweep.
	stopped bool

	// fired prevents a one-shot waiter from firing twice when
	// Advance calls overlap.
	fired bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives once duration d elapses on
// the fake clock. If d <= 0, the channel receives immediately and no
// waiter is registered.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}

	c.waiters = append(c.waiters, &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  channel,
	})
	c.waitersChanged.Broadcast()
	return channel
}

// NewTimer returns a stoppable Timer that fires when the fake clock
// advances past its deadline.
func (c *FakeClock) NewTimer(d time.Duration) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	waiter := &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  channel,
	}
	if d <= 0 {
		channel <- c.current
		waiter.fired = true
	} else {
		c.waiters = append(c.waiters, waiter)
		c.waitersChanged.Broadcast()
	}

	return &Timer{
		C:         channel,
		stopFunc:  func() bool { return c.stopWaiter(waiter) },
		resetFunc: func(d time.Duration) bool { return c.resetWaiter(waiter, d) },
	}
}

// AfterFunc schedules f to run after duration d. If d <= 0, f runs
// synchronously before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()

	if d <= 0 {
		c.mu.Unlock()
		f()
		return &Timer{
			stopFunc:  func() bool { return false },
			resetFunc: func(time.Duration) bool { return false },
		}
	}

	waiter := &fakeWaiter{
		deadline: c.current.Add(d),
		callback: f,
	}
	c.waiters = append(c.waiters, waiter)
	c.waitersChanged.Broadcast()
	c.mu.Unlock()

	return &Timer{
		stopFunc:  func() bool { return c.stopWaiter(waiter) },
		resetFunc: func(d time.Duration) bool { return c.resetWaiter(waiter, d) },
	}
}

// Sleep blocks the calling goroutine until the clock advances past
// the deadline. If d <= 0, returns immediately.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline falls within the new time, in deadline order. Channel
// sends are non-blocking; AfterFunc callbacks run synchronously in
// the calling goroutine.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	expired := c.takeExpired(target)
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].deadline.Before(expired[j].deadline)
	})

	for _, waiter := range expired {
		if waiter.callback != nil {
			waiter.callback()
			continue
		}
		select {
		case waiter.channel <- target:
		default:
		}
	}
}

// takeExpired removes and returns waiters whose deadline has passed,
// dropping stopped waiters along the way.
func (c *FakeClock) takeExpired(target time.Time) []*fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []*fakeWaiter
	var remaining []*fakeWaiter
	for _, waiter := range c.waiters {
		switch {
		case waiter.stopped || waiter.fired:
			// Dropped.
		case !waiter.deadline.After(target):
			waiter.fired = true
			expired = append(expired, waiter)
		default:
			remaining = append(remaining, waiter)
		}
	}
	c.waiters = remaining
	return expired
}

// WaitForTimers blocks until at least n waiters are registered and
// pending. Tests use this to synchronize with goroutines that
// register timers before calling Advance.
//
//	go engine.Run(ctx, ...)
//	fake.WaitForTimers(1)          // engine's read timer is armed
//	fake.Advance(5 * time.Minute)  // fire it deterministically
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.waitersChanged.Wait()
	}
}

// PendingCount returns the number of active pending waiters.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	count := 0
	for _, waiter := range c.waiters {
		if !waiter.stopped && !waiter.fired {
			count++
		}
	}
	return count
}

func (c *FakeClock) stopWaiter(waiter *fakeWaiter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if waiter.stopped || waiter.fired {
		return false
	}
	waiter.stopped = true
	return true
}

func (c *FakeClock) resetWaiter(waiter *fakeWaiter, d time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasActive := !waiter.stopped && !waiter.fired
	waiter.stopped = false
	waiter.fired = false
	waiter.deadline = c.current.Add(d)
	if !wasActive {
		c.waiters = append(c.waiters, waiter)
		c.waitersChanged.Broadcast()
	}
	return wasActive
}
