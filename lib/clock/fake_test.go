// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAdvances(t *testing.T) {
	t.Parallel()

	fake := Fake(testEpoch)
	if got := fake.Now(); !got.Equal(testEpoch) {
		t.Errorf("Now() = %v, want %v", got, testEpoch)
	}

	fake.Advance(90 * time.Second)
	want := testEpoch.Add(90 * time.Second)
	if got := fake.Now(); !got.Equal(want) {
		t.Errorf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	t.Parallel()

	fake := Fake(testEpoch)
	ch := fake.After(time.Minute)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	fake.Advance(time.Minute)
	select {
	case fired := <-ch:
		if !fired.Equal(testEpoch.Add(time.Minute)) {
			t.Errorf("fire time = %v, want %v", fired, testEpoch.Add(time.Minute))
		}
	default:
		t.Fatal("After did not fire after Advance")
	}
}

func TestFakeAfterNonPositiveFiresImmediately(t *testing.T) {
	t.Parallel()

	fake := Fake(testEpoch)
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
	if fake.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", fake.PendingCount())
	}
}

func TestFakeNewTimerStop(t *testing.T) {
	t.Parallel()

	fake := Fake(testEpoch)
	timer := fake.NewTimer(time.Minute)

	if !timer.Stop() {
		t.Error("Stop on active timer = false, want true")
	}
	if timer.Stop() {
		t.Error("second Stop = true, want false")
	}

	fake.Advance(2 * time.Minute)
	select {
	case <-timer.C:
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestFakeNewTimerReset(t *testing.T) {
	t.Parallel()

	fake := Fake(testEpoch)
	timer := fake.NewTimer(time.Minute)

	if !timer.Reset(time.Hour) {
		t.Error("Reset on active timer = false, want true")
	}

	fake.Advance(time.Minute)
	select {
	case <-timer.C:
		t.Fatal("timer fired at original deadline after Reset")
	default:
	}

	fake.Advance(time.Hour)
	select {
	case <-timer.C:
	default:
		t.Fatal("timer did not fire at reset deadline")
	}
}

func TestFakeAfterFuncOrder(t *testing.T) {
	t.Parallel()

	fake := Fake(testEpoch)
	var order []int
	fake.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	fake.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	fake.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	fake.Advance(5 * time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("callback order = %v, want [1 2 3]", order)
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	t.Parallel()

	fake := Fake(testEpoch)
	done := make(chan struct{})
	go func() {
		fake.Sleep(10 * time.Second)
		close(done)
	}()

	fake.WaitForTimers(1)
	fake.Advance(10 * time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep goroutine did not wake after Advance")
	}
}
