// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package patrol

import (
	"sync"
	"time"
)

// State is the lifecycle state of a stream session.
type State string

const (
	// StateConnecting: the transport handshake is in flight.
	StateConnecting State = "connecting"

	// StateStreaming: the read/decode/dispatch loop is running.
	StateStreaming State = "streaming"

	// StateResyncing: the server signaled a buffer rotation; the
	// session records the gap and returns to streaming.
	StateResyncing State = "resyncing"

	// StateStalled: idle time exceeded the budget; a reconnect
	// attempt may follow.
	StateStalled State = "stalled"

	// StateFailed: terminal; a typed error was surfaced.
	StateFailed State = "failed"

	// StateCompleted: terminal; the server sent the completion
	// marker or closed cleanly after one was dispatched.
	StateCompleted State = "completed"

	// StateCancelled: terminal; the caller cancelled.
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition can occur.
func (state State) Terminal() bool {
	switch state {
	case StateFailed, StateCompleted, StateCancelled:
		return true
	}
	return false
}

// Snapshot is an immutable copy of a session's observable state.
// UI layers render snapshots; they never mutate the session and never
// retry on its behalf.
type Snapshot struct {
	// State is the current lifecycle state.
	State State

	// Phase is the last reported investigation phase.
	Phase string

	// ToolName is the tool currently being invoked, empty when the
	// session is not mid-tool-call.
	ToolName string

	// Tokens is the last cumulative token count reported.
	Tokens int64

	// Resynced is true once the server has signaled at least one
	// buffer rotation during this session.
	Resynced bool

	// ResyncReason is the reason disclosed by the most recent resync.
	ResyncReason string

	// SeqStart and SeqEnd bound the server's buffered event
	// sequence as last reported. The range never narrows except by
	// an explicit resync.
	SeqStart int64
	SeqEnd   int64

	// OutputTruncated is true when a resync implied that some
	// history was lost and will not be replayed.
	OutputTruncated bool

	// ReconnectCount is the number of reconnect attempts made.
	// Monotonically non-decreasing within a session.
	ReconnectCount int

	// Streaming is true while the read loop is active.
	Streaming bool

	// LastError is the message of the error that failed the session,
	// empty otherwise.
	LastError string

	// LastActivity is the time of the last forward byte progress.
	LastActivity time.Time
}

// Session tracks one stream session. All mutation goes through the
// supervisor's transition methods — single-writer discipline — while
// any goroutine may read a Snapshot or wait on Updates.
type Session struct {
	mu       sync.Mutex
	snapshot Snapshot
	updates  chan struct{}
}

func newSession(now time.Time) *Session {
	return &Session{
		snapshot: Snapshot{
			State:        StateConnecting,
			LastActivity: now,
		},
		updates: make(chan struct{}, 1),
	}
}

// Snapshot returns a copy of the current observable state.
func (session *Session) Snapshot() Snapshot {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.snapshot
}

// Updates returns a coalescing notification channel. It receives
// after state changes; multiple changes between reads collapse into
// one notification. Read the fresh state with Snapshot.
func (session *Session) Updates() <-chan struct{} {
	return session.updates
}

// notify signals observers without blocking. Must be called with
// session.mu held (it only touches the buffered channel, which is
// safe either way, but keeping it inside the critical section keeps
// snapshot publication and notification ordered).
func (session *Session) notify() {
	select {
	case session.updates <- struct{}{}:
	default:
	}
}

// mutate applies fn to the snapshot under the lock and notifies
// observers. Transitions into a second terminal state are rejected:
// exactly one terminal transition occurs per session.
func (session *Session) mutate(fn func(*Snapshot)) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.snapshot.State.Terminal() {
		return
	}
	fn(&session.snapshot)
	session.notify()
}

func (session *Session) setState(state State) {
	session.mutate(func(snapshot *Snapshot) {
		snapshot.State = state
		snapshot.Streaming = state == StateStreaming || state == StateResyncing
	})
}

// observeActivity records forward byte progress. Only byte arrival
// resets the idle clock — internal retries never do.
func (session *Session) observeActivity(now time.Time) {
	session.mutate(func(snapshot *Snapshot) {
		snapshot.LastActivity = now
	})
}

// applyEvent folds a dispatched event's observable fields into the
// snapshot.
func (session *Session) applyEvent(event Event) {
	session.mutate(func(snapshot *Snapshot) {
		switch event.Kind {
		case KindPhase:
			snapshot.Phase = event.Phase
			snapshot.ToolName = ""
		case KindToolStart:
			snapshot.ToolName = event.Tool
		case KindResult:
			snapshot.ToolName = ""
		case KindError:
			snapshot.LastError = event.Message
		}
		if event.Tokens > 0 {
			snapshot.Tokens = event.Tokens
		}
		widenRange(snapshot, event.SeqStart, event.SeqEnd)
	})
}

// beginResync records a server buffer rotation: the sequence range is
// replaced (the one transition allowed to narrow it), the truncation
// flag is raised, and the disclosed reason is kept.
func (session *Session) beginResync(event Event) {
	session.mutate(func(snapshot *Snapshot) {
		snapshot.State = StateResyncing
		snapshot.Resynced = true
		snapshot.OutputTruncated = true
		snapshot.ResyncReason = event.Reason
		if event.SeqStart != 0 || event.SeqEnd != 0 {
			snapshot.SeqStart = event.SeqStart
			snapshot.SeqEnd = event.SeqEnd
		}
	})
}

func (session *Session) recordReconnect() {
	session.mutate(func(snapshot *Snapshot) {
		snapshot.ReconnectCount++
	})
}

func (session *Session) complete() {
	session.mutate(func(snapshot *Snapshot) {
		snapshot.State = StateCompleted
		snapshot.Streaming = false
	})
}

func (session *Session) cancel() {
	session.mutate(func(snapshot *Snapshot) {
		snapshot.State = StateCancelled
		snapshot.Streaming = false
	})
}

func (session *Session) fail(err error) {
	session.mutate(func(snapshot *Snapshot) {
		snapshot.State = StateFailed
		snapshot.Streaming = false
		snapshot.LastError = err.Error()
	})
}

// widenRange extends the sequence range to cover the reported bounds.
// Outside of a resync the range never narrows; a zero report (no
// bounds on the event) is a no-op.
func widenRange(snapshot *Snapshot, start, end int64) {
	if start == 0 && end == 0 {
		return
	}
	if snapshot.SeqStart == 0 && snapshot.SeqEnd == 0 {
		snapshot.SeqStart = start
		snapshot.SeqEnd = end
		return
	}
	if start != 0 && start < snapshot.SeqStart {
		snapshot.SeqStart = start
	}
	if end > snapshot.SeqEnd {
		snapshot.SeqEnd = end
	}
}
