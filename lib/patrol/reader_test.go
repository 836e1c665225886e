// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package patrol

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/vigil-systems/vigil/lib/clock"
	"github.com/vigil-systems/vigil/lib/testutil"
)

// scriptedSource is an io.Reader fed by a channel: each receive is
// one Read outcome. Closing the channel yields io.EOF.
type scriptedSource struct {
	outcomes chan scriptedOutcome
}

type scriptedOutcome struct {
	data []byte
	err  error
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{outcomes: make(chan scriptedOutcome)}
}

func (source *scriptedSource) Read(p []byte) (int, error) {
	outcome, ok := <-source.outcomes
	if !ok {
		return 0, io.EOF
	}
	n := copy(p, outcome.data)
	return n, outcome.err
}

type nextResult struct {
	data []byte
	err  error
}

// callNext runs reader.Next on its own goroutine so the test can
// drive the fake clock while Next is suspended.
func callNext(ctx context.Context, reader *timedReader, timeout time.Duration) <-chan nextResult {
	results := make(chan nextResult, 1)
	go func() {
		data, err := reader.Next(ctx, timeout)
		results <- nextResult{data, err}
	}()
	return results
}

func TestTimedReaderDeliversChunk(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(time.Unix(0, 0))
	source := newScriptedSource()
	reader := newTimedReader(source, fake)
	defer reader.Close()

	results := callNext(context.Background(), reader, time.Minute)
	testutil.RequireSend(t, source.outcomes, scriptedOutcome{data: []byte("hello")}, 5*time.Second, "feeding chunk")

	result := testutil.RequireReceive(t, results, 5*time.Second, "waiting for Next")
	if result.err != nil {
		t.Fatalf("Next: %v", result.err)
	}
	if string(result.data) != "hello" {
		t.Errorf("data = %q, want %q", result.data, "hello")
	}
}

func TestTimedReaderTimeout(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(time.Unix(0, 0))
	source := newScriptedSource()
	reader := newTimedReader(source, fake)
	defer reader.Close()

	results := callNext(context.Background(), reader, 5*time.Minute)
	fake.WaitForTimers(1)
	fake.Advance(5 * time.Minute)

	result := testutil.RequireReceive(t, results, 5*time.Second, "waiting for timeout")
	if !errors.Is(result.err, errReadTimeout) {
		t.Fatalf("Next error = %v, want errReadTimeout", result.err)
	}

	// The abandoned read is still pending in the pump; its bytes must
	// arrive on the next call rather than being dropped.
	results = callNext(context.Background(), reader, 5*time.Minute)
	testutil.RequireSend(t, source.outcomes, scriptedOutcome{data: []byte("late")}, 5*time.Second, "feeding late chunk")

	result = testutil.RequireReceive(t, results, 5*time.Second, "waiting for late chunk")
	if result.err != nil {
		t.Fatalf("Next after timeout: %v", result.err)
	}
	if string(result.data) != "late" {
		t.Errorf("data = %q, want %q", result.data, "late")
	}
}

func TestTimedReaderEOF(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(time.Unix(0, 0))
	source := newScriptedSource()
	reader := newTimedReader(source, fake)
	defer reader.Close()

	results := callNext(context.Background(), reader, time.Minute)
	close(source.outcomes)

	result := testutil.RequireReceive(t, results, 5*time.Second, "waiting for EOF")
	if !errors.Is(result.err, io.EOF) {
		t.Errorf("Next error = %v, want io.EOF", result.err)
	}
}

func TestTimedReaderBytesPrecedeError(t *testing.T) {
	t.Parallel()

	// A read returning both bytes and an error must deliver the bytes
	// first, then the error on the following call.
	fake := clock.Fake(time.Unix(0, 0))
	source := newScriptedSource()
	reader := newTimedReader(source, fake)
	defer reader.Close()

	results := callNext(context.Background(), reader, time.Minute)
	testutil.RequireSend(t, source.outcomes,
		scriptedOutcome{data: []byte("tail"), err: io.EOF}, 5*time.Second, "feeding final chunk")

	result := testutil.RequireReceive(t, results, 5*time.Second, "waiting for tail bytes")
	if result.err != nil || string(result.data) != "tail" {
		t.Fatalf("first Next = (%q, %v), want (tail, nil)", result.data, result.err)
	}

	result = testutil.RequireReceive(t, callNext(context.Background(), reader, time.Minute),
		5*time.Second, "waiting for EOF after tail")
	if !errors.Is(result.err, io.EOF) {
		t.Errorf("second Next error = %v, want io.EOF", result.err)
	}
}

func TestTimedReaderCancellation(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(time.Unix(0, 0))
	source := newScriptedSource()
	reader := newTimedReader(source, fake)
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	results := callNext(ctx, reader, time.Hour)
	cancel()

	// Cancellation must win promptly — the fake clock never advances,
	// so only the context can end the wait.
	result := testutil.RequireReceive(t, results, 5*time.Second, "waiting for cancellation")
	if !errors.Is(result.err, context.Canceled) {
		t.Errorf("Next error = %v, want context.Canceled", result.err)
	}
}
