// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package patrol

import (
	"context"
	"io"
	"time"

	"github.com/vigil-systems/vigil/lib/clock"
)

// readBufferSize is the size of each read buffer handed to the
// transport. Chunks are typically far smaller; the pump allocates a
// fresh buffer per read so delivered chunks are never aliased.
const readBufferSize = 32 * 1024

// readResult is one outcome from the pump goroutine: a chunk of
// bytes, a transport error, or both are never set together (a read
// returning bytes and an error is split into two results so no bytes
// are lost).
type readResult struct {
	data []byte
	err  error
}

// timedReader bounds every read of a raw chunked byte source with a
// fixed-duration timer. Reads run on a dedicated pump goroutine; Next
// races the pump's result channel against the timer and the caller's
// context. On timeout the in-flight read is abandoned, not retried:
// it stays pending in the pump, and whatever it eventually produces
// is delivered by a later Next call, so a timeout never drops bytes.
type timedReader struct {
	results chan readResult
	done    chan struct{}
	clk     clock.Clock
}

// newTimedReader starts the pump goroutine over source. The caller
// must call Close to release the pump; closing the underlying source
// unblocks any read the pump is sitting in.
func newTimedReader(source io.Reader, clk clock.Clock) *timedReader {
	reader := &timedReader{
		results: make(chan readResult),
		done:    make(chan struct{}),
		clk:     clk,
	}
	go reader.pump(source)
	return reader
}

// Next returns the next chunk, bounded by timeout. Outcomes:
//
//   - (chunk, nil): forward byte progress.
//   - (nil, errReadTimeout): the timeout won the race; transient.
//   - (nil, io.EOF): the source ended.
//   - (nil, ctx.Err()): the context won the race.
//   - (nil, other): transport error from the source.
func (reader *timedReader) Next(ctx context.Context, timeout time.Duration) ([]byte, error) {
	result, outcome := await(ctx, reader.clk, timeout, reader.results)
	switch outcome {
	case waitTimeout:
		return nil, errReadTimeout
	case waitCancelled:
		return nil, ctx.Err()
	}
	return result.data, result.err
}

// Close releases the pump goroutine. Safe to call once. The
// underlying source must be closed separately (closing it is what
// unblocks a pump stuck in a read).
func (reader *timedReader) Close() {
	close(reader.done)
}

// pump reads the source until error or Close, forwarding each
// outcome. A final read that returns both bytes and an error is
// delivered as two results so the bytes always precede the error.
func (reader *timedReader) pump(source io.Reader) {
	for {
		buffer := make([]byte, readBufferSize)
		n, err := source.Read(buffer)

		if n > 0 {
			if !reader.deliver(readResult{data: buffer[:n]}) {
				return
			}
		}
		if err != nil {
			reader.deliver(readResult{err: err})
			return
		}
	}
}

// deliver sends one result unless the reader has been closed.
// Returns false when the reader is gone and the pump should exit.
func (reader *timedReader) deliver(result readResult) bool {
	select {
	case reader.results <- result:
		return true
	case <-reader.done:
		return false
	}
}
