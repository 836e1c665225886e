// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package capture records the raw transport traffic of a patrol
// stream session to an append-only file, for offline inspection and
// deterministic replay.
//
// A capture file is a fixed header followed by self-contained
// segments. Each segment holds a CBOR-encoded batch of records,
// optionally compressed, with a keyed BLAKE3 digest of the
// uncompressed payload so corruption is detected on read. Segments
// are flushed as the session runs: a crash loses at most the
// unflushed tail, never a written segment.
//
// [Writer] implements the supervisor's Recorder interface. [Reader]
// iterates the records back, and [Replay] re-feeds the captured
// chunks through the same frame decoder the live session used, so a
// replayed session observes byte-identical framing.
package capture
