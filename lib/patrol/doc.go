// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package patrol consumes the long-lived event stream of an automated
// investigation ("patrol") session.
//
// The server exposes one session as a chunked HTTP response carrying
// Server-Sent Events, each "data:" line holding one JSON-encoded
// [Event]. This package turns that unreliable transport into a
// sequence of discrete, ordered events delivered to a caller
// callback, while surviving stalls, partial reads, server-side buffer
// rotation, and caller cancellation:
//
//   - every read races a fixed-duration timer, so the loop never
//     blocks past the read timeout;
//   - frame decoding (lib/sse) never assumes chunk-aligned framing;
//   - a malformed payload line is logged and skipped, never fatal;
//   - a server resync signal widens the visible history gap instead
//     of replaying or duplicating events;
//   - prolonged silence triggers a bounded number of reconnect
//     attempts before the session is declared failed.
//
// The [Supervisor] drives one session. Its [Session] record is the
// only shared mutable state: the supervisor is the single writer, and
// observers read immutable [Snapshot] copies, subscribing to the
// coalescing [Session.Updates] channel for change notification. The
// engine carries no dependency on any UI or reactive framework.
//
// Usage:
//
//	supervisor := patrol.NewSupervisor(patrol.Options{Logger: logger})
//	err := supervisor.Run(ctx, patrol.StreamRequest{Endpoint: url}, func(event patrol.Event) {
//	    // events arrive strictly in decode order
//	})
//	final := supervisor.Session().Snapshot()
package patrol
