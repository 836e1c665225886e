// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package sse decodes Server-Sent Event streams from arbitrarily
// chunked byte input.
//
// Unlike a pull scanner over an io.Reader, the [Decoder] is push
// driven: the transport loop feeds it whatever bytes one read
// produced, and the decoder returns every message completed by those
// bytes while buffering any trailing partial message for the next
// call. Framing therefore never depends on chunk alignment — a
// message delimiter split across two reads decodes identically to one
// delivered in a single read.
//
// Line endings are normalized (CRLF and LF both accepted) before
// messages are split on the blank-line delimiter. Within a message,
// "data:" lines carry the payload (multiple data lines are joined
// with newlines per the SSE specification), "event:" names the event
// type, comment lines starting with ":" are discarded, and unknown
// fields are ignored.
package sse
