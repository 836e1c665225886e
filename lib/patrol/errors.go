// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package patrol

import (
	"errors"
	"fmt"
	"time"
)

// errReadTimeout is the distinguished outcome of a single timed read
// that produced no bytes before the read timeout. It is transient:
// the supervisor keeps polling until the idle budget is spent. Never
// surfaced to callers.
var errReadTimeout = errors.New("patrol: read timed out")

// TransportError is returned when the stream transport fails
// terminally: the handshake was rejected, the server answered with a
// non-success status, or the connection broke before the session
// completed. Transport errors are not retried.
type TransportError struct {
	// StatusCode is the HTTP status of a rejected handshake. Zero
	// when the failure happened below or after the HTTP layer.
	StatusCode int

	// Message is the server-reported or synthesized description.
	Message string

	// Err is the underlying error, when one exists.
	Err error
}

func (err *TransportError) Error() string {
	if err.StatusCode != 0 {
		return fmt.Sprintf("patrol: HTTP %d: %s", err.StatusCode, err.Message)
	}
	if err.Err != nil && err.Message != "" {
		return fmt.Sprintf("patrol: %s: %v", err.Message, err.Err)
	}
	if err.Err != nil {
		return fmt.Sprintf("patrol: %v", err.Err)
	}
	return "patrol: " + err.Message
}

func (err *TransportError) Unwrap() error { return err.Err }

// StallError is returned when no forward byte progress was observed
// for the idle-timeout budget and every reconnect attempt was
// exhausted.
type StallError struct {
	// IdleTimeout is the configured budget that was exceeded.
	IdleTimeout time.Duration

	// Reconnects is the number of reconnect attempts made before
	// giving up.
	Reconnects int
}

func (err *StallError) Error() string {
	return fmt.Sprintf("patrol: stream stalled: no progress within %v after %d reconnect attempts",
		err.IdleTimeout, err.Reconnects)
}
