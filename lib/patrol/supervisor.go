// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package patrol

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vigil-systems/vigil/lib/clock"
	"github.com/vigil-systems/vigil/lib/sse"
)

// Defaults for Options fields left zero. The read timeout matches the
// upstream investigation engine, which can legitimately go minutes
// between chunks while a slow analysis step runs.
const (
	DefaultReadTimeout   = 300 * time.Second
	DefaultIdleTimeout   = 300 * time.Second
	DefaultMaxReconnects = 3
	DefaultBackoffBase   = time.Second
	DefaultBackoffMax    = 30 * time.Second
)

// StreamRequest describes the stream to open.
type StreamRequest struct {
	// Endpoint is the HTTP(S) URL of the patrol event stream.
	Endpoint string

	// Header holds extra request headers (authentication, tracing).
	// The streaming Accept header is set by the supervisor.
	Header http.Header
}

// Recorder receives the raw transport traffic and lifecycle marks of
// a session, for capture files and offline replay. Implementations
// must tolerate being called from the supervisor goroutine only.
// lib/capture provides the standard implementation.
type Recorder interface {
	RecordChunk(at time.Time, data []byte) error
	RecordMark(at time.Time, kind, detail string) error
}

// Options configures a Supervisor. Zero fields take defaults.
type Options struct {
	// ReadTimeout bounds a single transport read.
	ReadTimeout time.Duration

	// IdleTimeout is the maximum time without forward byte progress
	// before the session is considered stalled.
	IdleTimeout time.Duration

	// MaxReconnects bounds the reconnect attempts made after stalls
	// before the session fails. Zero takes the default; negative
	// disables reconnecting entirely.
	MaxReconnects int

	// BackoffBase and BackoffMax shape the exponential delay before
	// each reconnect attempt: base doubling per attempt, capped.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// Clock supplies time. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives structured diagnostics. Defaults to a
	// discarding logger.
	Logger *slog.Logger

	// HTTPClient issues the stream request. Defaults to
	// http.DefaultClient. The client must not impose its own overall
	// request timeout — the supervisor owns all deadlines.
	HTTPClient *http.Client

	// Recorder, when non-nil, captures raw chunks and lifecycle
	// marks. Recorder failures are logged, never fatal.
	Recorder Recorder
}

// loopOutcome says why one connection's read loop ended.
type loopOutcome int

const (
	outcomeCompleted loopOutcome = iota
	outcomeCancelled
	outcomeStalled
	outcomeClosed
	outcomeTransport
)

// Supervisor drives one patrol stream session: it orchestrates the
// timed reader, frame decoder, and event dispatch as a single
// sequential loop, owns the session record, and handles resyncs,
// stalls, and reconnects. A Supervisor runs one session; create a new
// one per stream.
type Supervisor struct {
	options Options
	logger  *slog.Logger
	clk     clock.Clock
	session *Session
}

// NewSupervisor creates a Supervisor with defaults filled in.
func NewSupervisor(options Options) *Supervisor {
	if options.ReadTimeout <= 0 {
		options.ReadTimeout = DefaultReadTimeout
	}
	if options.IdleTimeout <= 0 {
		options.IdleTimeout = DefaultIdleTimeout
	}
	if options.MaxReconnects < 0 {
		options.MaxReconnects = 0
	} else if options.MaxReconnects == 0 {
		options.MaxReconnects = DefaultMaxReconnects
	}
	if options.BackoffBase <= 0 {
		options.BackoffBase = DefaultBackoffBase
	}
	if options.BackoffMax <= 0 {
		options.BackoffMax = DefaultBackoffMax
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if options.HTTPClient == nil {
		options.HTTPClient = http.DefaultClient
	}

	return &Supervisor{
		options: options,
		logger:  options.Logger,
		clk:     options.Clock,
		session: newSession(options.Clock.Now()),
	}
}

// Session returns the session record for snapshot reads and update
// notifications. Valid immediately after NewSupervisor.
func (s *Supervisor) Session() *Session {
	return s.session
}

// Run opens the stream and drives it to a terminal state, invoking
// onEvent for each domain event in strict arrival order. It returns
// nil when the session completed or was cancelled (cancellation is
// deliberate, not an error — inspect the final Snapshot to tell the
// two apart), a *TransportError for terminal transport failures, and
// a *StallError when the idle budget and all reconnects are spent.
//
// Run blocks until terminal. It must be called at most once.
func (s *Supervisor) Run(ctx context.Context, request StreamRequest, onEvent func(Event)) error {
	if onEvent == nil {
		onEvent = func(Event) {}
	}

	reconnects := 0
	for {
		body, err := s.connect(ctx, request)
		if err != nil {
			if ctx.Err() != nil {
				s.session.cancel()
				return nil
			}
			s.session.fail(err)
			return err
		}

		outcome, readErr := s.consume(ctx, body, onEvent)
		switch outcome {
		case outcomeCompleted:
			s.recordMark("complete", "")
			s.session.complete()
			s.logger.Info("session completed")
			return nil

		case outcomeCancelled:
			s.recordMark("cancel", "")
			s.session.cancel()
			s.logger.Info("session cancelled")
			return nil

		case outcomeClosed:
			failure := &TransportError{Message: "stream closed before completion"}
			s.session.fail(failure)
			return failure

		case outcomeTransport:
			failure := &TransportError{Message: "reading stream", Err: readErr}
			s.session.fail(failure)
			return failure

		case outcomeStalled:
			if reconnects >= s.options.MaxReconnects {
				failure := &StallError{
					IdleTimeout: s.options.IdleTimeout,
					Reconnects:  reconnects,
				}
				s.session.fail(failure)
				return failure
			}
			s.session.setState(StateStalled)
			reconnects++
			s.session.recordReconnect()

			backoff := s.backoff(reconnects)
			s.logger.Warn("stream stalled, reconnecting",
				"attempt", reconnects,
				"max_attempts", s.options.MaxReconnects,
				"backoff", backoff,
			)
			if _, waited := await(ctx, s.clk, backoff, (<-chan struct{})(nil)); waited == waitCancelled {
				s.session.cancel()
				return nil
			}
			s.session.setState(StateConnecting)
		}
	}
}

// OpenStream opens a patrol stream with default options and drives it
// to a terminal state. Callers that need session snapshots, capture,
// or tuned timeouts construct a [Supervisor] instead.
func OpenStream(ctx context.Context, request StreamRequest, onEvent func(Event)) error {
	return NewSupervisor(Options{}).Run(ctx, request, onEvent)
}

// backoff returns the delay before reconnect attempt n (1-based):
// base doubling per attempt, capped at BackoffMax.
func (s *Supervisor) backoff(attempt int) time.Duration {
	delay := s.options.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.options.BackoffMax {
			return s.options.BackoffMax
		}
	}
	if delay > s.options.BackoffMax {
		return s.options.BackoffMax
	}
	return delay
}

// connect performs the streaming handshake and returns the response
// body. Non-success status codes become a *TransportError carrying
// the server's reported message.
func (s *Supervisor) connect(ctx context.Context, request StreamRequest) (io.ReadCloser, error) {
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, request.Endpoint, nil)
	if err != nil {
		return nil, &TransportError{Message: "building request", Err: err}
	}
	if request.Header != nil {
		httpRequest.Header = request.Header.Clone()
	}
	httpRequest.Header.Set("Accept", "text/event-stream")
	httpRequest.Header.Set("Cache-Control", "no-cache")

	response, err := s.options.HTTPClient.Do(httpRequest)
	if err != nil {
		return nil, &TransportError{Message: "connecting", Err: err}
	}

	if response.StatusCode != http.StatusOK {
		defer response.Body.Close()
		return nil, readServerError(response)
	}

	s.recordMark("connect", request.Endpoint)
	return response.Body, nil
}

// consume runs the read/decode/dispatch loop over one connection
// until a terminal condition. The body is always closed on return,
// which also unblocks the reader's pump goroutine.
func (s *Supervisor) consume(ctx context.Context, body io.ReadCloser, onEvent func(Event)) (loopOutcome, error) {
	defer body.Close()

	reader := newTimedReader(body, s.clk)
	defer reader.Close()

	var decoder sse.Decoder
	lastProgress := s.clk.Now()
	completionSeen := false
	s.session.setState(StateStreaming)

	for {
		// Bound the wait by both the single-read timeout and
		// whatever remains of the idle budget, so a stall is
		// detected as soon as the budget expires.
		idleRemaining := s.options.IdleTimeout - s.clk.Now().Sub(lastProgress)
		if idleRemaining <= 0 {
			return s.stall(&decoder), nil
		}
		waitBound := s.options.ReadTimeout
		if idleRemaining < waitBound {
			waitBound = idleRemaining
		}

		chunk, err := reader.Next(ctx, waitBound)
		switch {
		case err == nil:

		case errors.Is(err, errReadTimeout):
			// Transient: a single timed-out read is retried until
			// the idle budget is spent. The idle clock is NOT
			// reset here — only byte arrival resets it.
			if s.clk.Now().Sub(lastProgress) >= s.options.IdleTimeout {
				return s.stall(&decoder), nil
			}
			continue

		case errors.Is(err, io.EOF):
			if completionSeen {
				// Clean close after a completion marker was seen:
				// completion wins over treating this as an
				// unexpected close.
				return outcomeCompleted, nil
			}
			return outcomeClosed, nil

		case ctx.Err() != nil:
			return outcomeCancelled, nil

		default:
			return outcomeTransport, err
		}

		lastProgress = s.clk.Now()
		s.session.observeActivity(lastProgress)
		s.recordChunk(lastProgress, chunk)

		for _, message := range decoder.Feed(chunk) {
			if !message.HasData {
				// Comment-only heartbeats and blank messages carry
				// no payload; the byte progress above already
				// refreshed the idle clock.
				continue
			}
			for _, line := range strings.Split(message.Data, "\n") {
				if line == "" {
					continue
				}
				event, parseErr := ParseEvent([]byte(line))
				if parseErr != nil {
					s.logger.Warn("skipping malformed event payload",
						"error", parseErr,
					)
					continue
				}

				switch event.Kind {
				case KindResync:
					s.logger.Info("server resync",
						"reason", event.Reason,
						"seq_start", event.SeqStart,
						"seq_end", event.SeqEnd,
					)
					s.recordMark("resync", event.Reason)
					s.session.beginResync(event)
					s.session.setState(StateStreaming)

				case KindComplete:
					// Dispatch the rest of this batch in order,
					// then finish.
					completionSeen = true

				default:
					s.session.applyEvent(event)
					onEvent(event)
				}
			}
		}

		if completionSeen {
			return outcomeCompleted, nil
		}
	}
}

// stall discards any half-assembled message (a partial message is
// never dispatched) and reports the stalled outcome.
func (s *Supervisor) stall(decoder *sse.Decoder) loopOutcome {
	if decoder.Pending() {
		decoder.Discard()
	}
	s.recordMark("stall", "")
	return outcomeStalled
}

func (s *Supervisor) recordChunk(at time.Time, chunk []byte) {
	if s.options.Recorder == nil {
		return
	}
	if err := s.options.Recorder.RecordChunk(at, chunk); err != nil {
		s.logger.Warn("capture write failed", "error", err)
	}
}

func (s *Supervisor) recordMark(kind, detail string) {
	if s.options.Recorder == nil {
		return
	}
	if err := s.options.Recorder.RecordMark(s.clk.Now(), kind, detail); err != nil {
		s.logger.Warn("capture mark failed", "kind", kind, "error", err)
	}
}

// readServerError parses a rejected handshake body in the common
// {"error":{"type":"...","message":"..."}} format, falling back to
// the raw body text.
func readServerError(response *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))

	var wire struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wire) == nil && wire.Error.Message != "" {
		return &TransportError{
			StatusCode: response.StatusCode,
			Message:    wire.Error.Message,
		}
	}

	return &TransportError{
		StatusCode: response.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}
