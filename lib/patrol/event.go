// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package patrol

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates event variants. The wire value is the "type"
// field of the JSON payload.
type Kind string

const (
	// KindPhase reports a progress/phase transition of the
	// investigation (e.g. "collecting", "analyzing").
	KindPhase Kind = "phase"

	// KindToolStart reports that the investigation started invoking
	// a named tool.
	KindToolStart Kind = "tool"

	// KindTextDelta carries a streamed fragment of output text.
	KindTextDelta Kind = "text"

	// KindReasoningDelta carries a streamed fragment of the
	// investigation's reasoning trace.
	KindReasoningDelta Kind = "reasoning"

	// KindResult carries the terminal result summary of the
	// investigation. The session is not finished until the server
	// sends the completion marker or closes cleanly afterwards.
	KindResult Kind = "result"

	// KindError reports a server-side error within the
	// investigation. It is an event, not a transport failure: the
	// stream continues.
	KindError Kind = "error"

	// KindResync signals that the server's event buffer rotated and
	// some history is gone. Consumed by the supervisor; never
	// delivered to the caller callback.
	KindResync Kind = "resync"

	// KindComplete is the explicit completion marker ending the
	// session. Consumed by the supervisor.
	KindComplete Kind = "complete"
)

// Event is one decoded domain event from a patrol stream.
type Event struct {
	// Kind selects which of the remaining fields are meaningful.
	Kind Kind

	// Phase is the investigation phase name (KindPhase).
	Phase string

	// Tool is the tool name being invoked (KindToolStart).
	Tool string

	// Text is the streamed fragment (KindTextDelta, KindReasoningDelta).
	Text string

	// Message is the result summary (KindResult) or the server error
	// description (KindError).
	Message string

	// Tokens is the cumulative token count reported by the server,
	// when the event carries one (KindPhase, KindResult). Zero means
	// not reported.
	Tokens int64

	// SeqStart and SeqEnd are the server-reported bounds of its
	// buffered event sequence, when the event carries them. On
	// KindResync they replace the session's range; on other events
	// they may only widen it.
	SeqStart int64
	SeqEnd   int64

	// Reason is the disclosed resync reason (KindResync), for
	// example "buffer_rotated".
	Reason string
}

// Control reports whether the event is a protocol control event
// (resync, completion marker). The supervisor consumes control events
// itself rather than delivering them to the caller; offline consumers
// of captured streams apply the same filter.
func (event Event) Control() bool {
	return event.Kind == KindResync || event.Kind == KindComplete
}

// wireEvent is the JSON payload of one "data:" line.
type wireEvent struct {
	Type     string `json:"type"`
	Phase    string `json:"phase,omitempty"`
	Name     string `json:"name,omitempty"`
	Text     string `json:"text,omitempty"`
	Message  string `json:"message,omitempty"`
	Tokens   int64  `json:"tokens,omitempty"`
	SeqStart int64  `json:"seq_start,omitempty"`
	SeqEnd   int64  `json:"seq_end,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ParseEvent decodes one payload line into an Event. A payload that
// is not valid JSON or names an unknown type returns an error; the
// caller skips the line and the session continues.
func ParseEvent(payload []byte) (Event, error) {
	var wire wireEvent
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Event{}, fmt.Errorf("patrol: parsing event payload: %w", err)
	}

	kind := Kind(wire.Type)
	switch kind {
	case KindPhase, KindToolStart, KindTextDelta, KindReasoningDelta,
		KindResult, KindError, KindResync, KindComplete:
	default:
		return Event{}, fmt.Errorf("patrol: unknown event type %q", wire.Type)
	}

	return Event{
		Kind:     kind,
		Phase:    wire.Phase,
		Tool:     wire.Name,
		Text:     wire.Text,
		Message:  wire.Message,
		Tokens:   wire.Tokens,
		SeqStart: wire.SeqStart,
		SeqEnd:   wire.SeqEnd,
		Reason:   wire.Reason,
	}, nil
}
