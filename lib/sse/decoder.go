// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package sse

import (
	"bytes"
	"strings"
)

// messageDelimiter separates messages after line-ending normalization.
var messageDelimiter = []byte("\n\n")

// Message is one decoded SSE message.
type Message struct {
	// Type is the event type from the "event:" field. Empty when the
	// message carried no event field (the SSE default event type).
	Type string

	// Data is the payload assembled from the message's "data:" lines,
	// joined with newlines when a message carries several.
	Data string

	// HasData reports whether the message carried at least one data
	// line. Comment-only and blank messages decode with HasData
	// false and must not be dispatched.
	HasData bool
}

// Decoder splits a chunked byte stream into SSE messages. Feed it the
// bytes from each transport read; it returns the messages those bytes
// completed and keeps any trailing partial message buffered.
//
// Decoder is not safe for concurrent use.
type Decoder struct {
	buffer []byte
}

// Feed appends chunk to the internal buffer and returns all messages
// completed by it, in stream order. A nil or empty chunk returns nil.
func (decoder *Decoder) Feed(chunk []byte) []Message {
	if len(chunk) > 0 {
		decoder.buffer = append(decoder.buffer, chunk...)
	}

	normalized := bytes.ReplaceAll(decoder.buffer, []byte("\r\n"), []byte("\n"))

	// A trailing bare CR may be the first half of a CRLF whose LF is
	// still in flight. Hold it back so the pair normalizes correctly
	// on the next Feed.
	heldCR := false
	if len(normalized) > 0 && normalized[len(normalized)-1] == '\r' {
		heldCR = true
		normalized = normalized[:len(normalized)-1]
	}

	var messages []Message
	for {
		boundary := bytes.Index(normalized, messageDelimiter)
		if boundary < 0 {
			break
		}
		block := normalized[:boundary]
		normalized = normalized[boundary+len(messageDelimiter):]
		messages = append(messages, parseMessage(string(block)))
	}

	decoder.buffer = append(decoder.buffer[:0], normalized...)
	if heldCR {
		decoder.buffer = append(decoder.buffer, '\r')
	}
	return messages
}

// Pending reports whether a partial message is buffered awaiting its
// terminating blank line.
func (decoder *Decoder) Pending() bool {
	return len(decoder.buffer) > 0
}

// Discard drops any buffered partial message. The supervisor calls
// this when a session stalls mid-assembly: a partial message is never
// dispatched.
func (decoder *Decoder) Discard() {
	decoder.buffer = decoder.buffer[:0]
}

// parseMessage extracts the event type and payload from one message
// block. The block has already had line endings normalized and its
// terminating blank line removed.
func parseMessage(block string) Message {
	var message Message
	var dataLines []string

	for _, line := range strings.Split(block, "\n") {
		if line == "" {
			continue
		}

		// Comment and heartbeat lines start with ":".
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if !hasColon {
			// A line with no colon is a field name with empty value.
			field = line
			value = ""
		} else {
			// A single leading space in the value is removed;
			// further spaces are payload.
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			message.HasData = true
		case "event":
			message.Type = value
		case "id", "retry":
			// Recognized fields this consumer does not use.
		default:
			// Unknown fields are ignored per the SSE specification.
		}
	}

	message.Data = strings.Join(dataLines, "\n")
	return message
}
