// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import "time"

// RecordKind distinguishes the two record types in a capture file.
type RecordKind string

const (
	// RecordChunk carries raw transport bytes exactly as they
	// arrived from the stream, before any framing.
	RecordChunk RecordKind = "chunk"

	// RecordMark carries a lifecycle annotation (connect, stall,
	// resync, complete, cancel) with an optional detail string.
	RecordMark RecordKind = "mark"
)

// Record is one captured observation. Chunk records carry Data; mark
// records carry Mark and Detail.
type Record struct {
	Kind RecordKind

	// At is when the observation was made, at nanosecond precision.
	At time.Time

	// Data is the raw transport bytes (chunk records only).
	Data []byte

	// Mark and Detail describe a lifecycle annotation (mark records
	// only).
	Mark   string
	Detail string
}

// wireRecord is the CBOR shape of a record. Timestamps are stored as
// Unix nanoseconds so the deterministic encoder never rounds them.
type wireRecord struct {
	Kind   string `cbor:"kind"`
	At     int64  `cbor:"at"`
	Data   []byte `cbor:"data,omitempty"`
	Mark   string `cbor:"mark,omitempty"`
	Detail string `cbor:"detail,omitempty"`
}

func toWire(record Record) wireRecord {
	return wireRecord{
		Kind:   string(record.Kind),
		At:     record.At.UnixNano(),
		Data:   record.Data,
		Mark:   record.Mark,
		Detail: record.Detail,
	}
}

func fromWire(wire wireRecord) Record {
	return Record{
		Kind:   RecordKind(wire.Kind),
		At:     time.Unix(0, wire.At).UTC(),
		Data:   wire.Data,
		Mark:   wire.Mark,
		Detail: wire.Detail,
	}
}
