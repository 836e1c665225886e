// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vigil-systems/vigil/lib/codec"
	"github.com/vigil-systems/vigil/lib/sse"
)

// Reader iterates the records of a capture file, one segment at a
// time, verifying each segment's digest before its records are
// returned.
type Reader struct {
	in io.Reader
}

// NewReader validates the capture file header and returns a Reader
// positioned at the first segment.
func NewReader(in io.Reader) (*Reader, error) {
	var magic [8]byte
	if _, err := io.ReadFull(in, magic[:]); err != nil {
		return nil, fmt.Errorf("reading capture header: %w", err)
	}
	if !bytes.Equal(magic[:6], fileMagic[:6]) {
		return nil, fmt.Errorf("%w: not a capture file", ErrCorrupt)
	}
	if magic[6] != formatVersion {
		return nil, fmt.Errorf("unsupported capture format version %d", magic[6])
	}
	return &Reader{in: in}, nil
}

// Next returns the records of the next segment, or io.EOF after the
// last one. A truncated or corrupted segment returns an error
// wrapping [ErrCorrupt]; records from earlier segments remain valid.
func (reader *Reader) Next() ([]Record, error) {
	var header [segmentHeaderSize]byte
	if _, err := io.ReadFull(reader.in, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: truncated segment header: %v", ErrCorrupt, err)
	}

	tag := CompressionTag(header[0])
	compressedSize := binary.LittleEndian.Uint32(header[4:8])
	uncompressedSize := binary.LittleEndian.Uint32(header[8:12])
	var digest Digest
	copy(digest[:], header[12:44])

	if uncompressedSize > maxSegmentSize || compressedSize > maxSegmentSize {
		return nil, fmt.Errorf("%w: segment size %d exceeds limit", ErrCorrupt, uncompressedSize)
	}

	compressed := make([]byte, compressedSize)
	if _, err := io.ReadFull(reader.in, compressed); err != nil {
		return nil, fmt.Errorf("%w: truncated segment payload: %v", ErrCorrupt, err)
	}

	payload, err := decompressPayload(compressed, tag, int(uncompressedSize))
	if err != nil {
		return nil, err
	}
	if segmentDigest(payload) != digest {
		return nil, fmt.Errorf("%w: segment digest mismatch", ErrCorrupt)
	}

	var wires []wireRecord
	if err := codec.Unmarshal(payload, &wires); err != nil {
		return nil, fmt.Errorf("%w: decoding segment records: %v", ErrCorrupt, err)
	}

	records := make([]Record, len(wires))
	for i, wire := range wires {
		records[i] = fromWire(wire)
	}
	return records, nil
}

// ReadAll drains the remaining segments into one record slice.
func (reader *Reader) ReadAll() ([]Record, error) {
	var all []Record
	for {
		records, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return all, nil
		}
		if err != nil {
			return all, err
		}
		all = append(all, records...)
	}
}

// Replay re-feeds the captured chunk records through a fresh frame
// decoder and invokes onMessage for every complete message, in
// arrival order — the same framing a live session would have seen.
// Mark records are passed to onMark when it is non-nil.
func Replay(in io.Reader, onMessage func(sse.Message), onMark func(Record)) error {
	reader, err := NewReader(in)
	if err != nil {
		return err
	}

	var decoder sse.Decoder
	for {
		records, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, record := range records {
			switch record.Kind {
			case RecordChunk:
				for _, message := range decoder.Feed(record.Data) {
					if onMessage != nil {
						onMessage(message)
					}
				}
			case RecordMark:
				if onMark != nil {
					onMark(record)
				}
			}
		}
	}
}
