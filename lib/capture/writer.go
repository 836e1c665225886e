// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vigil-systems/vigil/lib/codec"
)

// defaultSegmentSize is the uncompressed payload size at which a
// pending batch is flushed as a segment. Small enough that a crash
// loses little, large enough that compression has something to work
// with.
const defaultSegmentSize = 64 << 10

// WriterOptions configures a capture Writer. Zero fields take
// defaults.
type WriterOptions struct {
	// Compression selects the segment payload compression. The
	// zero value stores segments uncompressed. Incompressible
	// segments are stored uncompressed regardless of the setting.
	Compression CompressionTag

	// SegmentSize is the uncompressed batch size that triggers a
	// segment flush.
	SegmentSize int
}

// Writer appends capture records to an underlying stream. It batches
// records into segments and flushes a segment whenever the batch
// reaches the configured size; Flush and Close force out a partial
// batch.
//
// Writer implements the supervisor's Recorder interface. Its methods
// are safe for concurrent use, though the supervisor only ever calls
// from one goroutine. After any write error the Writer is poisoned:
// every subsequent call returns the first error.
type Writer struct {
	mu      sync.Mutex
	out     io.Writer
	options WriterOptions

	pending     []wireRecord
	pendingSize int
	err         error
}

// NewWriter writes the capture file header to out and returns a
// Writer appending to it. The caller retains ownership of out and
// closes it after Close.
func NewWriter(out io.Writer, options WriterOptions) (*Writer, error) {
	if options.SegmentSize <= 0 {
		options.SegmentSize = defaultSegmentSize
	}
	if _, err := out.Write(fileMagic[:]); err != nil {
		return nil, fmt.Errorf("writing capture header: %w", err)
	}
	return &Writer{out: out, options: options}, nil
}

// RecordChunk appends a raw transport chunk. The bytes are copied;
// the caller may reuse data.
func (writer *Writer) RecordChunk(at time.Time, data []byte) error {
	record := wireRecord{
		Kind: string(RecordChunk),
		At:   at.UnixNano(),
		Data: append([]byte(nil), data...),
	}
	return writer.append(record, len(data))
}

// RecordMark appends a lifecycle annotation.
func (writer *Writer) RecordMark(at time.Time, kind, detail string) error {
	record := wireRecord{
		Kind:   string(RecordMark),
		At:     at.UnixNano(),
		Mark:   kind,
		Detail: detail,
	}
	return writer.append(record, len(kind)+len(detail))
}

func (writer *Writer) append(record wireRecord, size int) error {
	writer.mu.Lock()
	defer writer.mu.Unlock()
	if writer.err != nil {
		return writer.err
	}

	writer.pending = append(writer.pending, record)
	writer.pendingSize += size + segmentHeaderSize/4 // rough per-record overhead
	if writer.pendingSize >= writer.options.SegmentSize {
		return writer.flushLocked()
	}
	return nil
}

// Flush writes any pending records as a segment. A Flush with no
// pending records is a no-op.
func (writer *Writer) Flush() error {
	writer.mu.Lock()
	defer writer.mu.Unlock()
	if writer.err != nil {
		return writer.err
	}
	return writer.flushLocked()
}

// Close flushes pending records. It does not close the underlying
// stream.
func (writer *Writer) Close() error {
	return writer.Flush()
}

func (writer *Writer) flushLocked() error {
	if len(writer.pending) == 0 {
		return nil
	}

	payload, err := codec.Marshal(writer.pending)
	if err != nil {
		writer.err = fmt.Errorf("encoding capture segment: %w", err)
		return writer.err
	}
	writer.pending = writer.pending[:0]
	writer.pendingSize = 0

	digest := segmentDigest(payload)

	tag := writer.options.Compression
	compressed, err := compressPayload(payload, tag)
	if err == errIncompressible {
		tag = CompressionNone
		compressed = payload
	} else if err != nil {
		writer.err = err
		return writer.err
	}

	var header [segmentHeaderSize]byte
	header[0] = byte(tag)
	// 3 reserved bytes after the tag keep the size fields aligned.
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(compressed)))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	copy(header[12:44], digest[:])

	if _, err := writer.out.Write(header[:]); err != nil {
		writer.err = fmt.Errorf("writing segment header: %w", err)
		return writer.err
	}
	if _, err := writer.out.Write(compressed); err != nil {
		writer.err = fmt.Errorf("writing segment payload: %w", err)
		return writer.err
	}
	return nil
}
