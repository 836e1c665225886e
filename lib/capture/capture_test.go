// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/vigil-systems/vigil/lib/patrol"
	"github.com/vigil-systems/vigil/lib/sse"
)

// The writer is the standard recorder implementation for the stream
// supervisor.
var _ patrol.Recorder = (*Writer)(nil)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	var file bytes.Buffer
	writer, err := NewWriter(&file, WriterOptions{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	start := time.Unix(1000, 42).UTC()
	if err := writer.RecordMark(start, "connect", "http://example.invalid/stream"); err != nil {
		t.Fatalf("RecordMark: %v", err)
	}
	if err := writer.RecordChunk(start.Add(time.Second), []byte("data: {\"type\":\"phase\"}\n\n")); err != nil {
		t.Fatalf("RecordChunk: %v", err)
	}
	if err := writer.RecordMark(start.Add(2*time.Second), "complete", ""); err != nil {
		t.Fatalf("RecordMark: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reader, err := NewReader(bytes.NewReader(file.Bytes()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].Kind != RecordMark || records[0].Mark != "connect" ||
		records[0].Detail != "http://example.invalid/stream" {
		t.Errorf("records[0] = %+v, want connect mark", records[0])
	}
	if !records[0].At.Equal(start) {
		t.Errorf("records[0].At = %v, want %v (nanosecond precision)", records[0].At, start)
	}
	if records[1].Kind != RecordChunk || !bytes.Equal(records[1].Data, []byte("data: {\"type\":\"phase\"}\n\n")) {
		t.Errorf("records[1] = %+v, want the chunk bytes back", records[1])
	}
	if records[2].Mark != "complete" {
		t.Errorf("records[2] = %+v, want complete mark", records[2])
	}
}

func TestMultipleSegments(t *testing.T) {
	t.Parallel()

	var file bytes.Buffer
	// A tiny segment size forces a flush after nearly every record.
	writer, err := NewWriter(&file, WriterOptions{SegmentSize: 32})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	at := time.Unix(0, 0)
	const count = 50
	for i := 0; i < count; i++ {
		chunk := bytes.Repeat([]byte{byte('a' + i%26)}, 40)
		if err := writer.RecordChunk(at.Add(time.Duration(i)*time.Millisecond), chunk); err != nil {
			t.Fatalf("RecordChunk %d: %v", i, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reader, err := NewReader(bytes.NewReader(file.Bytes()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	segments := 0
	total := 0
	for {
		records, err := reader.Next()
		if err != nil {
			break
		}
		segments++
		total += len(records)
	}
	if segments < 2 {
		t.Errorf("got %d segments, want several", segments)
	}
	if total != count {
		t.Errorf("got %d records across segments, want %d", total, count)
	}
}

func TestCompressionTags(t *testing.T) {
	t.Parallel()

	// Repetitive text compresses under every algorithm; the reader
	// must not care which one wrote the file.
	chunk := bytes.Repeat([]byte("data: {\"type\":\"text\",\"text\":\"aaaa\"}\n\n"), 100)

	for _, tag := range []CompressionTag{CompressionNone, CompressionLZ4, CompressionZstd} {
		tag := tag
		t.Run(tag.String(), func(t *testing.T) {
			t.Parallel()

			var file bytes.Buffer
			writer, err := NewWriter(&file, WriterOptions{Compression: tag})
			if err != nil {
				t.Fatalf("NewWriter: %v", err)
			}
			if err := writer.RecordChunk(time.Unix(0, 0), chunk); err != nil {
				t.Fatalf("RecordChunk: %v", err)
			}
			if err := writer.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			reader, err := NewReader(bytes.NewReader(file.Bytes()))
			if err != nil {
				t.Fatalf("NewReader: %v", err)
			}
			records, err := reader.ReadAll()
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if len(records) != 1 || !bytes.Equal(records[0].Data, chunk) {
				t.Errorf("round trip under %s lost the chunk", tag)
			}
		})
	}
}

func TestIncompressibleFallsBackToNone(t *testing.T) {
	t.Parallel()

	// Random bytes defeat LZ4; the writer must store the segment
	// uncompressed rather than fail or grow it.
	random := make([]byte, 4096)
	rand.New(rand.NewSource(7)).Read(random)

	var file bytes.Buffer
	writer, err := NewWriter(&file, WriterOptions{Compression: CompressionLZ4})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := writer.RecordChunk(time.Unix(0, 0), random); err != nil {
		t.Fatalf("RecordChunk: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reader, err := NewReader(bytes.NewReader(file.Bytes()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 1 || !bytes.Equal(records[0].Data, random) {
		t.Error("incompressible chunk did not round trip")
	}
}

func TestCorruptionDetected(t *testing.T) {
	t.Parallel()

	var file bytes.Buffer
	writer, err := NewWriter(&file, WriterOptions{Compression: CompressionNone})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := writer.RecordChunk(time.Unix(0, 0), []byte("data: hello\n\n")); err != nil {
		t.Fatalf("RecordChunk: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Flip one payload byte past the file header and segment header.
	corrupted := append([]byte(nil), file.Bytes()...)
	corrupted[len(corrupted)-1] ^= 0xff

	reader, err := NewReader(bytes.NewReader(corrupted))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := reader.Next(); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Next on corrupted segment = %v, want ErrCorrupt", err)
	}
}

func TestTruncationDetected(t *testing.T) {
	t.Parallel()

	var file bytes.Buffer
	writer, err := NewWriter(&file, WriterOptions{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := writer.RecordChunk(time.Unix(0, 0), bytes.Repeat([]byte("x"), 1000)); err != nil {
		t.Fatalf("RecordChunk: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	truncated := file.Bytes()[:file.Len()-10]
	reader, err := NewReader(bytes.NewReader(truncated))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := reader.Next(); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Next on truncated segment = %v, want ErrCorrupt", err)
	}
}

func TestNotACaptureFile(t *testing.T) {
	t.Parallel()

	if _, err := NewReader(bytes.NewReader([]byte("GIF89a something"))); !errors.Is(err, ErrCorrupt) {
		t.Errorf("NewReader on foreign bytes = %v, want ErrCorrupt", err)
	}
}

func TestReplayMatchesLiveFraming(t *testing.T) {
	t.Parallel()

	// The same SSE byte stream, split at awkward boundaries, must
	// produce identical messages live and on replay.
	stream := "data: {\"type\":\"phase\",\"phase\":\"triage\"}\n\n" +
		": keep-alive\n\n" +
		"data: {\"type\":\"text\",\"text\":\"line one\"}\ndata: {\"type\":\"text\"}\n\n" +
		"data: {\"type\":\"complete\"}\n\n"
	chunks := [][]byte{
		[]byte(stream[:13]),
		[]byte(stream[13:14]),
		[]byte(stream[14:51]),
		[]byte(stream[51:]),
	}

	var live []sse.Message
	var liveDecoder sse.Decoder
	for _, chunk := range chunks {
		live = append(live, liveDecoder.Feed(chunk)...)
	}

	var file bytes.Buffer
	writer, err := NewWriter(&file, WriterOptions{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	at := time.Unix(0, 0)
	for i, chunk := range chunks {
		if err := writer.RecordChunk(at.Add(time.Duration(i)*time.Second), chunk); err != nil {
			t.Fatalf("RecordChunk %d: %v", i, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var replayed []sse.Message
	err = Replay(bytes.NewReader(file.Bytes()), func(message sse.Message) {
		replayed = append(replayed, message)
	}, nil)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if len(replayed) != len(live) {
		t.Fatalf("replay produced %d messages, live produced %d", len(replayed), len(live))
	}
	for i := range live {
		if replayed[i] != live[i] {
			t.Errorf("message %d: replay %+v, live %+v", i, replayed[i], live[i])
		}
	}
}

func TestWriterPoisonedAfterError(t *testing.T) {
	t.Parallel()

	writer, err := NewWriter(&failingWriter{limit: 8}, WriterOptions{SegmentSize: 1})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	// The first flush hits the write error; every later call must
	// return it rather than silently dropping records.
	first := writer.RecordChunk(time.Unix(0, 0), []byte("x"))
	if first == nil {
		t.Fatal("RecordChunk on failing writer succeeded")
	}
	if second := writer.RecordChunk(time.Unix(0, 0), []byte("y")); !errors.Is(second, errWriteFailed) {
		t.Errorf("second RecordChunk = %v, want the original write error", second)
	}
}

var errWriteFailed = errors.New("disk full")

// failingWriter accepts limit bytes (enough for the file header),
// then fails.
type failingWriter struct {
	written int
	limit   int
}

func (fw *failingWriter) Write(p []byte) (int, error) {
	if fw.written+len(p) > fw.limit {
		return 0, errWriteFailed
	}
	fw.written += len(p)
	return len(p), nil
}
