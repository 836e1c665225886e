// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// Capture file format constants.
const (
	// formatVersion is the capture format version carried in the
	// file magic. Version 1 is the initial format.
	formatVersion = 1

	// segmentHeaderSize is the fixed per-segment header: 1-byte
	// compression tag + 3 reserved bytes + 4-byte compressed size
	// + 4-byte uncompressed size + 32-byte payload digest.
	segmentHeaderSize = 44

	// maxSegmentSize bounds the uncompressed payload of a single
	// segment. A reader rejects anything larger before allocating,
	// so a corrupt size field cannot trigger a huge allocation.
	maxSegmentSize = 64 << 20
)

// fileMagic is the 8-byte capture file signature: "VIGCAP" + version
// byte + reserved byte. These values are format constants — changing
// them breaks capture file compatibility.
var fileMagic = [8]byte{'V', 'I', 'G', 'C', 'A', 'P', formatVersion, 0}

// segmentKey is the 32-byte BLAKE3 key for segment payload digests.
// The byte values are the ASCII encoding of the domain name,
// zero-padded to 32 bytes, so the key is inspectable in hex dumps.
var segmentKey = [32]byte{
	'v', 'i', 'g', 'i', 'l', '.', 'c', 'a', 'p', 't', 'u', 'r', 'e', '.',
	's', 'e', 'g', 'm', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Digest is the 32-byte keyed BLAKE3 digest of a segment's
// uncompressed payload.
type Digest [32]byte

// segmentDigest computes the segment-domain digest of uncompressed
// payload bytes. Digests are always computed before compression so
// they stay valid across compression algorithm changes.
func segmentDigest(payload []byte) Digest {
	hasher, err := blake3.NewKeyed(segmentKey[:])
	if err != nil {
		panic("capture: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(payload)
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// ErrCorrupt marks a capture segment that failed validation: a bad
// digest, a size mismatch, or a header that cannot be parsed.
// Earlier, valid segments are unaffected.
var ErrCorrupt = errors.New("capture segment corrupt")

// CompressionTag identifies the compression algorithm of a segment
// payload. Tags are stored in segment headers (1 byte each); the
// values are format constants.
type CompressionTag uint8

const (
	// CompressionNone stores the payload uncompressed. Also the
	// automatic fallback when compression does not shrink the data.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 uses LZ4 block compression: fast, modest
	// ratio, the default for live capture where the writer sits on
	// the stream's hot path.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd uses zstd at the default level: better ratio
	// for the JSON-heavy payloads of a patrol stream, more CPU.
	CompressionZstd CompressionTag = 2
)

// String returns the human-readable name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses a compression tag from its string
// representation, as used in config files and flags.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// errIncompressible signals that compression would not shrink the
// payload; the caller stores it uncompressed instead.
var errIncompressible = errors.New("payload is incompressible")

// compressPayload compresses payload with the requested algorithm.
// Returns errIncompressible when the output would not be smaller.
func compressPayload(payload []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return nil, errIncompressible

	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(payload))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(payload, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock returns 0 when it determines the data is
		// incompressible.
		if written == 0 || written >= len(payload) {
			return nil, errIncompressible
		}
		return destination[:written], nil

	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(payload, nil)
		if len(compressed) >= len(payload) {
			return nil, errIncompressible
		}
		return compressed, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// decompressPayload reverses compressPayload. The uncompressedSize
// comes from the segment header and must match exactly.
func decompressPayload(compressed []byte, tag CompressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(compressed) != uncompressedSize {
			return nil, fmt.Errorf("%w: uncompressed payload size %d does not match header %d",
				ErrCorrupt, len(compressed), uncompressedSize)
		}
		return compressed, nil

	case CompressionLZ4:
		destination := make([]byte, uncompressedSize)
		read, err := lz4.UncompressBlock(compressed, destination)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4 decompress: %v", ErrCorrupt, err)
		}
		if read != uncompressedSize {
			return nil, fmt.Errorf("%w: lz4 payload is %d bytes, header says %d",
				ErrCorrupt, read, uncompressedSize)
		}
		return destination, nil

	case CompressionZstd:
		destination := make([]byte, 0, uncompressedSize)
		result, err := zstdDecoder.DecodeAll(compressed, destination)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd decompress: %v", ErrCorrupt, err)
		}
		if len(result) != uncompressedSize {
			return nil, fmt.Errorf("%w: zstd payload is %d bytes, header says %d",
				ErrCorrupt, len(result), uncompressedSize)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("%w: unsupported compression tag: %d", ErrCorrupt, tag)
	}
}

// zstdEncoder and zstdDecoder are reused across calls to avoid
// repeated initialization overhead. Both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("capture: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("capture: zstd decoder initialization failed: " + err.Error())
	}
}
