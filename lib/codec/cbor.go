// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the standard CBOR encoding configuration.
//
// Vigil uses two serialization formats with a clear boundary: JSON on
// the wire (patrol stream payloads are JSON by contract) and CBOR for
// internal on-disk formats, currently the session capture journal.
// This package holds the shared encoder and decoder modes so every
// package encodes identically without duplicating configuration.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding, no indefinite-length
// items. The same logical record always produces identical bytes,
// which keeps capture-file digests stable.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding.
var encMode cbor.EncMode

// decMode is the CBOR decoder configured to accept standard CBOR.
// Unknown fields are silently ignored for forward compatibility with
// future capture record revisions.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Capture records never use non-string map keys. When the
		// decode target is any, pick map[string]any rather than the
		// CBOR default map[any]any, which most Go code (and
		// encoding/json) cannot consume.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder is a CBOR stream encoder. Type alias so consumers import
// only lib/codec, not fxamacker/cbor directly.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder.
type Decoder = cbor.Decoder

// RawMessage is a raw encoded CBOR value, usable to delay decoding or
// to splice pre-encoded output.
type RawMessage = cbor.RawMessage

// NewEncoder returns an Encoder writing deterministic CBOR to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a Decoder reading CBOR from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}
