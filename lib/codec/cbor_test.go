// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	Name  string         `cbor:"name"`
	Count int            `cbor:"count"`
	Tags  map[string]int `cbor:"tags,omitempty"`
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	in := sample{Name: "session-7", Count: 3, Tags: map[string]int{"a": 1, "b": 2}}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Name != in.Name || out.Count != in.Count || len(out.Tags) != 2 {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	t.Parallel()

	// Map iteration order must not leak into the encoding.
	in := sample{Tags: map[string]int{"z": 26, "a": 1, "m": 13, "q": 17}}
	first, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 16; i++ {
		again, err := Marshal(in)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding differs between calls:\n%x\n%x", first, again)
		}
	}
}

func TestDecodeIntoAnyUsesStringKeys(t *testing.T) {
	t.Parallel()

	data, err := Marshal(map[string]any{"kind": "phase", "n": 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out any
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := out.(map[string]any); !ok {
		t.Errorf("decoded type = %T, want map[string]any", out)
	}
}
