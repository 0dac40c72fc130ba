// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Limits on decoded structure. Channel frames and control requests
// are capped at 1 MiB, so nothing legitimate comes near these.
const (
	maxNesting       = 32
	maxArrayElements = 65536
	maxMapPairs      = 65536
)

var (
	// deterministic follows RFC 8949 core deterministic encoding.
	// Probe digests hash this output.
	deterministic = mustEncMode(cbor.CoreDetEncOptions())

	// tolerant skips unknown fields, so an agent and a worker from
	// different builds still understand each other, and decodes
	// untyped maps with string keys so forwarded log attributes stay
	// printable.
	tolerant = mustDecMode(cbor.DecOptions{
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		MaxNestedLevels:  maxNesting,
		MaxArrayElements: maxArrayElements,
		MaxMapPairs:      maxMapPairs,
	})
)

func mustEncMode(options cbor.EncOptions) cbor.EncMode {
	mode, err := options.EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: invalid CBOR encode options: %v", err))
	}
	return mode
}

func mustDecMode(options cbor.DecOptions) cbor.DecMode {
	mode, err := options.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: invalid CBOR decode options: %v", err))
	}
	return mode
}

type (
	// RawMessage defers decoding of an embedded value.
	RawMessage = cbor.RawMessage
	Encoder    = cbor.Encoder
	Decoder    = cbor.Decoder
)

func Marshal(v any) ([]byte, error) { return deterministic.Marshal(v) }

func Unmarshal(data []byte, v any) error { return tolerant.Unmarshal(data, v) }

// NewEncoder writes a stream of deterministic CBOR items to w.
func NewEncoder(w io.Writer) *Encoder { return deterministic.NewEncoder(w) }

// NewDecoder reads a stream of CBOR items from r.
func NewDecoder(r io.Reader) *Decoder { return tolerant.NewDecoder(r) }
