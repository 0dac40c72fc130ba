// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/liveprobe/lib/codec"
)

// digestKey is the BLAKE3 keyed-mode domain key for probe digests: the
// ASCII of "liveprobe.probe" zero-padded to 32 bytes. Changing it
// changes every digest.
var digestKey = [32]byte{
	'l', 'i', 'v', 'e', 'p', 'r', 'o', 'b', 'e', '.', 'p', 'r', 'o', 'b', 'e',
}

// Digest returns the hex-encoded BLAKE3 keyed hash of the probe's
// deterministic CBOR encoding. Two probes with equal content always
// produce the same digest, independent of JSON field order in the
// source they were decoded from.
func (p Probe) Digest() (string, error) {
	data, err := codec.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding probe %s for digest: %w", p.ID, err)
	}
	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		return "", fmt.Errorf("creating probe digest hasher: %w", err)
	}
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
