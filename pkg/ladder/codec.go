// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package ladder

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// CodecSuffix is the registered codec suffix in chunk blob names.
const CodecSuffix = "zst"

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	// SpeedFastest keeps decompression well under a millisecond for a
	// 10-minute chunk while still roughly halving seismic int32 data.
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic(err)
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
}

// Compress encodes samples as little-endian int32 bytes and compresses them.
// The blob carries no extra framing: the uncompressed length is samples*4.
func Compress(samples []int32) []byte {
	raw := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(raw[4*i:], uint32(s))
	}
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

// Decompress restores exactly numSamples int32 values from a chunk blob.
func Decompress(data []byte, numSamples int) ([]int32, error) {
	raw, err := decoder.DecodeAll(data, make([]byte, 0, 4*numSamples))
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	if len(raw) != 4*numSamples {
		return nil, fmt.Errorf("decoded %d bytes, expected %d", len(raw), 4*numSamples)
	}
	samples := make([]int32, numSamples)
	for i := range samples {
		samples[i] = int32(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return samples, nil
}
